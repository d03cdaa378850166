package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/adreach/settlement_service/internal/api/middleware"
	"github.com/adreach/settlement_service/internal/domain/entities"
	apperrors "github.com/adreach/settlement_service/internal/domain/errors"
	"github.com/adreach/settlement_service/pkg/logger"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
	adminRole        = "admin"
)

// getRequestID extracts request ID from context
func getRequestID(c *gin.Context) string {
	if reqID, exists := c.Get("request_id"); exists {
		if id, ok := reqID.(string); ok {
			return id
		}
	}
	return ""
}

// getAuthenticatedUser returns the caller's user ID when a token was presented.
func getAuthenticatedUser(c *gin.Context) (uuid.UUID, bool) {
	v, exists := c.Get(middleware.ContextUserID)
	if !exists {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok && id != uuid.Nil
}

func isAdmin(c *gin.Context) bool {
	return c.GetString(middleware.ContextRole) == adminRole
}

// authorizeUser rejects authenticated callers acting on another user's data.
// Anonymous requests pass; the router decides whether tokens are mandatory.
func authorizeUser(c *gin.Context, owner uuid.UUID) bool {
	caller, ok := getAuthenticatedUser(c)
	if !ok || caller == owner || isAdmin(c) {
		return true
	}
	respondForbidden(c, "Access to another user's deposits is not allowed")
	return false
}

// respondError sends a standardized error response
func respondError(c *gin.Context, status int, code, message string, details map[string]interface{}) {
	if details == nil {
		details = map[string]interface{}{}
	}
	if requestID := getRequestID(c); requestID != "" {
		details["request_id"] = requestID
	}
	c.JSON(status, entities.ErrorResponse{
		Code:    code,
		Message: message,
		Details: details,
	})
}

// respondBadRequest sends a bad request error
func respondBadRequest(c *gin.Context, message string, details ...map[string]interface{}) {
	var det map[string]interface{}
	if len(details) > 0 {
		det = details[0]
	}
	respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, message, det)
}

func respondNotFound(c *gin.Context, message string) {
	respondError(c, http.StatusNotFound, ErrCodeNotFound, message, nil)
}

func respondForbidden(c *gin.Context, message string) {
	respondError(c, http.StatusForbidden, ErrCodeForbidden, message, nil)
}

func respondInternalError(c *gin.Context, message string) {
	respondError(c, http.StatusInternalServerError, ErrCodeInternalError, message, nil)
}

// copyDetails keeps the domain error's map untouched when request_id is added.
func copyDetails(err error) map[string]interface{} {
	src := apperrors.GetErrorDetails(err)
	out := make(map[string]interface{}, len(src)+1)
	for k, v := range src {
		out[k] = v
	}
	return out
}

func messageOf(err error, fallback string) string {
	var de *apperrors.DomainError
	if errors.As(err, &de) && de.Message != "" {
		return de.Message
	}
	return fallback
}

// respondDomainError maps the settlement error taxonomy onto HTTP statuses.
func respondDomainError(c *gin.Context, log *logger.Logger, err error) {
	code := apperrors.GetErrorCode(err)
	switch {
	case apperrors.IsInvalidInput(err):
		respondError(c, http.StatusBadRequest, code, messageOf(err, "Invalid request"), copyDetails(err))
	case apperrors.IsDuplicateTransaction(err):
		respondError(c, http.StatusConflict, code, messageOf(err, "Duplicate transaction"), copyDetails(err))
	case apperrors.IsNotFound(err):
		respondError(c, http.StatusNotFound, code, messageOf(err, "Not found"), copyDetails(err))
	case apperrors.IsConflict(err), apperrors.IsAlreadyExists(err):
		respondError(c, http.StatusConflict, ErrCodeConflict, messageOf(err, "Conflict"), copyDetails(err))
	case apperrors.IsLedgerConsistency(err):
		details := copyDetails(err)
		details["status"] = string(entities.IntentStatusPending)
		delete(details, "cause")
		log.Error("Settlement rolled back", "error", err, "request_id", getRequestID(c))
		c.Header("Retry-After", "5")
		respondError(c, http.StatusServiceUnavailable, code, messageOf(err, "Settlement could not be committed"), details)
	case apperrors.IsServiceUnavailable(err), apperrors.IsRetryable(err):
		details := copyDetails(err)
		delete(details, "cause")
		log.Warn("Dependency unavailable", "error", err, "request_id", getRequestID(c))
		c.Header("Retry-After", "5")
		respondError(c, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, messageOf(err, "Service temporarily unavailable"), details)
	default:
		log.Error("Unhandled error", "error", err, "request_id", getRequestID(c))
		respondInternalError(c, "Internal server error")
	}
}

// parsePage reads limit/offset query parameters, clamping the limit.
func parsePage(c *gin.Context) (int, int) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultPageLimit)))
	if err != nil || limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

func parseUUIDParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidID, "Invalid "+name, map[string]interface{}{"field": name})
		return uuid.Nil, false
	}
	return id, true
}
