package settlement

import (
	"context"
	"time"

	"github.com/adreach/settlement_service/internal/domain/entities"
	apperrors "github.com/adreach/settlement_service/internal/domain/errors"
	"github.com/adreach/settlement_service/internal/domain/repositories"
	"github.com/adreach/settlement_service/internal/infrastructure/chain"
)

// PollSummary counts the outcomes of one ProcessPending pass.
type PollSummary struct {
	Checked      int
	Settled      int
	Failed       int
	StillPending int
	Errors       int
}

// scanPending walks every pending intent matching q a page at a time, so
// rows that stay pending cannot hide the ones behind them. The walk stops
// when fn returns an error.
func (e *Engine) scanPending(ctx context.Context, q repositories.PendingQuery, fn func(*entities.PaymentIntent) error) error {
	if q.Limit <= 0 {
		q.Limit = DefaultEngineConfig().PollBatchSize
	}
	for {
		page, err := e.store.Intents().ListPending(ctx, q)
		if err != nil {
			return err
		}
		for _, intent := range page {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(intent); err != nil {
				return err
			}
		}
		if len(page) < q.Limit {
			return nil
		}
		q.After = repositories.CursorAt(page[len(page)-1])
	}
}

// ProcessPending re-verifies pending intents that already carry a reference.
// One intent's error never stops the pass.
func (e *Engine) ProcessPending(ctx context.Context) (PollSummary, error) {
	var summary PollSummary

	err := e.scanPending(ctx, repositories.PendingQuery{
		CreatedBefore: e.now().Add(-e.config.PollMinAge),
		BoundOnly:     true,
		Limit:         e.config.PollBatchSize,
	}, func(intent *entities.PaymentIntent) error {
		summary.Checked++

		result, err := e.VerifyAndSettle(ctx, intent.ID, intent.Reference())
		if err != nil {
			summary.Errors++
			e.logger.Warn("Pending intent verification failed",
				"intent_id", intent.ID,
				"error", err)
			return nil
		}
		switch result.Status {
		case entities.IntentStatusSettled:
			summary.Settled++
		case entities.IntentStatusFailed:
			summary.Failed++
		default:
			summary.StillPending++
		}
		return nil
	})
	if err != nil {
		return summary, err
	}

	if summary.Checked > 0 {
		e.logger.Info("Processed pending intents",
			"checked", summary.Checked,
			"settled", summary.Settled,
			"failed", summary.Failed,
			"pending", summary.StillPending,
			"errors", summary.Errors)
	}
	return summary, nil
}

// ExpireStale fails pending intents created before cutoff that were never
// paid. An intent without a reference expires outright; one with a reference
// expires only when the chain says it has never seen the transaction. A chain
// that cannot be reached never expires anything.
func (e *Engine) ExpireStale(ctx context.Context, cutoff time.Time) (int, error) {
	expired := 0
	err := e.scanPending(ctx, repositories.PendingQuery{
		CreatedBefore: cutoff,
		Limit:         e.config.PollBatchSize,
	}, func(intent *entities.PaymentIntent) error {
		reason, ok := e.expiryReason(ctx, intent)
		if !ok {
			return nil
		}

		updated, transitioned, err := e.store.Intents().MarkFailed(ctx, intent.ID, reason, e.now())
		if err != nil {
			e.logger.Warn("Failed to expire intent", "intent_id", intent.ID, "error", err)
			return nil
		}
		if !transitioned {
			return nil
		}
		expired++
		e.metrics.Expired(string(intent.Asset), reason)
		e.logger.Info("Deposit intent expired",
			"intent_id", intent.ID,
			"reference", intent.Reference(),
			"reason", reason)
		e.notify(ctx, updated)
		return nil
	})
	return expired, err
}

// expiryReason decides whether a stale intent should fail. A reference the
// chain has since finalized or reverted goes through normal verification
// instead, so late payments still settle.
func (e *Engine) expiryReason(ctx context.Context, intent *entities.PaymentIntent) (string, bool) {
	if intent.Reference() == "" {
		return entities.FailureReasonExpired, true
	}

	spec, _ := intent.Asset.Spec()
	client, err := e.chains.ForAsset(spec)
	if err != nil {
		return "", false
	}

	conf, err := e.confirm(ctx, client, intent.Reference(), spec)
	if err != nil {
		return "", false
	}

	switch conf.State {
	case chain.TxStateNotFound:
		return entities.FailureReasonNotFound, true
	case chain.TxStateFinalized, chain.TxStateReverted:
		if _, err := e.VerifyAndSettle(ctx, intent.ID, intent.Reference()); err != nil && !apperrors.IsLedgerConsistency(err) {
			e.logger.Warn("Late verification failed", "intent_id", intent.ID, "error", err)
		}
	}
	return "", false
}
