package graceful

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/adreach/settlement_service/pkg/logger"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestShutdown_Order(t *testing.T) {
	var order []string
	sm := NewShutdownManager(&http.Server{}, logger.NewNop())
	sm.Register(ShutdownFunc(func(context.Context) error {
		order = append(order, "poller")
		return nil
	}))
	sm.Register(ShutdownFunc(func(context.Context) error {
		order = append(order, "expiry")
		return errors.New("already stopped")
	}))
	sm.RegisterCloser(closerFunc(func() error {
		order = append(order, "database")
		return nil
	}))

	sm.Shutdown()

	assert.Equal(t, []string{"poller", "expiry", "database"}, order)
}
