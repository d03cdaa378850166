package intent_expiry

import (
	"context"
	"time"

	"github.com/adreach/settlement_service/pkg/logger"
)

// Expirer fails unpaid intents created before cutoff
type Expirer interface {
	ExpireStale(ctx context.Context, cutoff time.Time) (int, error)
}

// Config holds worker configuration
type Config struct {
	TTL           time.Duration
	CheckInterval time.Duration
}

// DefaultConfig returns default worker configuration
func DefaultConfig() *Config {
	return &Config{
		TTL:           time.Hour,
		CheckInterval: 5 * time.Minute,
	}
}

// Worker expires payment intents that were never paid
type Worker struct {
	expirer       Expirer
	ttl           time.Duration
	checkInterval time.Duration
	logger        *logger.Logger
	now           func() time.Time
	stopCh        chan struct{}
	doneCh        chan struct{}
}

// NewWorker creates a new intent expiry worker
func NewWorker(expirer Expirer, config *Config, logger *logger.Logger) *Worker {
	if config == nil {
		config = DefaultConfig()
	}
	return &Worker{
		expirer:       expirer,
		ttl:           config.TTL,
		checkInterval: config.CheckInterval,
		logger:        logger,
		now:           time.Now,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start runs the worker until ctx is cancelled or Shutdown is called
func (w *Worker) Start(ctx context.Context) {
	defer close(w.doneCh)

	w.logger.Info("Starting intent expiry worker",
		"ttl", w.ttl.String(),
		"check_interval", w.checkInterval.String())

	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()

	// Run immediately on start
	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Intent expiry worker stopped (context cancelled)")
			return
		case <-w.stopCh:
			w.logger.Info("Intent expiry worker stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// Shutdown signals the worker and waits for the current pass to finish
func (w *Worker) Shutdown(ctx context.Context) error {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	select {
	case <-w.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce expires everything older than the TTL (for testing or manual trigger)
func (w *Worker) RunOnce(ctx context.Context) {
	cutoff := w.now().UTC().Add(-w.ttl)

	expired, err := w.expirer.ExpireStale(ctx, cutoff)
	if err != nil {
		w.logger.Error("Failed to expire stale intents",
			"cutoff", cutoff.Format(time.RFC3339),
			"error", err)
		return
	}
	if expired > 0 {
		w.logger.Info("Expired stale intents",
			"count", expired,
			"cutoff", cutoff.Format(time.RFC3339))
	}
}
