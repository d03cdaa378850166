package settlement_poller

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/adreach/settlement_service/internal/domain/services/settlement"
)

const defaultRunTimeout = 2 * time.Minute

// PendingProcessor re-verifies pending intents that carry a transaction reference
type PendingProcessor interface {
	ProcessPending(ctx context.Context) (settlement.PollSummary, error)
}

// Config holds poller configuration
type Config struct {
	// Schedule is a cron spec or descriptor such as "@every 30s".
	Schedule   string
	RunTimeout time.Duration
}

// Worker settles intents whose payment finalised after the client stopped
// asking, e.g. a webhook that was lost or a user who closed the app.
type Worker struct {
	processor PendingProcessor
	config    Config
	cron      *cron.Cron
	logger    *zap.Logger

	// ctx is cancelled on shutdown so an in-flight pass stops between intents.
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func NewWorker(processor PendingProcessor, config Config, logger *zap.Logger) *Worker {
	if config.RunTimeout <= 0 {
		config.RunTimeout = defaultRunTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		processor: processor,
		config:    config,
		cron:      cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DefaultLogger))),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (w *Worker) Start() error {
	if _, err := w.cron.AddFunc(w.config.Schedule, w.RunOnce); err != nil {
		return err
	}
	w.cron.Start()
	w.logger.Info("Settlement poller started", zap.String("schedule", w.config.Schedule))
	return nil
}

// RunOnce performs a single pass. Errors are logged; the next tick retries.
func (w *Worker) RunOnce() {
	ctx, cancel := context.WithTimeout(w.ctx, w.config.RunTimeout)
	defer cancel()

	start := time.Now()
	summary, err := w.processor.ProcessPending(ctx)
	if err != nil {
		w.logger.Error("Settlement poll failed", zap.Error(err))
		return
	}
	if summary.Checked > 0 {
		w.logger.Debug("Settlement poll completed",
			zap.Int("checked", summary.Checked),
			zap.Int("settled", summary.Settled),
			zap.Int("errors", summary.Errors),
			zap.Duration("took", time.Since(start)))
	}
}

// Shutdown stops scheduling and waits for a running pass to return.
func (w *Worker) Shutdown(ctx context.Context) error {
	w.once.Do(w.cancel)
	done := w.cron.Stop().Done()
	select {
	case <-done:
		w.logger.Info("Settlement poller stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
