// Package notifications fans settlement events out to downstream consumers.
// Delivery is best-effort: a failed publish is logged and never changes the
// outcome of the settlement that produced the event.
package notifications

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/adreach/settlement_service/internal/domain/entities"
	"github.com/adreach/settlement_service/pkg/retry"
)

const defaultPublishTimeout = 5 * time.Second

// Publisher delivers one event to one destination.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, event entities.SettlementEvent) error
}

// Dispatcher sends every event to all publishers, retrying transient failures.
type Dispatcher struct {
	publishers []Publisher
	policy     retry.Policy
	timeout    time.Duration
	logger     *zap.Logger
}

func NewDispatcher(logger *zap.Logger, publishers ...Publisher) *Dispatcher {
	policy := retry.DefaultPolicy()
	// every publish error is worth one more try
	policy.RetryableFunc = func(error) bool { return true }
	return &Dispatcher{
		publishers: publishers,
		policy:     policy,
		timeout:    defaultPublishTimeout,
		logger:     logger,
	}
}

// Notify publishes the event. The caller's context is detached so that a
// finished HTTP request does not cancel delivery.
func (d *Dispatcher) Notify(ctx context.Context, event entities.SettlementEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	defer cancel()

	for _, p := range d.publishers {
		p := p
		err := retry.Do(ctx, d.policy, d.logger, func() error {
			return p.Publish(ctx, event)
		})
		if err != nil {
			d.logger.Error("Failed to publish settlement event",
				zap.String("publisher", p.Name()),
				zap.String("intent_id", event.IntentID.String()),
				zap.String("status", string(event.Status)),
				zap.Error(err))
		}
	}
}

// LogPublisher writes events to the service log.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (l *LogPublisher) Name() string { return "log" }

func (l *LogPublisher) Publish(_ context.Context, event entities.SettlementEvent) error {
	l.logger.Info("Settlement event",
		zap.String("intent_id", event.IntentID.String()),
		zap.String("user_id", event.UserID.String()),
		zap.String("asset", string(event.Asset)),
		zap.String("amount", event.Amount),
		zap.String("status", string(event.Status)),
		zap.String("reason", event.Reason),
		zap.String("transaction_reference", event.TransactionReference))
	return nil
}
