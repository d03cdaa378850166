package settlement_poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adreach/settlement_service/internal/domain/services/settlement"
)

type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) ProcessPending(ctx context.Context) (settlement.PollSummary, error) {
	args := m.Called(ctx)
	return args.Get(0).(settlement.PollSummary), args.Error(1)
}

type countingProcessor struct {
	calls atomic.Int32
}

func (c *countingProcessor) ProcessPending(context.Context) (settlement.PollSummary, error) {
	c.calls.Add(1)
	return settlement.PollSummary{}, nil
}

func TestRunOnce_PassesDeadline(t *testing.T) {
	processor := new(MockProcessor)
	processor.On("ProcessPending", mock.MatchedBy(func(ctx context.Context) bool {
		_, ok := ctx.Deadline()
		return ok
	})).Return(settlement.PollSummary{Checked: 2, Settled: 1, StillPending: 1}, nil).Once()

	w := NewWorker(processor, Config{Schedule: "@every 1h", RunTimeout: time.Second}, zap.NewNop())
	w.RunOnce()

	processor.AssertExpectations(t)
}

func TestRunOnce_ErrorIsSwallowed(t *testing.T) {
	processor := new(MockProcessor)
	processor.On("ProcessPending", mock.Anything).Return(settlement.PollSummary{}, errors.New("database down")).Once()

	w := NewWorker(processor, Config{Schedule: "@every 1h"}, zap.NewNop())
	assert.NotPanics(t, w.RunOnce)
	processor.AssertExpectations(t)
}

func TestStart_InvalidSchedule(t *testing.T) {
	w := NewWorker(&countingProcessor{}, Config{Schedule: "not a schedule"}, zap.NewNop())
	assert.Error(t, w.Start())
}

func TestStart_RunsOnSchedule(t *testing.T) {
	processor := &countingProcessor{}
	w := NewWorker(processor, Config{Schedule: "@every 1s"}, zap.NewNop())
	require.NoError(t, w.Start())

	assert.Eventually(t, func() bool { return processor.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Shutdown(ctx))

	// no passes after shutdown
	after := processor.calls.Load()
	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, after, processor.calls.Load())
}

func TestShutdown_CancelsRunningPass(t *testing.T) {
	started := make(chan struct{})
	processor := new(MockProcessor)
	processor.On("ProcessPending", mock.Anything).Run(func(args mock.Arguments) {
		close(started)
		<-args.Get(0).(context.Context).Done()
	}).Return(settlement.PollSummary{}, context.Canceled).Once()

	w := NewWorker(processor, Config{Schedule: "@every 1h", RunTimeout: time.Minute}, zap.NewNop())
	go w.RunOnce()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, w.Shutdown(ctx))
}
