package intent_expiry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/adreach/settlement_service/pkg/logger"
)

type MockExpirer struct {
	mock.Mock
}

func (m *MockExpirer) ExpireStale(ctx context.Context, cutoff time.Time) (int, error) {
	args := m.Called(ctx, cutoff)
	return args.Int(0), args.Error(1)
}

func TestRunOnce_UsesTTLCutoff(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	expirer := new(MockExpirer)
	expirer.On("ExpireStale", mock.Anything, now.Add(-30*time.Minute)).Return(3, nil).Once()

	w := NewWorker(expirer, &Config{TTL: 30 * time.Minute, CheckInterval: time.Hour}, logger.NewNop())
	w.now = func() time.Time { return now }
	w.RunOnce(context.Background())

	expirer.AssertExpectations(t)
}

func TestRunOnce_ErrorIsLogged(t *testing.T) {
	expirer := new(MockExpirer)
	expirer.On("ExpireStale", mock.Anything, mock.Anything).Return(0, errors.New("database down")).Once()

	w := NewWorker(expirer, nil, logger.NewNop())
	assert.NotPanics(t, func() { w.RunOnce(context.Background()) })
	expirer.AssertExpectations(t)
}

func TestStart_RunsImmediatelyAndStops(t *testing.T) {
	ran := make(chan struct{}, 1)
	expirer := new(MockExpirer)
	expirer.On("ExpireStale", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		select {
		case ran <- struct{}{}:
		default:
		}
	}).Return(0, nil)

	w := NewWorker(expirer, &Config{TTL: time.Hour, CheckInterval: time.Hour}, logger.NewNop())
	go w.Start(context.Background())

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("expiry pass did not run on start")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, w.Shutdown(ctx))
	// a second shutdown is harmless
	require.NoError(t, w.Shutdown(ctx))
}

func TestStart_StopsOnContextCancel(t *testing.T) {
	expirer := new(MockExpirer)
	expirer.On("ExpireStale", mock.Anything, mock.Anything).Return(0, nil)

	w := NewWorker(expirer, &Config{TTL: time.Hour, CheckInterval: 10 * time.Millisecond}, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
