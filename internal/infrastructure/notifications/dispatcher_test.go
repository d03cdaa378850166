package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/adreach/settlement_service/internal/domain/entities"
	"github.com/adreach/settlement_service/pkg/retry"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Name() string { return "mock" }

func (m *MockPublisher) Publish(ctx context.Context, event entities.SettlementEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func settledEvent() entities.SettlementEvent {
	return entities.SettlementEvent{
		IntentID:             uuid.New(),
		UserID:               uuid.New(),
		Asset:                entities.AssetUSDTTRC20,
		Amount:               "50.000000",
		Status:               entities.IntentStatusSettled,
		TransactionReference: "7c2d4206c03a883dd9066d920a6cd7a2ee61bbd1b8e2c65b5c6cad8fa2d2b1c9",
		OccurredAt:           time.Now().UTC(),
	}
}

func fastDispatcher(publishers ...Publisher) *Dispatcher {
	d := NewDispatcher(zap.NewNop(), publishers...)
	d.policy = retry.Policy{
		MaxRetries:    2,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
		Multiplier:    1,
		RetryableFunc: func(error) bool { return true },
	}
	return d
}

func TestDispatcher_RetriesThenDelivers(t *testing.T) {
	event := settledEvent()
	flaky := new(MockPublisher)
	flaky.On("Publish", mock.Anything, event).Return(errors.New("connection reset")).Once()
	flaky.On("Publish", mock.Anything, event).Return(nil).Once()

	fastDispatcher(flaky).Notify(context.Background(), event)

	flaky.AssertNumberOfCalls(t, "Publish", 2)
}

func TestDispatcher_FailureDoesNotStopOtherPublishers(t *testing.T) {
	event := settledEvent()
	broken := new(MockPublisher)
	broken.On("Publish", mock.Anything, event).Return(errors.New("down"))
	healthy := new(MockPublisher)
	healthy.On("Publish", mock.Anything, event).Return(nil).Once()

	fastDispatcher(broken, healthy).Notify(context.Background(), event)

	broken.AssertNumberOfCalls(t, "Publish", 3)
	healthy.AssertExpectations(t)
}

func TestDispatcher_SurvivesCancelledCaller(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	event := settledEvent()
	p := new(MockPublisher)
	p.On("Publish", mock.Anything, event).Return(nil).Once()

	fastDispatcher(p).Notify(ctx, event)
	p.AssertExpectations(t)
}

type fakeRedis struct {
	channel string
	payload []byte
	err     error
}

func (f *fakeRedis) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	cmd := redis.NewIntCmd(ctx)
	if f.err != nil {
		cmd.SetErr(f.err)
	} else {
		cmd.SetVal(1)
	}
	return cmd
}

func TestRedisPublisher(t *testing.T) {
	fake := &fakeRedis{}
	pub := &RedisPublisher{client: fake, channel: "settlement.events"}
	event := settledEvent()

	require.NoError(t, pub.Publish(context.Background(), event))
	assert.Equal(t, "settlement.events", fake.channel)

	var decoded entities.SettlementEvent
	require.NoError(t, json.Unmarshal(fake.payload, &decoded))
	assert.Equal(t, event.IntentID, decoded.IntentID)
	assert.Equal(t, entities.IntentStatusSettled, decoded.Status)

	fake.err = errors.New("READONLY")
	assert.Error(t, pub.Publish(context.Background(), event))
}

type fakeSNS struct {
	input *sns.PublishInput
}

func (f *fakeSNS) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	f.input = params
	return &sns.PublishOutput{}, nil
}

func TestSNSPublisher(t *testing.T) {
	fake := &fakeSNS{}
	pub := &SNSPublisher{client: fake, topicARN: "arn:aws:sns:us-east-1:123456789012:settlements"}
	event := settledEvent()

	require.NoError(t, pub.Publish(context.Background(), event))
	require.NotNil(t, fake.input)
	assert.Equal(t, "arn:aws:sns:us-east-1:123456789012:settlements", *fake.input.TopicArn)
	assert.Equal(t, "settled", *fake.input.MessageAttributes["status"].StringValue)
	assert.Contains(t, *fake.input.Message, event.IntentID.String())
}
