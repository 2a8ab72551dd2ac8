package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailcampaign/internal/models"
	"mailcampaign/internal/progress"
)

// fakeAcknowledger records how a delivery was settled
type fakeAcknowledger struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acked = true
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return f.Nack(tag, false, requeue)
}

// fakeChannel captures published messages
type fakeChannel struct {
	mu        sync.Mutex
	exchange  string
	key       string
	published []amqp.Publishing
	err       error
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.exchange, f.key = exchange, key
	f.published = append(f.published, msg)
	return nil
}

func delivery(t *testing.T, ack amqp.Acknowledger, body interface{}) amqp.Delivery {
	t.Helper()
	var raw []byte
	switch b := body.(type) {
	case []byte:
		raw = b
	default:
		var err error
		raw, err = json.Marshal(b)
		require.NoError(t, err)
	}
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: raw}
}

func TestConsumer_HandleDelivery(t *testing.T) {
	valid := DispatchJob{CampaignID: 4, RunID: "run-4", RequestedAt: time.Now()}

	tests := []struct {
		name       string
		body       interface{}
		handlerErr error
		wantAck    bool
		wantCalled bool
	}{
		{name: "success acks", body: valid, wantAck: true, wantCalled: true},
		{name: "handler error drops", body: valid, handlerErr: errors.New("campaign with ID 4 not found"), wantCalled: true},
		{name: "malformed json drops", body: []byte("{not json")},
		{name: "missing run id drops", body: DispatchJob{CampaignID: 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *DispatchJob
			c := &Consumer{handler: func(_ context.Context, job *DispatchJob) error {
				got = job
				return tt.handlerErr
			}}
			ack := &fakeAcknowledger{}

			c.handleDelivery(delivery(t, ack, tt.body))

			assert.Equal(t, tt.wantAck, ack.acked)
			assert.Equal(t, !tt.wantAck, ack.nacked)
			assert.False(t, ack.requeue)
			if tt.wantCalled {
				require.NotNil(t, got)
				assert.Equal(t, 4, got.CampaignID)
				assert.Equal(t, "run-4", got.RunID)
			} else {
				assert.Nil(t, got)
			}
		})
	}
}

func TestPublisher_PublishDispatch(t *testing.T) {
	ch := &fakeChannel{}
	p := &Publisher{queueName: "campaign_dispatch", channel: func() (amqpPublisher, error) { return ch, nil }}
	s := &DispatchScheduler{publisher: p, now: func() time.Time { return time.Date(2026, 1, 13, 9, 0, 0, 0, time.UTC) }}

	runID, err := s.Schedule(context.Background(), 12)
	require.NoError(t, err)
	assert.NotEmpty(t, runID)

	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	assert.Equal(t, "", ch.exchange)
	assert.Equal(t, "campaign_dispatch", ch.key)
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, runID, msg.MessageId)

	var job DispatchJob
	require.NoError(t, json.Unmarshal(msg.Body, &job))
	assert.Equal(t, 12, job.CampaignID)
	assert.Equal(t, runID, job.RunID)
}

func TestPublisher_PublishError(t *testing.T) {
	ch := &fakeChannel{err: amqp.ErrClosed}
	p := &Publisher{queueName: "q", channel: func() (amqpPublisher, error) { return ch, nil }}

	err := p.PublishDispatch(context.Background(), DispatchJob{CampaignID: 1, RunID: "r"})
	assert.ErrorIs(t, err, amqp.ErrClosed)

	err = p.PublishDispatch(context.Background(), DispatchJob{RunID: "r"})
	assert.Error(t, err)
}

func TestProgressPublisherAndRelay_RoundTrip(t *testing.T) {
	ch := &fakeChannel{}
	pub := &ProgressPublisher{exchange: "campaign_progress", channel: func() (amqpPublisher, error) { return ch, nil }}

	event := progress.Event{
		Type:       progress.EventCampaign,
		CampaignID: 9,
		Campaign: &models.CampaignWithStats{
			Campaign: models.Campaign{ID: 9, Title: "Relayed", Status: models.CampaignStatusProcessing},
			Stats:    models.CampaignStats{Total: 2, Sent: 1, Queued: 1},
		},
	}
	require.NoError(t, pub.Publish(context.Background(), event))
	require.Len(t, ch.published, 1)
	assert.Equal(t, "campaign_progress", ch.exchange)
	assert.Equal(t, "campaign", ch.published[0].Type)

	hub := progress.NewHub(4)
	sub := hub.Subscribe(9)
	defer hub.Unsubscribe(sub)

	relay := NewProgressRelay(nil, "campaign_progress", hub)
	relay.forward(context.Background(), ch.published[0].Body)
	relay.forward(context.Background(), []byte("garbage"))

	select {
	case got := <-sub.C:
		assert.Equal(t, progress.EventCampaign, got.Type)
		require.NotNil(t, got.Campaign)
		assert.Equal(t, models.CampaignStatusProcessing, got.Campaign.Status)
		assert.Equal(t, 50, got.Campaign.Stats.ProgressPercentage())
	default:
		t.Fatal("expected relayed event")
	}
}

func TestNewConnection_EmptyURL(t *testing.T) {
	_, err := NewConnection("")
	assert.Error(t, err)
}
