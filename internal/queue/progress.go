package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"mailcampaign/internal/progress"
)

func declareProgressExchange(ch *amqp.Channel, exchange string) error {
	err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeFanout,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	return nil
}

// ProgressPublisher broadcasts progress events from a worker process to
// every API instance through a fanout exchange.
type ProgressPublisher struct {
	exchange string
	channel  func() (amqpPublisher, error)
}

// NewProgressPublisher creates a publisher and declares the fanout exchange
func NewProgressPublisher(conn *Connection, exchange string) (*ProgressPublisher, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if exchange == "" {
		return nil, errors.New("exchange name cannot be empty")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	if err := declareProgressExchange(ch, exchange); err != nil {
		return nil, err
	}

	return &ProgressPublisher{
		exchange: exchange,
		channel:  func() (amqpPublisher, error) { return conn.Channel() },
	}, nil
}

// Publish implements progress.Publisher. Events are transient; an
// observer that misses one catches up from the next snapshot.
func (p *ProgressPublisher) Publish(ctx context.Context, event progress.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal progress event: %w", err)
	}

	ch, err := p.channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	err = ch.PublishWithContext(ctx, p.exchange, "", false, false, amqp.Publishing{
		DeliveryMode: amqp.Transient,
		ContentType:  "application/json",
		Type:         string(event.Type),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish progress event: %w", err)
	}
	return nil
}

// ProgressRelay forwards progress events from the fanout exchange into a
// local publisher, normally the API's hub.
type ProgressRelay struct {
	conn     *Connection
	exchange string
	target   progress.Publisher
}

// NewProgressRelay creates a new relay
func NewProgressRelay(conn *Connection, exchange string, target progress.Publisher) *ProgressRelay {
	return &ProgressRelay{conn: conn, exchange: exchange, target: target}
}

// Run consumes until ctx is cancelled or the broker closes the channel
func (r *ProgressRelay) Run(ctx context.Context) error {
	ch, err := r.conn.OpenChannel()
	if err != nil {
		return fmt.Errorf("failed to open relay channel: %w", err)
	}
	defer ch.Close()

	if err := declareProgressExchange(ch, r.exchange); err != nil {
		return err
	}

	// server-named, exclusive queue: one per API instance
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare relay queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", r.exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind relay queue: %w", err)
	}

	msgs, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume relay queue: %w", err)
	}

	logrus.WithField("exchange", r.exchange).Info("Progress relay started")
	for {
		select {
		case <-ctx.Done():
			logrus.Info("Progress relay stopping")
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("progress relay: delivery channel closed")
			}
			r.forward(ctx, d.Body)
		}
	}
}

func (r *ProgressRelay) forward(ctx context.Context, body []byte) {
	var event progress.Event
	if err := json.Unmarshal(body, &event); err != nil {
		logrus.WithError(err).Warn("Discarding malformed progress event")
		return
	}
	if err := r.target.Publish(ctx, event); err != nil {
		logrus.WithError(err).WithField("campaign_id", event.CampaignID).Warn("Failed to relay progress event")
	}
}
