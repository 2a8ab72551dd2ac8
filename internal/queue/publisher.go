package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// DispatchJob asks a worker to run one campaign
type DispatchJob struct {
	CampaignID  int       `json:"campaign_id"`
	RunID       string    `json:"run_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// Validate checks that the job can be processed
func (j *DispatchJob) Validate() error {
	if j.CampaignID <= 0 {
		return fmt.Errorf("invalid campaign_id %d", j.CampaignID)
	}
	if j.RunID == "" {
		return errors.New("run_id is required")
	}
	return nil
}

// amqpPublisher is the subset of *amqp.Channel used for publishing
type amqpPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher publishes dispatch jobs to RabbitMQ
type Publisher struct {
	queueName string
	channel   func() (amqpPublisher, error)
}

// NewPublisher creates a new publisher and declares the durable job queue
func NewPublisher(conn *Connection, queueName string) (*Publisher, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if queueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}

	if err := declareJobQueue(ch, queueName); err != nil {
		return nil, err
	}

	return &Publisher{
		queueName: queueName,
		channel:   func() (amqpPublisher, error) { return conn.Channel() },
	}, nil
}

func declareJobQueue(ch *amqp.Channel, queueName string) error {
	_, err := ch.QueueDeclare(
		queueName,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	return nil
}

// PublishDispatch publishes a persistent dispatch job
func (p *Publisher) PublishDispatch(ctx context.Context, job DispatchJob) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid dispatch job: %w", err)
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch job: %w", err)
	}

	ch, err := p.channel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	err = ch.PublishWithContext(
		ctx,
		"",          // exchange (default)
		p.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			MessageId:    job.RunID,
			Timestamp:    job.RequestedAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish dispatch job: %w", err)
	}

	return nil
}

// DispatchScheduler schedules dispatch runs by publishing jobs for a worker
type DispatchScheduler struct {
	publisher *Publisher
	now       func() time.Time
}

// NewDispatchScheduler creates a scheduler backed by the job queue
func NewDispatchScheduler(publisher *Publisher) *DispatchScheduler {
	return &DispatchScheduler{publisher: publisher, now: time.Now}
}

// Schedule publishes a job and returns its run id
func (s *DispatchScheduler) Schedule(ctx context.Context, campaignID int) (string, error) {
	job := DispatchJob{
		CampaignID:  campaignID,
		RunID:       uuid.NewString(),
		RequestedAt: s.now().UTC(),
	}

	if err := s.publisher.PublishDispatch(ctx, job); err != nil {
		return "", err
	}

	logrus.WithFields(logrus.Fields{
		"campaign_id": campaignID,
		"run_id":      job.RunID,
	}).Info("Dispatch job published")
	return job.RunID, nil
}
