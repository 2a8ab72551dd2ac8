package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// JobHandler runs one dispatch job. It returns when the run has finished.
type JobHandler func(ctx context.Context, job *DispatchJob) error

// Consumer consumes dispatch jobs from RabbitMQ
type Consumer struct {
	conn      *Connection
	queueName string
	handler   JobHandler
	channel   *amqp.Channel
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewConsumer creates a new consumer instance
func NewConsumer(conn *Connection, queueName string, handler JobHandler) (*Consumer, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if queueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}

	return &Consumer{
		conn:      conn,
		queueName: queueName,
		handler:   handler,
		stopChan:  make(chan struct{}),
	}, nil
}

// Start starts concurrency workers, each running one job at a time.
// The broker prefetch matches concurrency so no job waits behind a busy worker.
func (c *Consumer) Start(concurrency int) error {
	if concurrency <= 0 {
		concurrency = 1
	}

	ch, err := c.conn.OpenChannel()
	if err != nil {
		return fmt.Errorf("failed to get channel: %w", err)
	}

	if err := declareJobQueue(ch, c.queueName); err != nil {
		ch.Close()
		return err
	}

	if err := ch.Qos(
		concurrency, // prefetch count
		0,           // prefetch size
		false,       // global
	); err != nil {
		ch.Close()
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		c.queueName,
		"",    // consumer tag (auto-generated)
		false, // auto-ack (manual acknowledgement)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	c.channel = ch

	for i := 0; i < concurrency; i++ {
		c.wg.Add(1)
		go c.work(i, msgs)
	}

	logrus.WithFields(logrus.Fields{
		"queue":       c.queueName,
		"concurrency": concurrency,
	}).Info("Consumer started")
	return nil
}

func (c *Consumer) work(id int, msgs <-chan amqp.Delivery) {
	defer c.wg.Done()
	log := logrus.WithField("worker", id)

	for {
		select {
		case <-c.stopChan:
			log.Debug("Consumer worker stopping")
			return
		case d, ok := <-msgs:
			if !ok {
				log.Warn("Delivery channel closed")
				return
			}
			c.handleDelivery(d)
		}
	}
}

// handleDelivery runs the job and settles the delivery. Failed jobs are
// dropped rather than requeued: a run that failed to start is not retried.
func (c *Consumer) handleDelivery(d amqp.Delivery) {
	job, err := decodeJob(d.Body)
	if err != nil {
		logrus.WithError(err).Error("Discarding malformed dispatch job")
		if err := d.Nack(false, false); err != nil {
			logrus.WithError(err).Error("Failed to nack delivery")
		}
		return
	}

	log := logrus.WithFields(logrus.Fields{
		"campaign_id": job.CampaignID,
		"run_id":      job.RunID,
	})

	if err := c.handler(context.Background(), job); err != nil {
		log.WithError(err).Error("Dispatch job failed")
		if err := d.Nack(false, false); err != nil {
			log.WithError(err).Error("Failed to nack delivery")
		}
		return
	}

	if err := d.Ack(false); err != nil {
		log.WithError(err).Error("Failed to ack delivery")
	}
}

// Stop stops taking deliveries and waits for running jobs to finish
func (c *Consumer) Stop() error {
	c.stopOnce.Do(func() { close(c.stopChan) })
	c.wg.Wait()

	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			return fmt.Errorf("failed to close consumer channel: %w", err)
		}
	}

	logrus.Info("Consumer stopped successfully")
	return nil
}

func decodeJob(body []byte) (*DispatchJob, error) {
	var job DispatchJob
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal dispatch job: %w", err)
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return &job, nil
}
