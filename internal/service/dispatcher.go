package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mailcampaign/internal/models"
	"mailcampaign/internal/reporting"
	"mailcampaign/internal/repository"
)

// SimulatedFailureMessage is stored on recipients whose simulated delivery failed
const SimulatedFailureMessage = "Simulated delivery failure"

// ProgressNotifier receives a signal after every persisted change of a run.
// Implementations must not block the engine and never report errors back.
type ProgressNotifier interface {
	NotifyRecipient(ctx context.Context, recipientID int)
	NotifyCampaign(ctx context.Context, campaignID int)
}

type noopNotifier struct{}

func (noopNotifier) NotifyRecipient(context.Context, int) {}
func (noopNotifier) NotifyCampaign(context.Context, int)  {}

// CampaignDispatcher runs a campaign to completion
type CampaignDispatcher interface {
	Dispatch(ctx context.Context, campaignID int) (*DispatchSummary, error)
}

// DispatchSummary describes a finished run
type DispatchSummary struct {
	RunID      string        `json:"run_id"`
	CampaignID int           `json:"campaign_id"`
	Total      int           `json:"total"`
	Sent       int           `json:"sent"`
	Failed     int           `json:"failed"`
	Unexpected int           `json:"unexpected"`
	Duration   time.Duration `json:"duration"`
}

type runIDKey struct{}

// WithRunID attaches a run id to ctx for log correlation
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run id attached by WithRunID
func RunIDFromContext(ctx context.Context) string {
	runID, _ := ctx.Value(runIDKey{}).(string)
	return runID
}

// DispatcherOption customises a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithSleep replaces time.Sleep, mainly for tests
func WithSleep(sleep func(time.Duration)) DispatcherOption {
	return func(d *Dispatcher) {
		d.sleep = sleep
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		d.now = now
	}
}

// Dispatcher walks the queued recipients of a campaign one at a time,
// simulating delivery and persisting each outcome.
type Dispatcher struct {
	store    repository.Store
	delays   DelayProvider
	failures FailureDecider
	notifier ProgressNotifier
	sleep    func(time.Duration)
	now      func() time.Time
}

// NewDispatcher creates a new dispatch engine. A nil notifier disables notifications.
func NewDispatcher(
	store repository.Store,
	delays DelayProvider,
	failures FailureDecider,
	notifier ProgressNotifier,
	opts ...DispatcherOption,
) *Dispatcher {
	if notifier == nil {
		notifier = noopNotifier{}
	}

	d := &Dispatcher{
		store:    store,
		delays:   delays,
		failures: failures,
		notifier: notifier,
		sleep:    time.Sleep,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeFailed
	outcomeUnexpected
	outcomeSkipped
)

// Dispatch runs the campaign: processing, every queued recipient in
// creation order, then completed. Recipients queued after the snapshot
// is taken are left for a later run.
func (d *Dispatcher) Dispatch(ctx context.Context, campaignID int) (*DispatchSummary, error) {
	start := d.now()
	runID := RunIDFromContext(ctx)
	if runID == "" {
		runID = uuid.NewString()
		ctx = WithRunID(ctx, runID)
	}
	log := logrus.WithFields(logrus.Fields{
		"campaign_id": campaignID,
		"run_id":      runID,
	})

	campaigns := d.store.Campaigns()
	campaign, err := campaigns.GetByID(ctx, campaignID)
	if err != nil {
		return nil, mapRepoError(err, "load campaign", "campaign", campaignID)
	}
	if !campaign.Status.CanAdvanceTo(models.CampaignStatusProcessing) {
		return nil, &ConflictError{
			Resource: "campaign",
			Message:  fmt.Sprintf("campaign %d is already %s", campaignID, campaign.Status),
		}
	}

	if err := campaigns.UpdateStatus(ctx, campaignID, models.CampaignStatusProcessing); err != nil {
		return nil, mapRepoError(err, "mark campaign processing", "campaign", campaignID)
	}
	d.notifyCampaign(ctx, campaignID, log)

	recipients := d.store.Recipients()
	queued, err := recipients.ListQueued(ctx, campaignID)
	if err != nil {
		log.WithError(err).Error("Failed to load queued recipients")
		reporting.CaptureError(err, map[string]string{"campaign_id": fmt.Sprint(campaignID), "run_id": runID})
		return nil, fmt.Errorf("failed to load queued recipients: %w", err)
	}

	log.WithField("recipients", len(queued)).Info("Campaign dispatch started")

	summary := &DispatchSummary{
		RunID:      runID,
		CampaignID: campaignID,
		Total:      len(queued),
	}

	for _, recipient := range queued {
		switch d.deliver(ctx, recipient, log) {
		case outcomeSent:
			summary.Sent++
		case outcomeFailed:
			summary.Failed++
		case outcomeUnexpected:
			summary.Failed++
			summary.Unexpected++
		}

		d.safeNotify(log.WithField("recipient_id", recipient.ID), func() {
			d.notifier.NotifyRecipient(ctx, recipient.ID)
		})
		d.notifyCampaign(ctx, campaignID, log)
	}

	if err := campaigns.UpdateStatus(ctx, campaignID, models.CampaignStatusCompleted); err != nil {
		return summary, mapRepoError(err, "mark campaign completed", "campaign", campaignID)
	}
	d.notifyCampaign(ctx, campaignID, log)

	summary.Duration = d.now().Sub(start)
	log.WithFields(logrus.Fields{
		"sent":       summary.Sent,
		"failed":     summary.Failed,
		"unexpected": summary.Unexpected,
		"duration":   summary.Duration.String(),
	}).Info("Campaign dispatch completed")

	return summary, nil
}

// deliver processes one recipient. Errors and panics are contained here
// so the run always moves on to the next recipient.
func (d *Dispatcher) deliver(ctx context.Context, recipient *models.Recipient, log *logrus.Entry) (result outcome) {
	defer func() {
		if p := recover(); p != nil {
			result = d.recordUnexpected(ctx, recipient, fmt.Errorf("panic: %v", p), log)
		}
	}()

	d.sleep(d.delays.NextDelay())

	recipients := d.store.Recipients()
	if d.failures.ShouldFail() {
		if err := recipients.MarkFailed(ctx, recipient.ID, SimulatedFailureMessage); err != nil {
			return d.recordError(ctx, recipient, err, log)
		}
		log.WithField("recipient_id", recipient.ID).Debug("Simulated delivery failure")
		return outcomeFailed
	}

	if err := recipients.MarkSent(ctx, recipient.ID); err != nil {
		return d.recordError(ctx, recipient, err, log)
	}
	log.WithField("recipient_id", recipient.ID).Debug("Recipient sent")
	return outcomeSent
}

// recordError treats a lost race on the set-once guard as a skip: another
// run already finished the recipient and its stored status stands.
func (d *Dispatcher) recordError(ctx context.Context, recipient *models.Recipient, err error, log *logrus.Entry) outcome {
	if errors.Is(err, repository.ErrStatusConflict) {
		log.WithField("recipient_id", recipient.ID).WithError(err).
			Warn("Recipient finished by another run; keeping stored status")
		return outcomeSkipped
	}
	return d.recordUnexpected(ctx, recipient, err, log)
}

func (d *Dispatcher) notifyCampaign(ctx context.Context, campaignID int, log *logrus.Entry) {
	d.safeNotify(log, func() {
		d.notifier.NotifyCampaign(ctx, campaignID)
	})
}

// safeNotify runs one notifier call. A panicking notifier is logged and
// reported but never stops the run.
func (d *Dispatcher) safeNotify(log *logrus.Entry, notify func()) {
	defer func() {
		if p := recover(); p != nil {
			log.WithField("panic", p).Error("Progress notifier panicked")
			tags := map[string]string{}
			for k, v := range log.Data {
				tags[k] = fmt.Sprint(v)
			}
			reporting.CapturePanic(p, tags)
		}
	}()
	notify()
}

func (d *Dispatcher) recordUnexpected(ctx context.Context, recipient *models.Recipient, cause error, log *logrus.Entry) outcome {
	entry := log.WithField("recipient_id", recipient.ID).WithError(cause)
	entry.Error("Unexpected error while dispatching recipient")
	reporting.CaptureError(cause, map[string]string{
		"campaign_id":  fmt.Sprint(recipient.CampaignID),
		"recipient_id": fmt.Sprint(recipient.ID),
		"run_id":       RunIDFromContext(ctx),
	})

	err := d.store.Recipients().MarkFailed(ctx, recipient.ID, cause.Error())
	if errors.Is(err, repository.ErrStatusConflict) {
		entry.Warn("Recipient already finished; keeping stored status")
	} else if err != nil {
		entry.WithField("record_error", err.Error()).Error("Failed to record recipient failure")
	}
	return outcomeUnexpected
}
