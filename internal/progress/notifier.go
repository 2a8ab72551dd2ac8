package progress

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"mailcampaign/internal/models"
)

// CampaignReader loads a campaign with its current counts
type CampaignReader interface {
	GetWithStats(ctx context.Context, id int) (*models.CampaignWithStats, error)
}

// RecipientReader loads a single recipient
type RecipientReader interface {
	GetByID(ctx context.Context, id int) (*models.Recipient, error)
}

// Notifier turns dispatch signals into events. It always re-reads the
// persisted state, so observers never see a stale copy. Failures are
// logged and swallowed.
type Notifier struct {
	campaigns  CampaignReader
	recipients RecipientReader
	publisher  Publisher
	now        func() time.Time
}

// NewNotifier creates a new progress notifier
func NewNotifier(campaigns CampaignReader, recipients RecipientReader, publisher Publisher) *Notifier {
	return &Notifier{
		campaigns:  campaigns,
		recipients: recipients,
		publisher:  publisher,
		now:        time.Now,
	}
}

// NotifyRecipient publishes the current state of one recipient
func (n *Notifier) NotifyRecipient(ctx context.Context, recipientID int) {
	log := logrus.WithField("recipient_id", recipientID)

	recipient, err := n.recipients.GetByID(ctx, recipientID)
	if err != nil {
		log.WithError(err).Warn("Failed to load recipient for progress event")
		return
	}

	n.publish(ctx, Event{
		Type:       EventRecipient,
		CampaignID: recipient.CampaignID,
		Recipient:  recipient,
	}, log)
}

// NotifyCampaign publishes the current state and counts of one campaign
func (n *Notifier) NotifyCampaign(ctx context.Context, campaignID int) {
	log := logrus.WithField("campaign_id", campaignID)

	campaign, err := n.campaigns.GetWithStats(ctx, campaignID)
	if err != nil {
		log.WithError(err).Warn("Failed to load campaign for progress event")
		return
	}

	n.publish(ctx, Event{
		Type:       EventCampaign,
		CampaignID: campaignID,
		Campaign:   campaign,
	}, log)
}

func (n *Notifier) publish(ctx context.Context, event Event, log *logrus.Entry) {
	event.PublishedAt = n.now().UTC()
	if err := n.publisher.Publish(ctx, event); err != nil {
		log.WithError(err).WithField("event", event.Type).Warn("Failed to publish progress event")
	}
}
