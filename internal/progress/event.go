// Package progress delivers snapshots of dispatch progress to observers.
package progress

import (
	"context"
	"time"

	"mailcampaign/internal/models"
)

// EventType names the kind of snapshot carried by an Event
type EventType string

const (
	EventCampaign  EventType = "campaign"
	EventRecipient EventType = "recipient"
	// EventSnapshot is sent once to a new observer with the full current state
	EventSnapshot EventType = "snapshot"
)

// Event is a point-in-time snapshot of persisted state
type Event struct {
	Type        EventType                 `json:"type"`
	CampaignID  int                       `json:"campaign_id"`
	Campaign    *models.CampaignWithStats `json:"campaign,omitempty"`
	Recipient   *models.Recipient         `json:"recipient,omitempty"`
	Recipients  []*models.Recipient       `json:"recipients,omitempty"`
	PublishedAt time.Time                 `json:"published_at"`
}

// Publisher delivers events to observers, in-process or over a broker
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// PublisherFunc adapts a function to Publisher
type PublisherFunc func(ctx context.Context, event Event) error

func (f PublisherFunc) Publish(ctx context.Context, event Event) error {
	return f(ctx, event)
}
