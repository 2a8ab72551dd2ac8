package progress

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// AllCampaigns subscribes to the campaign-level events of every campaign
const AllCampaigns = 0

// DefaultBuffer is the per-subscription buffer used when none is given
const DefaultBuffer = 32

// Subscription is one observer attached to the hub
type Subscription struct {
	// C receives events in the order they were published.
	// It is closed by Unsubscribe.
	C <-chan Event

	campaignID int
	ch         chan Event
	dropped    atomic.Int64
}

// CampaignID returns the campaign the subscription observes
func (s *Subscription) CampaignID() int {
	return s.campaignID
}

// Dropped returns how many events were skipped because the buffer was full
func (s *Subscription) Dropped() int64 {
	return s.dropped.Load()
}

// Hub fans events out to the subscriptions of each campaign.
// Delivery never blocks the publisher: a full subscriber misses the event.
type Hub struct {
	mu      sync.RWMutex
	clients map[int]map[*Subscription]struct{}
	buffer  int
}

// NewHub creates a new hub; buffer <= 0 uses DefaultBuffer
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		clients: make(map[int]map[*Subscription]struct{}),
		buffer:  buffer,
	}
}

// Subscribe registers a new observer for campaignID, or AllCampaigns
func (h *Hub) Subscribe(campaignID int) *Subscription {
	ch := make(chan Event, h.buffer)
	sub := &Subscription{C: ch, campaignID: campaignID, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[campaignID] == nil {
		h.clients[campaignID] = make(map[*Subscription]struct{})
	}
	h.clients[campaignID][sub] = struct{}{}

	logrus.WithFields(logrus.Fields{
		"campaign_id": campaignID,
		"observers":   len(h.clients[campaignID]),
	}).Debug("Progress observer subscribed")
	return sub
}

// Unsubscribe removes the observer and closes its channel. Safe to call twice.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.clients[sub.campaignID]
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(h.clients, sub.campaignID)
	}

	logrus.WithFields(logrus.Fields{
		"campaign_id": sub.campaignID,
		"dropped":     sub.Dropped(),
	}).Debug("Progress observer unsubscribed")
}

// Publish implements Publisher. Campaign events are also delivered to
// AllCampaigns observers.
func (h *Hub) Publish(_ context.Context, event Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	h.deliverLocked(h.clients[event.CampaignID], event)
	if event.Type == EventCampaign && event.CampaignID != AllCampaigns {
		h.deliverLocked(h.clients[AllCampaigns], event)
	}
	return nil
}

// deliverLocked sends without blocking; the read lock must be held
func (h *Hub) deliverLocked(subs map[*Subscription]struct{}, event Event) {
	for sub := range subs {
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
			logrus.WithFields(logrus.Fields{
				"campaign_id": event.CampaignID,
				"event":       event.Type,
			}).Warn("Progress observer buffer full, event dropped")
		}
	}
}

// ObserverCount returns the number of observers of campaignID
func (h *Hub) ObserverCount(campaignID int) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[campaignID])
}
