package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"mailcampaign/internal/progress"
	"mailcampaign/internal/service"
)

// Subscriber registers progress observers; satisfied by *progress.Hub
type Subscriber interface {
	Subscribe(campaignID int) *progress.Subscription
	Unsubscribe(sub *progress.Subscription)
}

// StreamHandler serves live progress as Server-Sent Events
type StreamHandler struct {
	campaignService *service.CampaignService
	hub             Subscriber
	heartbeat       time.Duration
}

// NewStreamHandler creates a new stream handler
func NewStreamHandler(campaignService *service.CampaignService, hub Subscriber, heartbeat time.Duration) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &StreamHandler{
		campaignService: campaignService,
		hub:             hub,
		heartbeat:       heartbeat,
	}
}

// CampaignsSnapshot is the initial payload of the all-campaigns stream
type CampaignsSnapshot struct {
	Type      progress.EventType `json:"type"`
	Campaigns interface{}        `json:"campaigns"`
}

// Campaign handles GET /campaigns/{id}/stream. The client first receives a
// snapshot of the campaign and its recipients, then live events.
func (h *StreamHandler) Campaign(w http.ResponseWriter, r *http.Request) {
	id, ok := campaignID(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, CodeInternal, "Streaming unsupported")
		return
	}

	// subscribe before reading the snapshot so no event falls in between
	sub := h.hub.Subscribe(id)
	defer h.hub.Unsubscribe(sub)

	detail, err := h.campaignService.GetCampaign(r.Context(), id)
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	startStream(w)
	snapshot := progress.Event{
		Type:        progress.EventSnapshot,
		CampaignID:  id,
		Campaign:    &detail.CampaignWithStats,
		Recipients:  detail.Recipients,
		PublishedAt: time.Now().UTC(),
	}
	if err := writeEvent(w, flusher, string(snapshot.Type), snapshot); err != nil {
		return
	}

	h.pump(w, r, flusher, sub, logrus.WithField("campaign_id", id))
}

// All handles GET /campaigns/stream: every campaign-level event, after a
// snapshot of the campaign list.
func (h *StreamHandler) All(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, CodeInternal, "Streaming unsupported")
		return
	}

	sub := h.hub.Subscribe(progress.AllCampaigns)
	defer h.hub.Unsubscribe(sub)

	campaigns, err := h.campaignService.ListCampaigns(r.Context())
	if err != nil {
		HandleServiceError(w, err)
		return
	}

	startStream(w)
	snapshot := CampaignsSnapshot{Type: progress.EventSnapshot, Campaigns: campaigns}
	if err := writeEvent(w, flusher, string(snapshot.Type), snapshot); err != nil {
		return
	}

	h.pump(w, r, flusher, sub, logrus.WithField("stream", "campaigns"))
}

// pump forwards hub events and heartbeats until the client goes away
func (h *StreamHandler) pump(w http.ResponseWriter, r *http.Request, flusher http.Flusher, sub *progress.Subscription, log *logrus.Entry) {
	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	log.Debug("SSE client connected")
	for {
		select {
		case <-r.Context().Done():
			log.Debug("SSE client disconnected")
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			if err := writeEvent(w, flusher, string(event.Type), event); err != nil {
				log.WithError(err).Debug("Failed to write SSE event")
				return
			}
		case t := <-ticker.C:
			if _, err := fmt.Fprintf(w, ": heartbeat %s\n\n", t.UTC().Format(time.RFC3339)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func startStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, name string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).Error("Failed to marshal SSE payload")
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
