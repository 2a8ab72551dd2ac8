package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"
)

// Campaign represents an email campaign
type Campaign struct {
	ID        int            `json:"id" db:"id"`
	Title     string         `json:"title" db:"title"`
	Status    CampaignStatus `json:"status" db:"status"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// CampaignStats holds recipient counts by status
type CampaignStats struct {
	Total  int `json:"total"`
	Queued int `json:"queued"`
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}

// Processed returns the number of recipients in a terminal state
func (s CampaignStats) Processed() int {
	return s.Sent + s.Failed
}

// ProgressPercentage returns round(100 * processed / total), 0 when empty
func (s CampaignStats) ProgressPercentage() int {
	if s.Total <= 0 {
		return 0
	}
	return int(math.Round(float64(s.Processed()) / float64(s.Total) * 100))
}

// MarshalJSON adds the derived progress percentage
func (s CampaignStats) MarshalJSON() ([]byte, error) {
	type stats CampaignStats
	return json.Marshal(struct {
		stats
		ProgressPercentage int `json:"progress_percentage"`
	}{
		stats:              stats(s),
		ProgressPercentage: s.ProgressPercentage(),
	})
}

// CampaignWithStats represents a campaign with its recipient statistics
type CampaignWithStats struct {
	Campaign
	Stats CampaignStats `json:"stats"`
}

// CampaignDetail is a campaign with stats and its recipients in creation order
type CampaignDetail struct {
	CampaignWithStats
	Recipients []*Recipient `json:"recipients"`
}

// Validate checks if the campaign fields are valid
func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("title can't be blank")
	}
	if !c.Status.IsValid() {
		return fmt.Errorf("status is not included in the list")
	}
	return nil
}

// IsPending reports whether the campaign has not been dispatched yet
func (c *Campaign) IsPending() bool {
	return c.Status == CampaignStatusPending
}

// CanDispatch checks if the campaign can be handed to the dispatch engine
func (c *Campaign) CanDispatch() bool {
	return c.IsPending()
}
