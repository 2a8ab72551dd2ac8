package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

const defaultBadgeClass = "bg-gray-100 text-gray-800"

// CampaignStatus represents the lifecycle state of a campaign.
// Stored as a small integer, rendered as its name.
type CampaignStatus int

const (
	CampaignStatusPending CampaignStatus = iota
	CampaignStatusProcessing
	CampaignStatusCompleted
)

var campaignStatusNames = map[CampaignStatus]string{
	CampaignStatusPending:    "pending",
	CampaignStatusProcessing: "processing",
	CampaignStatusCompleted:  "completed",
}

// ParseCampaignStatus converts a status name to a CampaignStatus
func ParseCampaignStatus(name string) (CampaignStatus, error) {
	for status, n := range campaignStatusNames {
		if n == name {
			return status, nil
		}
	}
	return 0, fmt.Errorf("invalid campaign status %q", name)
}

func (s CampaignStatus) String() string {
	if name, ok := campaignStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("CampaignStatus(%d)", int(s))
}

// IsValid reports whether s is one of the known states
func (s CampaignStatus) IsValid() bool {
	_, ok := campaignStatusNames[s]
	return ok
}

// CanAdvanceTo reports whether moving from s to next keeps the status
// monotonic. Staying in processing is allowed so an interrupted run can resume.
func (s CampaignStatus) CanAdvanceTo(next CampaignStatus) bool {
	if !s.IsValid() || !next.IsValid() {
		return false
	}
	switch s {
	case CampaignStatusPending:
		return next == CampaignStatusProcessing
	case CampaignStatusProcessing:
		return next == CampaignStatusProcessing || next == CampaignStatusCompleted
	default:
		return false
	}
}

// BadgeClass returns the CSS classes used to render the status badge
func (s CampaignStatus) BadgeClass() string {
	switch s {
	case CampaignStatusPending:
		return "bg-yellow-100 text-yellow-800"
	case CampaignStatusProcessing:
		return "bg-blue-100 text-blue-800"
	case CampaignStatusCompleted:
		return "bg-green-100 text-green-800"
	default:
		return defaultBadgeClass
	}
}

func (s CampaignStatus) MarshalJSON() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("cannot marshal invalid campaign status %d", int(s))
	}
	return json.Marshal(s.String())
}

func (s *CampaignStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("campaign status must be a string: %w", err)
	}
	parsed, err := ParseCampaignStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value implements driver.Valuer
func (s CampaignStatus) Value() (driver.Value, error) {
	return int64(s), nil
}

// Scan implements sql.Scanner
func (s *CampaignStatus) Scan(src interface{}) error {
	v, err := scanStatusInt(src)
	if err != nil {
		return fmt.Errorf("campaign status: %w", err)
	}
	status := CampaignStatus(v)
	if !status.IsValid() {
		return fmt.Errorf("campaign status: unknown value %d", v)
	}
	*s = status
	return nil
}

// RecipientStatus represents the delivery state of a single recipient
type RecipientStatus int

const (
	RecipientStatusQueued RecipientStatus = iota
	RecipientStatusSent
	RecipientStatusFailed
)

var recipientStatusNames = map[RecipientStatus]string{
	RecipientStatusQueued: "queued",
	RecipientStatusSent:   "sent",
	RecipientStatusFailed: "failed",
}

// ParseRecipientStatus converts a status name to a RecipientStatus
func ParseRecipientStatus(name string) (RecipientStatus, error) {
	for status, n := range recipientStatusNames {
		if n == name {
			return status, nil
		}
	}
	return 0, fmt.Errorf("invalid recipient status %q", name)
}

func (s RecipientStatus) String() string {
	if name, ok := recipientStatusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("RecipientStatus(%d)", int(s))
}

// IsValid reports whether s is one of the known states
func (s RecipientStatus) IsValid() bool {
	_, ok := recipientStatusNames[s]
	return ok
}

// IsTerminal reports whether the recipient has been processed
func (s RecipientStatus) IsTerminal() bool {
	return s == RecipientStatusSent || s == RecipientStatusFailed
}

// BadgeClass returns the CSS classes used to render the status badge
func (s RecipientStatus) BadgeClass() string {
	switch s {
	case RecipientStatusQueued:
		return "bg-gray-100 text-gray-800"
	case RecipientStatusSent:
		return "bg-green-100 text-green-800"
	case RecipientStatusFailed:
		return "bg-red-100 text-red-800"
	default:
		return defaultBadgeClass
	}
}

func (s RecipientStatus) MarshalJSON() ([]byte, error) {
	if !s.IsValid() {
		return nil, fmt.Errorf("cannot marshal invalid recipient status %d", int(s))
	}
	return json.Marshal(s.String())
}

func (s *RecipientStatus) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("recipient status must be a string: %w", err)
	}
	parsed, err := ParseRecipientStatus(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value implements driver.Valuer
func (s RecipientStatus) Value() (driver.Value, error) {
	return int64(s), nil
}

// Scan implements sql.Scanner
func (s *RecipientStatus) Scan(src interface{}) error {
	v, err := scanStatusInt(src)
	if err != nil {
		return fmt.Errorf("recipient status: %w", err)
	}
	status := RecipientStatus(v)
	if !status.IsValid() {
		return fmt.Errorf("recipient status: unknown value %d", v)
	}
	*s = status
	return nil
}

func scanStatusInt(src interface{}) (int, error) {
	switch v := src.(type) {
	case int64:
		return int(v), nil
	case int32:
		return int(v), nil
	case int:
		return v, nil
	case []byte:
		var n int
		if _, err := fmt.Sscanf(string(v), "%d", &n); err != nil {
			return 0, fmt.Errorf("cannot parse %q", string(v))
		}
		return n, nil
	case nil:
		return 0, fmt.Errorf("unexpected NULL")
	default:
		return 0, fmt.Errorf("unsupported type %T", src)
	}
}
