package models

import (
	"regexp"
	"strings"
	"time"
)

// emailPattern follows the HTML5 "valid e-mail address" grammar
var emailPattern = regexp.MustCompile(`\A[a-zA-Z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(?:\.[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*\z`)

// Recipient represents a single addressee of a campaign
type Recipient struct {
	ID           int             `json:"id" db:"id"`
	CampaignID   int             `json:"campaign_id" db:"campaign_id"`
	Name         string          `json:"name" db:"name"`
	Email        string          `json:"email" db:"email"`
	Status       RecipientStatus `json:"status" db:"status"`
	ErrorMessage *string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// ValidEmail reports whether email is syntactically valid
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidationErrors returns every problem with the recipient's fields
func (r *Recipient) ValidationErrors() []string {
	var problems []string
	if strings.TrimSpace(r.Name) == "" {
		problems = append(problems, "name can't be blank")
	}
	switch {
	case strings.TrimSpace(r.Email) == "":
		problems = append(problems, "email can't be blank")
	case !ValidEmail(r.Email):
		problems = append(problems, "email is invalid")
	}
	if !r.Status.IsValid() {
		problems = append(problems, "status is not included in the list")
	}
	return problems
}

// IsQueued reports whether the recipient is still waiting to be processed
func (r *Recipient) IsQueued() bool {
	return r.Status == RecipientStatusQueued
}
