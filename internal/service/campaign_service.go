package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"mailcampaign/internal/models"
	"mailcampaign/internal/repository"
)

// Messages returned by RequestDispatch
const (
	MsgDispatchStarted   = "Campaign dispatch started! Watch the progress below."
	MsgAlreadyDispatched = "Campaign has already been dispatched."
)

// CampaignService handles campaign business logic
type CampaignService struct {
	store     repository.Store
	scheduler JobScheduler
}

// NewCampaignService creates a new campaign service
func NewCampaignService(store repository.Store, scheduler JobScheduler) *CampaignService {
	return &CampaignService{
		store:     store,
		scheduler: scheduler,
	}
}

// CreateCampaign creates a pending campaign with queued recipients
func (s *CampaignService) CreateCampaign(ctx context.Context, req *CreateCampaignRequest) (*models.CampaignDetail, error) {
	campaign := &models.Campaign{
		Title:  strings.TrimSpace(req.Title),
		Status: models.CampaignStatusPending,
	}

	var problems []string
	if err := campaign.Validate(); err != nil {
		problems = append(problems, err.Error())
	}

	inputs := compactRecipients(req.Recipients)
	if len(inputs) == 0 {
		problems = append(problems, "at least one recipient is required")
	}

	recipients := make([]*models.Recipient, 0, len(inputs))
	for i, input := range inputs {
		recipient := input.toRecipient(0)
		problems = append(problems, recipientProblems(i, recipient)...)
		recipients = append(recipients, recipient)
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Message: strings.Join(problems, "; ")}
	}

	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		if err := tx.Campaigns().Create(ctx, campaign); err != nil {
			return err
		}
		for _, recipient := range recipients {
			recipient.CampaignID = campaign.ID
		}
		return tx.Recipients().CreateBatch(ctx, recipients)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"campaign_id": campaign.ID,
		"recipients":  len(recipients),
	}).Info("Campaign created")

	return s.GetCampaign(ctx, campaign.ID)
}

// GetCampaign retrieves a campaign with stats and its recipients
func (s *CampaignService) GetCampaign(ctx context.Context, id int) (*models.CampaignDetail, error) {
	campaign, err := s.store.Campaigns().GetWithStats(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "get campaign", "campaign", id)
	}

	recipients, err := s.store.Recipients().ListByCampaign(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}

	return &models.CampaignDetail{
		CampaignWithStats: *campaign,
		Recipients:        recipients,
	}, nil
}

// ListCampaigns lists all campaigns with statistics, newest first
func (s *CampaignService) ListCampaigns(ctx context.Context) ([]*models.CampaignWithStats, error) {
	campaigns, err := s.store.Campaigns().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return campaigns, nil
}

// ListRecipients lists the recipients of a campaign in creation order
func (s *CampaignService) ListRecipients(ctx context.Context, campaignID int) ([]*models.Recipient, error) {
	if _, err := s.store.Campaigns().GetByID(ctx, campaignID); err != nil {
		return nil, mapRepoError(err, "get campaign", "campaign", campaignID)
	}

	recipients, err := s.store.Recipients().ListByCampaign(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	return recipients, nil
}

// UpdateCampaign changes the title and applies nested recipient changes.
// Recipients can only be changed while the campaign is pending, and the
// campaign must keep at least one of them.
func (s *CampaignService) UpdateCampaign(ctx context.Context, id int, req *UpdateCampaignRequest) (*models.CampaignDetail, error) {
	campaign, err := s.store.Campaigns().GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "get campaign", "campaign", id)
	}

	var problems []string
	var title string
	if req.Title != nil {
		title = strings.TrimSpace(*req.Title)
		if err := (&models.Campaign{Title: title}).Validate(); err != nil {
			problems = append(problems, err.Error())
		}
	}

	changes := compactRecipients(req.Recipients)
	if len(changes) > 0 && !campaign.IsPending() {
		return nil, &ConflictError{
			Resource: "campaign",
			Message:  "Recipients can only be changed while the campaign is pending.",
		}
	}

	for i, change := range changes {
		if change.Destroy {
			if change.ID == nil {
				problems = append(problems, fmt.Sprintf("recipient %d: id is required to remove a recipient", i+1))
			}
			continue
		}
		problems = append(problems, recipientProblems(i, change.toRecipient(id))...)
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Message: strings.Join(problems, "; ")}
	}

	err = s.store.WithinTx(ctx, func(tx repository.Store) error {
		if req.Title != nil {
			if err := tx.Campaigns().UpdateTitle(ctx, id, title); err != nil {
				return mapRepoError(err, "update campaign title", "campaign", id)
			}
		}
		for _, change := range changes {
			if err := applyRecipientChange(ctx, tx.Recipients(), id, change); err != nil {
				return err
			}
		}
		if len(changes) == 0 {
			return nil
		}

		remaining, err := tx.Recipients().ListByCampaign(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to list recipients: %w", err)
		}
		if len(remaining) == 0 {
			return &BusinessLogicError{Message: "A campaign must keep at least one recipient."}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"campaign_id":       id,
		"recipient_changes": len(changes),
	}).Info("Campaign updated")

	return s.GetCampaign(ctx, id)
}

func applyRecipientChange(ctx context.Context, recipients repository.RecipientRepository, campaignID int, change RecipientInput) error {
	if change.ID == nil {
		recipient := change.toRecipient(campaignID)
		if err := recipients.Create(ctx, recipient); err != nil {
			return fmt.Errorf("failed to add recipient: %w", err)
		}
		return nil
	}

	recipientID := *change.ID
	existing, err := recipients.GetByID(ctx, recipientID)
	if err != nil {
		return mapRepoError(err, "get recipient", "recipient", recipientID)
	}
	if existing.CampaignID != campaignID {
		return &NotFoundError{Resource: "recipient", ID: recipientID}
	}

	if change.Destroy {
		if err := recipients.Delete(ctx, recipientID); err != nil {
			return mapRepoError(err, "remove recipient", "recipient", recipientID)
		}
		return nil
	}

	if err := recipients.UpdateContact(ctx, change.toRecipient(campaignID)); err != nil {
		return mapRepoError(err, "update recipient", "recipient", recipientID)
	}
	return nil
}

// DeleteCampaign deletes a campaign and its recipients
func (s *CampaignService) DeleteCampaign(ctx context.Context, id int) error {
	err := s.store.WithinTx(ctx, func(tx repository.Store) error {
		if _, err := tx.Campaigns().GetByID(ctx, id); err != nil {
			return mapRepoError(err, "get campaign", "campaign", id)
		}
		if err := tx.Recipients().DeleteByCampaign(ctx, id); err != nil {
			return fmt.Errorf("failed to delete recipients: %w", err)
		}
		if err := tx.Campaigns().Delete(ctx, id); err != nil {
			return mapRepoError(err, "delete campaign", "campaign", id)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logrus.WithField("campaign_id", id).Info("Campaign deleted")
	return nil
}

// RequestDispatch schedules a dispatch run for a pending campaign.
// The status check and the scheduling are not atomic: two concurrent
// requests for the same pending campaign may both be accepted.
func (s *CampaignService) RequestDispatch(ctx context.Context, id int) (*DispatchResult, error) {
	campaign, err := s.store.Campaigns().GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoError(err, "get campaign", "campaign", id)
	}

	if !campaign.CanDispatch() {
		return nil, &ConflictError{Resource: "campaign", Message: MsgAlreadyDispatched}
	}

	runID, err := s.scheduler.Schedule(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule dispatch: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"campaign_id": id,
		"run_id":      runID,
	}).Info("Campaign dispatch requested")

	return &DispatchResult{
		CampaignID: id,
		RunID:      runID,
		Message:    MsgDispatchStarted,
	}, nil
}

// Request/Response types

// RecipientInput is one nested recipient row of a create or update request
type RecipientInput struct {
	ID      *int   `json:"id,omitempty"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Destroy bool   `json:"_destroy,omitempty"`
}

func (in RecipientInput) blank() bool {
	return in.ID == nil && !in.Destroy &&
		strings.TrimSpace(in.Name) == "" && strings.TrimSpace(in.Email) == ""
}

func (in RecipientInput) toRecipient(campaignID int) *models.Recipient {
	recipient := &models.Recipient{
		CampaignID: campaignID,
		Name:       strings.TrimSpace(in.Name),
		Email:      strings.TrimSpace(in.Email),
		Status:     models.RecipientStatusQueued,
	}
	if in.ID != nil {
		recipient.ID = *in.ID
	}
	return recipient
}

// compactRecipients drops rows where every field is blank
func compactRecipients(inputs []RecipientInput) []RecipientInput {
	out := make([]RecipientInput, 0, len(inputs))
	for _, in := range inputs {
		if !in.blank() {
			out = append(out, in)
		}
	}
	return out
}

func recipientProblems(index int, recipient *models.Recipient) []string {
	problems := recipient.ValidationErrors()
	for i, p := range problems {
		problems[i] = fmt.Sprintf("recipient %d: %s", index+1, p)
	}
	return problems
}

// CreateCampaignRequest represents a request to create a campaign
type CreateCampaignRequest struct {
	Title      string           `json:"title"`
	Recipients []RecipientInput `json:"recipients"`
}

// UpdateCampaignRequest represents a request to update a campaign.
// Recipients without an id are added; with an id they are edited, or
// removed when Destroy is set.
type UpdateCampaignRequest struct {
	Title      *string          `json:"title,omitempty"`
	Recipients []RecipientInput `json:"recipients,omitempty"`
}

// DispatchResult represents an accepted dispatch request
type DispatchResult struct {
	CampaignID int    `json:"campaign_id"`
	RunID      string `json:"run_id"`
	Message    string `json:"message"`
}
