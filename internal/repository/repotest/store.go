// Package repotest provides an in-memory repository.Store for tests.
package repotest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"mailcampaign/internal/models"
	"mailcampaign/internal/repository"
)

// Store is a goroutine-safe in-memory implementation of repository.Store.
// It mirrors the guards of the SQL repositories: campaign status never
// regresses or skips a step, and recipient status is set once.
type Store struct {
	mu         sync.Mutex
	campaigns  map[int]*models.Campaign
	recipients map[int]*models.Recipient
	nextID     int
	clock      time.Time

	// Hooks let tests inject faults; they run without the store lock held.
	BeforeMarkSent        func(id int) error
	BeforeMarkFailed      func(id int) error
	BeforeListQueued      func(campaignID int) error
	BeforeCreateRecipient func(r *models.Recipient) error
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		campaigns:  make(map[int]*models.Campaign),
		recipients: make(map[int]*models.Recipient),
		clock:      time.Date(2026, 1, 13, 9, 0, 0, 0, time.UTC),
	}
}

func (s *Store) Campaigns() repository.CampaignRepository {
	return campaignRepo{s}
}

func (s *Store) Recipients() repository.RecipientRepository {
	return recipientRepo{s}
}

// WithinTx runs fn and restores the previous state when it fails
func (s *Store) WithinTx(ctx context.Context, fn func(tx repository.Store) error) error {
	s.mu.Lock()
	campaigns, recipients, nextID := s.snapshotLocked()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.campaigns, s.recipients, s.nextID = campaigns, recipients, nextID
		s.mu.Unlock()
		return err
	}
	return nil
}

// SeedCampaign inserts a campaign with recipients named "Customer N"
func (s *Store) SeedCampaign(title string, status models.CampaignStatus, recipients int) (*models.Campaign, []*models.Recipient) {
	ctx := context.Background()
	c := &models.Campaign{Title: title, Status: status}
	if err := s.Campaigns().Create(ctx, c); err != nil {
		panic(err)
	}

	created := make([]*models.Recipient, 0, recipients)
	for i := 1; i <= recipients; i++ {
		r := &models.Recipient{
			CampaignID: c.ID,
			Name:       fmt.Sprintf("Customer %d", i),
			Email:      fmt.Sprintf("customer%d@example.com", i),
			Status:     models.RecipientStatusQueued,
		}
		if err := s.Recipients().Create(ctx, r); err != nil {
			panic(err)
		}
		created = append(created, r)
	}
	return c, created
}

// CampaignCount returns the number of stored campaigns
func (s *Store) CampaignCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.campaigns)
}

// RecipientCount returns the number of stored recipients
func (s *Store) RecipientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recipients)
}

func (s *Store) snapshotLocked() (map[int]*models.Campaign, map[int]*models.Recipient, int) {
	campaigns := make(map[int]*models.Campaign, len(s.campaigns))
	for id, c := range s.campaigns {
		copied := *c
		campaigns[id] = &copied
	}
	recipients := make(map[int]*models.Recipient, len(s.recipients))
	for id, r := range s.recipients {
		recipients[id] = copyRecipient(r)
	}
	return campaigns, recipients, s.nextID
}

// tickLocked returns a strictly increasing timestamp
func (s *Store) tickLocked() time.Time {
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

func (s *Store) idLocked() int {
	s.nextID++
	return s.nextID
}

func (s *Store) statsLocked(campaignID int) models.CampaignStats {
	var stats models.CampaignStats
	for _, r := range s.recipients {
		if r.CampaignID != campaignID {
			continue
		}
		stats.Total++
		switch r.Status {
		case models.RecipientStatusQueued:
			stats.Queued++
		case models.RecipientStatusSent:
			stats.Sent++
		case models.RecipientStatusFailed:
			stats.Failed++
		}
	}
	return stats
}

func copyRecipient(r *models.Recipient) *models.Recipient {
	copied := *r
	if r.ErrorMessage != nil {
		msg := *r.ErrorMessage
		copied.ErrorMessage = &msg
	}
	return &copied
}

type campaignRepo struct{ s *Store }

func (r campaignRepo) Create(ctx context.Context, c *models.Campaign) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.tickLocked()
	c.ID = r.s.idLocked()
	c.CreatedAt, c.UpdatedAt = now, now
	copied := *c
	r.s.campaigns[c.ID] = &copied
	return nil
}

func (r campaignRepo) GetByID(ctx context.Context, id int) (*models.Campaign, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign %d: %w", id, repository.ErrNotFound)
	}
	copied := *c
	return &copied, nil
}

func (r campaignRepo) GetWithStats(ctx context.Context, id int) (*models.CampaignWithStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("campaign %d: %w", id, repository.ErrNotFound)
	}
	return &models.CampaignWithStats{Campaign: *c, Stats: r.s.statsLocked(id)}, nil
}

func (r campaignRepo) List(ctx context.Context) ([]*models.CampaignWithStats, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]*models.CampaignWithStats, 0, len(r.s.campaigns))
	for id, c := range r.s.campaigns {
		out = append(out, &models.CampaignWithStats{Campaign: *c, Stats: r.s.statsLocked(id)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r campaignRepo) UpdateTitle(ctx context.Context, id int, title string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.campaigns[id]
	if !ok {
		return fmt.Errorf("campaign %d: %w", id, repository.ErrNotFound)
	}
	c.Title = title
	c.UpdatedAt = r.s.tickLocked()
	return nil
}

func (r campaignRepo) UpdateStatus(ctx context.Context, id int, status models.CampaignStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.campaigns[id]
	if !ok {
		return fmt.Errorf("campaign %d: %w", id, repository.ErrNotFound)
	}
	if status < c.Status || status > c.Status+1 {
		return fmt.Errorf("campaign %d to %s: %w", id, status, repository.ErrStatusConflict)
	}
	c.Status = status
	c.UpdatedAt = r.s.tickLocked()
	return nil
}

func (r campaignRepo) Delete(ctx context.Context, id int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.campaigns[id]; !ok {
		return fmt.Errorf("campaign %d: %w", id, repository.ErrNotFound)
	}
	delete(r.s.campaigns, id)
	for rid, rec := range r.s.recipients {
		if rec.CampaignID == id {
			delete(r.s.recipients, rid)
		}
	}
	return nil
}

type recipientRepo struct{ s *Store }

func (r recipientRepo) Create(ctx context.Context, rec *models.Recipient) error {
	if hook := r.s.BeforeCreateRecipient; hook != nil {
		if err := hook(rec); err != nil {
			return err
		}
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.campaigns[rec.CampaignID]; !ok {
		return fmt.Errorf("campaign %d: %w", rec.CampaignID, repository.ErrNotFound)
	}
	now := r.s.tickLocked()
	rec.ID = r.s.idLocked()
	rec.CreatedAt, rec.UpdatedAt = now, now
	r.s.recipients[rec.ID] = copyRecipient(rec)
	return nil
}

func (r recipientRepo) CreateBatch(ctx context.Context, recs []*models.Recipient) error {
	for _, rec := range recs {
		if err := r.Create(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (r recipientRepo) GetByID(ctx context.Context, id int) (*models.Recipient, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rec, ok := r.s.recipients[id]
	if !ok {
		return nil, fmt.Errorf("recipient %d: %w", id, repository.ErrNotFound)
	}
	return copyRecipient(rec), nil
}

func (r recipientRepo) ListByCampaign(ctx context.Context, campaignID int) ([]*models.Recipient, error) {
	return r.list(campaignID, nil), nil
}

func (r recipientRepo) ListQueued(ctx context.Context, campaignID int) ([]*models.Recipient, error) {
	if hook := r.s.BeforeListQueued; hook != nil {
		if err := hook(campaignID); err != nil {
			return nil, err
		}
	}
	queued := models.RecipientStatusQueued
	return r.list(campaignID, &queued), nil
}

func (r recipientRepo) list(campaignID int, status *models.RecipientStatus) []*models.Recipient {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := []*models.Recipient{}
	for _, rec := range r.s.recipients {
		if rec.CampaignID != campaignID {
			continue
		}
		if status != nil && rec.Status != *status {
			continue
		}
		out = append(out, copyRecipient(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r recipientRepo) UpdateContact(ctx context.Context, rec *models.Recipient) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.s.recipients[rec.ID]
	if !ok || stored.CampaignID != rec.CampaignID {
		return fmt.Errorf("recipient %d: %w", rec.ID, repository.ErrNotFound)
	}
	if !stored.IsQueued() {
		return fmt.Errorf("recipient %d is no longer queued: %w", rec.ID, repository.ErrStatusConflict)
	}
	stored.Name = rec.Name
	stored.Email = rec.Email
	stored.UpdatedAt = r.s.tickLocked()
	rec.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r recipientRepo) MarkSent(ctx context.Context, id int) error {
	if hook := r.s.BeforeMarkSent; hook != nil {
		if err := hook(id); err != nil {
			return err
		}
	}
	return r.finish(id, models.RecipientStatusSent, nil)
}

func (r recipientRepo) MarkFailed(ctx context.Context, id int, errorMessage string) error {
	if hook := r.s.BeforeMarkFailed; hook != nil {
		if err := hook(id); err != nil {
			return err
		}
	}
	return r.finish(id, models.RecipientStatusFailed, &errorMessage)
}

func (r recipientRepo) finish(id int, status models.RecipientStatus, errorMessage *string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rec, ok := r.s.recipients[id]
	if !ok {
		return fmt.Errorf("recipient %d: %w", id, repository.ErrNotFound)
	}
	if !rec.IsQueued() {
		return fmt.Errorf("recipient %d is no longer queued: %w", id, repository.ErrStatusConflict)
	}
	rec.Status = status
	rec.ErrorMessage = errorMessage
	rec.UpdatedAt = r.s.tickLocked()
	return nil
}

func (r recipientRepo) Delete(ctx context.Context, id int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.recipients[id]; !ok {
		return fmt.Errorf("recipient %d: %w", id, repository.ErrNotFound)
	}
	delete(r.s.recipients, id)
	return nil
}

func (r recipientRepo) DeleteByCampaign(ctx context.Context, campaignID int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for id, rec := range r.s.recipients {
		if rec.CampaignID == campaignID {
			delete(r.s.recipients, id)
		}
	}
	return nil
}
