package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"mailcampaign/internal/models"
)

type campaignRepository struct {
	db DB
}

// NewCampaignRepository creates a new campaign repository
func NewCampaignRepository(db DB) CampaignRepository {
	return &campaignRepository{db: db}
}

// Create creates a new campaign
func (r *campaignRepository) Create(ctx context.Context, campaign *models.Campaign) error {
	query := `
		INSERT INTO campaigns (title, status)
		VALUES ($1, $2)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		campaign.Title,
		campaign.Status,
	).Scan(&campaign.ID, &campaign.CreatedAt, &campaign.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}

	return nil
}

// GetByID retrieves a campaign by ID
func (r *campaignRepository) GetByID(ctx context.Context, id int) (*models.Campaign, error) {
	query := `
		SELECT id, title, status, created_at, updated_at
		FROM campaigns
		WHERE id = $1
	`

	campaign := &models.Campaign{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&campaign.ID,
		&campaign.Title,
		&campaign.Status,
		&campaign.CreatedAt,
		&campaign.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("campaign %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return campaign, nil
}

// GetWithStats retrieves a campaign with recipient statistics
func (r *campaignRepository) GetWithStats(ctx context.Context, id int) (*models.CampaignWithStats, error) {
	campaign, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	statsQuery := `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = $2) AS queued,
			COUNT(*) FILTER (WHERE status = $3) AS sent,
			COUNT(*) FILTER (WHERE status = $4) AS failed
		FROM recipients
		WHERE campaign_id = $1
	`

	stats := models.CampaignStats{}
	err = r.db.QueryRowContext(
		ctx,
		statsQuery,
		id,
		models.RecipientStatusQueued,
		models.RecipientStatusSent,
		models.RecipientStatusFailed,
	).Scan(
		&stats.Total,
		&stats.Queued,
		&stats.Sent,
		&stats.Failed,
	)

	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get campaign stats: %w", err)
	}

	return &models.CampaignWithStats{
		Campaign: *campaign,
		Stats:    stats,
	}, nil
}

// List retrieves all campaigns with statistics, newest first
func (r *campaignRepository) List(ctx context.Context) ([]*models.CampaignWithStats, error) {
	query := `
		SELECT
			c.id, c.title, c.status, c.created_at, c.updated_at,
			COUNT(r.id) AS total,
			COUNT(r.id) FILTER (WHERE r.status = $1) AS queued,
			COUNT(r.id) FILTER (WHERE r.status = $2) AS sent,
			COUNT(r.id) FILTER (WHERE r.status = $3) AS failed
		FROM campaigns c
		LEFT JOIN recipients r ON r.campaign_id = c.id
		GROUP BY c.id
		ORDER BY c.created_at DESC, c.id DESC
	`

	rows, err := r.db.QueryContext(
		ctx,
		query,
		models.RecipientStatusQueued,
		models.RecipientStatusSent,
		models.RecipientStatusFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	campaigns := []*models.CampaignWithStats{}
	for rows.Next() {
		c := &models.CampaignWithStats{}
		err := rows.Scan(
			&c.ID,
			&c.Title,
			&c.Status,
			&c.CreatedAt,
			&c.UpdatedAt,
			&c.Stats.Total,
			&c.Stats.Queued,
			&c.Stats.Sent,
			&c.Stats.Failed,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate campaigns: %w", err)
	}

	return campaigns, nil
}

// UpdateTitle updates the campaign title
func (r *campaignRepository) UpdateTitle(ctx context.Context, id int, title string) error {
	query := `
		UPDATE campaigns
		SET title = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`

	result, err := r.db.ExecContext(ctx, query, title, id)
	if err != nil {
		return fmt.Errorf("failed to update campaign title: %w", err)
	}

	return expectOneRow(result, fmt.Errorf("campaign %d: %w", id, ErrNotFound))
}

// UpdateStatus advances the campaign status by at most one step.
// The WHERE clause keeps the stored status monotonic even when callers race.
func (r *campaignRepository) UpdateStatus(ctx context.Context, id int, status models.CampaignStatus) error {
	query := `
		UPDATE campaigns
		SET status = $1, updated_at = CURRENT_TIMESTAMP
		WHERE id = $2 AND status BETWEEN $1 - 1 AND $1
	`

	result, err := r.db.ExecContext(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("failed to update campaign status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows > 0 {
		return nil
	}

	exists, err := r.exists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("campaign %d: %w", id, ErrNotFound)
	}
	return fmt.Errorf("campaign %d to %s: %w", id, status, ErrStatusConflict)
}

// Delete deletes a campaign
func (r *campaignRepository) Delete(ctx context.Context, id int) error {
	query := `DELETE FROM campaigns WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}

	return expectOneRow(result, fmt.Errorf("campaign %d: %w", id, ErrNotFound))
}

func (r *campaignRepository) exists(ctx context.Context, id int) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM campaigns WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check campaign: %w", err)
	}
	return exists, nil
}

// expectOneRow returns notFound when the statement touched no row
func expectOneRow(result sql.Result, notFound error) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return notFound
	}

	return nil
}
