package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"mailcampaign/internal/models"
)

// pqForeignKeyViolation is the SQLSTATE for foreign_key_violation
const pqForeignKeyViolation = "23503"

const recipientColumns = `id, campaign_id, name, email, status, error_message, created_at, updated_at`

type recipientRepository struct {
	db DB
}

// NewRecipientRepository creates a new recipient repository
func NewRecipientRepository(db DB) RecipientRepository {
	return &recipientRepository{db: db}
}

// Create creates a new recipient
func (r *recipientRepository) Create(ctx context.Context, recipient *models.Recipient) error {
	query := `
		INSERT INTO recipients (campaign_id, name, email, status, error_message)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		recipient.CampaignID,
		recipient.Name,
		recipient.Email,
		recipient.Status,
		recipient.ErrorMessage,
	).Scan(&recipient.ID, &recipient.CreatedAt, &recipient.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqForeignKeyViolation {
		return fmt.Errorf("campaign %d: %w", recipient.CampaignID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to create recipient: %w", err)
	}

	return nil
}

// CreateBatch creates multiple recipients in the given order.
// Run it inside Store.WithinTx to make the batch atomic.
func (r *recipientRepository) CreateBatch(ctx context.Context, recipients []*models.Recipient) error {
	for _, recipient := range recipients {
		if err := r.Create(ctx, recipient); err != nil {
			return err
		}
	}
	return nil
}

// GetByID retrieves a recipient by ID
func (r *recipientRepository) GetByID(ctx context.Context, id int) (*models.Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE id = $1`

	recipient, err := scanRecipient(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("recipient %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get recipient: %w", err)
	}

	return recipient, nil
}

// ListByCampaign retrieves all recipients of a campaign in creation order
func (r *recipientRepository) ListByCampaign(ctx context.Context, campaignID int) ([]*models.Recipient, error) {
	query := `
		SELECT ` + recipientColumns + `
		FROM recipients
		WHERE campaign_id = $1
		ORDER BY created_at ASC, id ASC
	`

	return r.list(ctx, query, campaignID)
}

// ListQueued retrieves the queued recipients of a campaign in creation order
func (r *recipientRepository) ListQueued(ctx context.Context, campaignID int) ([]*models.Recipient, error) {
	query := `
		SELECT ` + recipientColumns + `
		FROM recipients
		WHERE campaign_id = $1 AND status = $2
		ORDER BY created_at ASC, id ASC
	`

	return r.list(ctx, query, campaignID, models.RecipientStatusQueued)
}

// UpdateContact updates name and email while the recipient is queued
func (r *recipientRepository) UpdateContact(ctx context.Context, recipient *models.Recipient) error {
	query := `
		UPDATE recipients
		SET name = $1, email = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $3 AND campaign_id = $4 AND status = $5
		RETURNING updated_at
	`

	err := r.db.QueryRowContext(
		ctx,
		query,
		recipient.Name,
		recipient.Email,
		recipient.ID,
		recipient.CampaignID,
		models.RecipientStatusQueued,
	).Scan(&recipient.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return r.missOrConflict(ctx, recipient.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to update recipient: %w", err)
	}

	return nil
}

// MarkSent moves a queued recipient to sent
func (r *recipientRepository) MarkSent(ctx context.Context, id int) error {
	return r.finish(ctx, id, models.RecipientStatusSent, nil)
}

// MarkFailed moves a queued recipient to failed with the given reason
func (r *recipientRepository) MarkFailed(ctx context.Context, id int, errorMessage string) error {
	return r.finish(ctx, id, models.RecipientStatusFailed, &errorMessage)
}

// finish sets a terminal status; the status guard keeps it set-once
func (r *recipientRepository) finish(ctx context.Context, id int, status models.RecipientStatus, errorMessage *string) error {
	query := `
		UPDATE recipients
		SET status = $1, error_message = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $3 AND status = $4
	`

	result, err := r.db.ExecContext(ctx, query, status, errorMessage, id, models.RecipientStatusQueued)
	if err != nil {
		return fmt.Errorf("failed to update recipient status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return r.missOrConflict(ctx, id)
	}

	return nil
}

// Delete deletes a recipient
func (r *recipientRepository) Delete(ctx context.Context, id int) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM recipients WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete recipient: %w", err)
	}

	return expectOneRow(result, fmt.Errorf("recipient %d: %w", id, ErrNotFound))
}

// DeleteByCampaign deletes every recipient of a campaign
func (r *recipientRepository) DeleteByCampaign(ctx context.Context, campaignID int) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM recipients WHERE campaign_id = $1`, campaignID)
	if err != nil {
		return fmt.Errorf("failed to delete recipients: %w", err)
	}
	return nil
}

func (r *recipientRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Recipient, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	defer rows.Close()

	recipients := []*models.Recipient{}
	for rows.Next() {
		recipient, err := scanRecipient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recipient: %w", err)
		}
		recipients = append(recipients, recipient)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate recipients: %w", err)
	}

	return recipients, nil
}

func (r *recipientRepository) missOrConflict(ctx context.Context, id int) error {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM recipients WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check recipient: %w", err)
	}
	if !exists {
		return fmt.Errorf("recipient %d: %w", id, ErrNotFound)
	}
	return fmt.Errorf("recipient %d is no longer queued: %w", id, ErrStatusConflict)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecipient(row rowScanner) (*models.Recipient, error) {
	recipient := &models.Recipient{}
	err := row.Scan(
		&recipient.ID,
		&recipient.CampaignID,
		&recipient.Name,
		&recipient.Email,
		&recipient.Status,
		&recipient.ErrorMessage,
		&recipient.CreatedAt,
		&recipient.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return recipient, nil
}
