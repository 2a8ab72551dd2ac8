package repository

import (
	"context"
	"database/sql"
	"errors"

	"mailcampaign/internal/models"
)

var (
	// ErrNotFound is returned when a row does not exist
	ErrNotFound = errors.New("not found")

	// ErrStatusConflict is returned when a guarded status update matched no row
	// because the current status does not allow the transition
	ErrStatusConflict = errors.New("status transition not allowed")
)

// CampaignRepository defines campaign data access operations
type CampaignRepository interface {
	Create(ctx context.Context, campaign *models.Campaign) error
	GetByID(ctx context.Context, id int) (*models.Campaign, error)
	GetWithStats(ctx context.Context, id int) (*models.CampaignWithStats, error)
	// List returns every campaign with stats, newest first
	List(ctx context.Context) ([]*models.CampaignWithStats, error)
	UpdateTitle(ctx context.Context, id int, title string) error
	// UpdateStatus moves the campaign forward; it never lowers the stored status
	UpdateStatus(ctx context.Context, id int, status models.CampaignStatus) error
	Delete(ctx context.Context, id int) error
}

// RecipientRepository defines recipient data access operations
type RecipientRepository interface {
	Create(ctx context.Context, recipient *models.Recipient) error
	CreateBatch(ctx context.Context, recipients []*models.Recipient) error
	GetByID(ctx context.Context, id int) (*models.Recipient, error)
	// ListByCampaign returns recipients in ascending creation order
	ListByCampaign(ctx context.Context, campaignID int) ([]*models.Recipient, error)
	// ListQueued returns queued recipients in ascending creation order
	ListQueued(ctx context.Context, campaignID int) ([]*models.Recipient, error)
	// UpdateContact changes name and email of a queued recipient
	UpdateContact(ctx context.Context, recipient *models.Recipient) error
	MarkSent(ctx context.Context, id int) error
	MarkFailed(ctx context.Context, id int, errorMessage string) error
	Delete(ctx context.Context, id int) error
	DeleteByCampaign(ctx context.Context, campaignID int) error
}

// Store groups the repositories and runs units of work in a transaction
type Store interface {
	Campaigns() CampaignRepository
	Recipients() RecipientRepository
	// WithinTx runs fn with repositories bound to a single transaction.
	// The transaction is committed when fn returns nil.
	WithinTx(ctx context.Context, fn func(tx Store) error) error
}

// DB is a wrapper around *sql.DB to allow passing in transaction
type DB interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}
