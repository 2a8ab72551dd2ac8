package repository

import (
	"context"
	"database/sql"
	"fmt"
)

type sqlStore struct {
	db         DB
	conn       *sql.DB
	campaigns  CampaignRepository
	recipients RecipientRepository
}

// NewStore creates a Store backed by PostgreSQL
func NewStore(db *sql.DB) Store {
	return newSQLStore(db, db)
}

func newSQLStore(db DB, conn *sql.DB) *sqlStore {
	return &sqlStore{
		db:         db,
		conn:       conn,
		campaigns:  NewCampaignRepository(db),
		recipients: NewRecipientRepository(db),
	}
}

func (s *sqlStore) Campaigns() CampaignRepository {
	return s.campaigns
}

func (s *sqlStore) Recipients() RecipientRepository {
	return s.recipients
}

// WithinTx begins a transaction, or joins the current one when already inside
func (s *sqlStore) WithinTx(ctx context.Context, fn func(tx Store) error) error {
	if _, inTx := s.db.(*sql.Tx); inTx || s.conn == nil {
		return fn(s)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(newSQLStore(tx, nil)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
