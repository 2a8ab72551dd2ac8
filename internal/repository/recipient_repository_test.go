package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailcampaign/internal/models"
)

var recipientRowColumns = []string{"id", "campaign_id", "name", "email", "status", "error_message", "created_at", "updated_at"}

func TestRecipientRepository_Create_UnknownCampaign(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecipientRepository(db)

	mock.ExpectQuery("INSERT INTO recipients").
		WithArgs(42, "Ada", "ada@example.com", models.RecipientStatusQueued, nil).
		WillReturnError(&pq.Error{Code: pqForeignKeyViolation})

	err := repo.Create(context.Background(), &models.Recipient{
		CampaignID: 42,
		Name:       "Ada",
		Email:      "ada@example.com",
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecipientRepository_ListQueued(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecipientRepository(db)
	now := time.Now()

	mock.ExpectQuery("WHERE campaign_id = \\$1 AND status = \\$2").
		WithArgs(1, models.RecipientStatusQueued).
		WillReturnRows(sqlmock.NewRows(recipientRowColumns).
			AddRow(1, 1, "Ada", "ada@example.com", int64(0), nil, now, now).
			AddRow(2, 1, "Grace", "grace@example.com", int64(0), nil, now.Add(time.Second), now))

	recipients, err := repo.ListQueued(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, recipients, 2)

	assert.Equal(t, "Ada", recipients[0].Name)
	assert.Equal(t, models.RecipientStatusQueued, recipients[1].Status)
	assert.Nil(t, recipients[1].ErrorMessage)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecipientRepository_MarkFailed(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecipientRepository(db)

	mock.ExpectExec("UPDATE recipients").
		WithArgs(models.RecipientStatusFailed, "Simulated delivery failure", 9, models.RecipientStatusQueued).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkFailed(context.Background(), 9, "Simulated delivery failure"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecipientRepository_MarkSent_AlreadyFinished(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecipientRepository(db)

	mock.ExpectExec("UPDATE recipients").
		WithArgs(models.RecipientStatusSent, nil, 9, models.RecipientStatusQueued).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(9).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := repo.MarkSent(context.Background(), 9)
	assert.ErrorIs(t, err, ErrStatusConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecipientRepository_UpdateContact(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRecipientRepository(db)
	now := time.Now()

	mock.ExpectQuery("UPDATE recipients").
		WithArgs("Ada L.", "ada@example.org", 3, 1, models.RecipientStatusQueued).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))

	recipient := &models.Recipient{ID: 3, CampaignID: 1, Name: "Ada L.", Email: "ada@example.org"}
	require.NoError(t, repo.UpdateContact(context.Background(), recipient))

	assert.Equal(t, now, recipient.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}
