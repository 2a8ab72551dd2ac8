package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing()
	assert.NoError(t, verify(context.Background(), db))

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	err = verify(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping database")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConfigurePool(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	configurePool(db, PoolConfig{MaxOpenConns: 7, MaxIdleConns: 3})
	assert.Equal(t, 7, db.Stats().MaxOpenConnections)
}
