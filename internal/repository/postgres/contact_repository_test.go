package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContactRepository_ByIDs(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewContactRepository(db)

	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`(?s)SELECT id, name, email, whatsapp, created_at.*FROM users WHERE id = ANY\(\$1\)`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "whatsapp", "created_at"}).
			AddRow("u1", "Ada", "ada@example.com", "+41790000000", created).
			AddRow("u2", "Bo", nil, nil, created))

	contacts, err := repo.ByIDs(context.Background(), []string{"u1", "u2", "ghost"})
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.Equal(t, "ada@example.com", contacts[0].Email)
	assert.Equal(t, "+41790000000", contacts[0].Phone)
	assert.Empty(t, contacts[1].Email)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContactRepository_ByIDsEmpty(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewContactRepository(db)

	contacts, err := repo.ByIDs(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, contacts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestContactRepository_All(t *testing.T) {
	db, mock := setupTestDB(t)
	repo := NewContactRepository(db)

	mock.ExpectQuery(`(?s)SELECT id, name, email, whatsapp, created_at.*FROM users ORDER BY created_at`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "email", "whatsapp", "created_at"}).
			AddRow("u1", "Ada", "ada@example.com", "", time.Now()))

	contacts, err := repo.All(context.Background())
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	assert.Equal(t, "Ada", contacts[0].Name)
}
