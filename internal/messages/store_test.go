package messages

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertInboundNewRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newStoreWithQuerier(mock)
	sentAt := time.Date(2025, 11, 4, 10, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO messages").
		WithArgs(pgxmock.AnyArg(), "whatsapp", "wamid-1", "chat-1", "hello", sentAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	id, created, err := store.InsertInbound(context.Background(), "whatsapp", "wamid-1", "chat-1", "hello", sentAt)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, id.String(), "00000000-0000-0000-0000-000000000000")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertInboundDuplicateReturnsExisting(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newStoreWithQuerier(mock)
	sentAt := time.Now().UTC()
	existing := pgxmock.NewRows([]string{"id"}).
		AddRow(uuid.MustParse("5f0c7f2e-3a1b-4f6d-9d2e-111213141516"))

	mock.ExpectExec("INSERT INTO messages").
		WithArgs(pgxmock.AnyArg(), "telegram", "42", "chat-9", "again", sentAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery("SELECT id FROM messages").
		WithArgs("telegram", "42").
		WillReturnRows(existing)

	id, created, err := store.InsertInbound(context.Background(), "telegram", "42", "chat-9", "again", sentAt)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "5f0c7f2e-3a1b-4f6d-9d2e-111213141516", id.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkAndCheckProcessed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newStoreWithQuerier(mock)
	id := uuid.New()

	mock.ExpectExec("UPDATE messages").
		WithArgs(id, "manager").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.MarkProcessed(context.Background(), id, "manager"))

	mock.ExpectQuery(`SELECT \$2 = ANY\(processed_by\) FROM messages`).
		WithArgs(id, "manager").
		WillReturnRows(pgxmock.NewRows([]string{"processed"}).AddRow(true))
	processed, err := store.IsProcessed(context.Background(), id, "manager")
	require.NoError(t, err)
	assert.True(t, processed)

	require.NoError(t, mock.ExpectationsWereMet())
}
