package queue

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvasirlabs/waitline/internal/apperr"
)

var entryColumns = []string{
	"id", "business_id", "helper_id", "user_id", "manual_id", "service_id",
	"gender", "preference", "joining_position", "current_position",
	"joining_time", "est_service_start", "est_wait_minutes", "added_minutes",
	"status", "total", "rating", "notes", "history", "created_at", "updated_at",
}

func newMockStore(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgres(mock), mock
}

func entryRow(rows *pgxmock.Rows, id string, position int, now time.Time) *pgxmock.Rows {
	return rows.AddRow(id, "biz-1", "h1", "u1", nil, "svc-cut",
		"female", "ANY", position, position,
		now, now.Add(30*time.Minute), 30, 0,
		"in_queue", 25.0, nil, "", []byte(`[{"action":"enqueue"}]`), now, now)
}

func TestGetEntryScansRow(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	mock.ExpectQuery(`SELECT id, business_id, helper_id`).
		WithArgs("e1").
		WillReturnRows(entryRow(pgxmock.NewRows(entryColumns), "e1", 1, now))

	entry, err := store.GetEntry(context.Background(), "e1")
	require.NoError(t, err)
	assert.Equal(t, "e1", entry.ID)
	assert.Equal(t, "u1", entry.UserID)
	assert.Empty(t, entry.ManualID)
	assert.Equal(t, PreferenceAny, entry.Preference)
	assert.Equal(t, StatusInQueue, entry.Status)
	assert.Nil(t, entry.Rating)
	require.Len(t, entry.History, 1)
	assert.Equal(t, now, entry.JoiningTime)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetEntryNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, business_id, helper_id`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetEntry(context.Background(), "missing")
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListLaneOrdersByPosition(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	rows := pgxmock.NewRows(entryColumns)
	entryRow(rows, "e1", 1, now)
	entryRow(rows, "e2", 2, now)
	mock.ExpectQuery(`ORDER BY current_position`).
		WithArgs("biz-1", "h1", liveStatuses).
		WillReturnRows(rows)

	lane, err := store.ListLane(context.Background(), "biz-1", "h1")
	require.NoError(t, err)
	require.Len(t, lane, 2)
	assert.Equal(t, "e1", lane[0].ID)
	assert.Equal(t, 2, lane[1].CurrentPosition)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCountLane(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM queue_entries`).
		WithArgs("biz-1", "h1", liveStatuses).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := store.CountLane(context.Background(), "biz-1", "h1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxCommitsSerializableTransaction(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery(`SELECT id, business_id, helper_id`).
		WithArgs("e1").
		WillReturnRows(entryRow(pgxmock.NewRows(entryColumns), "e1", 1, now))
	mock.ExpectCommit()

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		entry, err := tx.GetEntry(ctx, "e1")
		if err != nil {
			return err
		}
		assert.Equal(t, "e1", entry.ID)
		return nil
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectRollback()

	sentinel := apperr.InvalidArgument("nope")
	err := store.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunInTxMapsSerializationFailureToConflict(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectRollback()

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return &pgconn.PgError{Code: "40001"}
	})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTxUpdateEntryMissingRow(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectExec(`UPDATE queue_entries SET`).
		WithArgs("missing", "h1", 1, now, 30, 0, "in_queue", pgxmock.AnyArg(), "", pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectRollback()

	err := store.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.UpdateEntry(ctx, &Entry{
			ID: "missing", HelperID: "h1", CurrentPosition: 1,
			EstServiceStart: now, EstWaitMinutes: 30,
			Status: StatusInQueue, UpdatedAt: now,
		})
	})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
