package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignatzorin/escrow-backend/internal/domain/entity"
	domain "github.com/ignatzorin/escrow-backend/internal/domain/repository"
	"github.com/ignatzorin/escrow-backend/internal/domain/valueobject"
)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "postgres"), mock
}

func TestOrderRepository_UpdateChecksVersion(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOrderRepository(db)
	o := &entity.Order{ID: uuid.New(), Status: valueobject.OrderStatusInProgress, Version: 3, UpdatedAt: time.Now()}

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(`UPDATE orders`).
			WithArgs(append([]driver.Value{o.ID, 3}, anyArgs(15)...)...).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.Update(context.Background(), o))
		assert.Equal(t, 4, o.Version)
	})

	t.Run("Conflict", func(t *testing.T) {
		mock.ExpectExec(`UPDATE orders`).WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.Update(context.Background(), o)
		assert.ErrorIs(t, err, domain.ErrVersionConflict)
		assert.Equal(t, 4, o.Version)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_FindByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOrderRepository(db)
	id := uuid.New()

	mock.ExpectQuery(`SELECT .+ FROM orders WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.FindByID(context.Background(), id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_ListOverdue(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewOrderRepository(db)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM orders\s+WHERE status = \$1 AND overdue_at IS NULL AND delivery_due_at < \$2`).
		WithArgs("in_progress", now, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	orders, err := repo.ListOverdue(context.Background(), now, 50)
	require.NoError(t, err)
	assert.Empty(t, orders)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepository_AppendAssignsSeq(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTransactionRepository(db)
	tx, err := entity.NewTransaction(uuid.New(), valueobject.TransactionTypePayout, decimal.RequireFromString("850"), "cap_1", time.Now())
	require.NoError(t, err)

	mock.ExpectQuery(`INSERT INTO transactions .+ COALESCE\(MAX\(seq\), 0\) \+ 1 .+ RETURNING seq`).
		WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(int64(2)))

	require.NoError(t, repo.Append(context.Background(), tx))
	assert.Equal(t, int64(2), tx.Seq)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransactionRepository_DuplicateKey(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewTransactionRepository(db)
	key := "k1"
	tx := &entity.Transaction{ID: uuid.New(), OrderID: uuid.New(), Type: valueobject.TransactionTypeRefund,
		Amount: decimal.RequireFromString("10"), IdempotencyKey: &key}

	mock.ExpectQuery(`INSERT INTO transactions`).WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Append(context.Background(), tx)
	assert.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestDisputeRepository_CreateSecondActive(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDisputeRepository(db)
	d := &entity.Dispute{ID: uuid.New(), OrderID: uuid.New(), Status: valueobject.DisputeStatusOpen}

	t.Run("UniqueViolation", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO disputes`).WillReturnError(&pq.Error{Code: "23505"})
		assert.ErrorIs(t, repo.Create(context.Background(), d), domain.ErrAlreadyExists)
	})

	t.Run("DBError", func(t *testing.T) {
		mock.ExpectExec(`INSERT INTO disputes`).WillReturnError(errors.New("connection reset"))
		err := repo.Create(context.Background(), d)
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrAlreadyExists)
	})
}

func TestDisputeRepository_ListMessagesHidesInternal(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDisputeRepository(db)
	disputeID := uuid.New()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"id", "dispute_id", "sender_id", "party", "body", "internal", "created_at"}).
		AddRow(uuid.NewString(), disputeID.String(), nil, "system", "Спор открыт", false, now)
	mock.ExpectQuery(`FROM dispute_messages\s+WHERE dispute_id = \$1 AND \(\$2 OR NOT internal\)`).
		WithArgs(disputeID, false).
		WillReturnRows(rows)

	msgs, err := repo.ListMessages(context.Background(), disputeID, false)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, valueobject.PartySystem, msgs[0].Party)
	assert.Nil(t, msgs[0].SenderID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDisputeRepository_SaveResolutionUpserts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDisputeRepository(db)
	res := &entity.Resolution{ID: uuid.New(), DisputeID: uuid.New(), Outcome: valueobject.OutcomePartial}

	mock.ExpectExec(`INSERT INTO dispute_resolutions .+ ON CONFLICT \(dispute_id\) DO UPDATE`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SaveResolution(context.Background(), res))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEventRepository_MarkDeliveredUnknown(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db)

	mock.ExpectExec(`UPDATE domain_events SET delivered_at`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.MarkDelivered(context.Background(), uuid.New(), time.Now())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEventRepository_AddSendsJSONAsText(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db)
	client := uuid.New()
	e := &entity.DomainEvent{
		ID:          uuid.New(),
		Type:        "order.status_changed",
		AggregateID: uuid.New(),
		Payload:     []byte(`{"from":"pending","to":"accepted"}`),
		Recipients:  entity.Recipients{client},
		CreatedAt:   time.Now(),
	}

	mock.ExpectExec(`INSERT INTO domain_events`).
		WithArgs(e.ID, e.Type, e.AggregateID, `{"from":"pending","to":"accepted"}`,
			`["`+client.String()+`"]`, e.CreatedAt, nil, 0).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Add(context.Background(), e))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPrefixed(t *testing.T) {
	assert.Equal(t, "d.id, d.order_id, d.status", prefixed("d.", "id, order_id,\n\tstatus"))
}

func anyArgs(n int) []driver.Value {
	out := make([]driver.Value, n)
	for i := range out {
		out[i] = sqlmock.AnyArg()
	}
	return out
}
