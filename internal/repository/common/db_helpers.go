package common

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/ignatzorin/escrow-backend/internal/domain/repository"
)

// uniqueViolation — код ошибки PostgreSQL при нарушении уникального индекса.
const uniqueViolation = "23505"

// Querier — общий интерфейс *sqlx.DB и *sqlx.Tx.
type Querier interface {
	sqlx.ExtContext
}

// Get выполняет запрос одной строки. Отсутствие строки превращается в repository.ErrNotFound.
func Get[T any](ctx context.Context, q Querier, what, query string, args ...any) (*T, error) {
	var entity T
	if err := sqlx.GetContext(ctx, q, &entity, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", what, err)
	}
	return &entity, nil
}

// Select выполняет запрос списка и возвращает указатели на элементы.
func Select[T any](ctx context.Context, q Querier, what, query string, args ...any) ([]*T, error) {
	var rows []T
	if err := sqlx.SelectContext(ctx, q, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("select %s: %w", what, err)
	}
	out := make([]*T, len(rows))
	for i := range rows {
		out[i] = &rows[i]
	}
	return out, nil
}

// Exec выполняет запрос изменения. Уникальный конфликт превращается в repository.ErrAlreadyExists,
// если notAffected задан, отсутствие затронутых строк возвращает его.
func Exec(ctx context.Context, q Querier, what string, notAffected error, query string, args ...any) error {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		if IsUniqueViolation(err) {
			return repository.ErrAlreadyExists
		}
		return fmt.Errorf("%s: %w", what, err)
	}
	if notAffected == nil {
		return nil
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", what, err)
	}
	if n == 0 {
		return notAffected
	}
	return nil
}

func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// JSONArg передаёт jsonb параметр текстом: []byte драйвер отправил бы как bytea.
func JSONArg(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}

// WithTransaction выполняет функцию внутри транзакции с правильной обработкой ошибок
func WithTransaction(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			// При панике откатываем транзакцию
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("tx error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
