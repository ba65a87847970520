package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"retailpos/backend/internal/domain"
	"retailpos/backend/internal/store"
)

//go:embed schema.sql
var schemaSQL string

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

type Store struct {
	db         *sql.DB
	logger     *zap.Logger
	maxRetries int
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func New(ctx context.Context, databaseURL string, logger *zap.Logger, maxRetries int) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, logger: logger.Named("postgres"), maxRetries: maxRetries}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// withTx runs fn in a serializable transaction, retrying on serialization
// failures, deadlocks and lock timeouts with exponential backoff. fn must not
// leak state between attempts.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	backoff := 25 * time.Millisecond
	for attempt := 0; ; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		if attempt >= s.maxRetries {
			s.logger.Warn("transaction retries exhausted", zap.String("op", op), zap.Int("attempts", attempt+1), zap.Error(err))
			return fmt.Errorf("%w: %s", store.ErrConflict, op)
		}
		s.logger.Debug("retrying transaction", zap.String("op", op), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SET LOCAL lock_timeout = '5s'`); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// sortMovements orders inputs by (product, location) so concurrent
// transactions acquire row locks in the same order.
func sortMovements(ins []domain.MovementInput) []domain.MovementInput {
	sorted := make([]domain.MovementInput, len(ins))
	copy(sorted, ins)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ProductID != sorted[j].ProductID {
			return sorted[i].ProductID < sorted[j].ProductID
		}
		return sorted[i].LocationID < sorted[j].LocationID
	})
	return sorted
}

func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03":
			return true
		}
	}
	return false
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// foreignKeyError maps a foreign key violation to the matching sentinel.
func foreignKeyError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23503" {
		return err
	}
	switch pgErr.ConstraintName {
	case "stock_records_product_id_fkey", "sale_items_product_id_fkey", "return_items_product_id_fkey", "return_items_exchange_product_id_fkey":
		return store.ErrInvalidProduct
	case "stock_records_location_id_fkey", "sales_location_id_fkey", "sale_items_location_id_fkey", "return_items_location_id_fkey":
		return store.ErrInvalidLocation
	default:
		return store.ErrInvalidTransaction
	}
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func rangeFilter(column string, from time.Time, to time.Time) sq.And {
	cond := sq.And{}
	if !from.IsZero() {
		cond = append(cond, sq.GtOrEq{column: from.UTC()})
	}
	if !to.IsZero() {
		cond = append(cond, sq.Lt{column: to.UTC()})
	}
	return cond
}
