package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	trmpgx "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"horse-wager/internal/model"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// Store implements the ledger and history stores on Postgres. Every method
// joins the transaction carried by ctx, if any.
type Store struct {
	pool   *pgxpool.Pool
	getter *trmpgx.CtxGetter
	trm    *manager.Manager
}

func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 20
	cfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return New(pool)
}

func New(pool *pgxpool.Pool) (*Store, error) {
	m, err := manager.New(trmpgx.NewDefaultFactory(pool))
	if err != nil {
		return nil, fmt.Errorf("tx manager: %w", err)
	}
	return &Store{pool: pool, getter: trmpgx.DefaultCtxGetter, trm: m}, nil
}

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Ping(ctx context.Context) error {
	return classify(s.pool.Ping(ctx))
}

func (s *Store) conn(ctx context.Context) trmpgx.Tr {
	return s.getter.DefaultTrOrDB(ctx, s.pool)
}

// Do runs fn in a transaction; nested calls join the outer one.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	return classify(s.trm.Do(ctx, fn))
}

// ── Errors ───────────────────────────────────────────

const (
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	balanceCheck             = "accounts_balance_check"
)

// classify maps driver errors onto the model taxonomy. Errors that already
// carry a model sentinel pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{model.ErrNotFound, model.ErrValidation, model.ErrInsufficientFunds, model.ErrIntegrity, model.ErrStorage} {
		if errors.Is(err, known) {
			return err
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case codeCheckViolation:
			if pgErr.ConstraintName == balanceCheck {
				return fmt.Errorf("%w: %s", model.ErrInsufficientFunds, pgErr.Message)
			}
			return fmt.Errorf("%w: %s", model.ErrIntegrity, pgErr.Message)
		case codeSerializationFailure, codeDeadlockDetected:
			return fmt.Errorf("%w: %s", model.ErrStorage, pgErr.Message)
		}
	}
	return fmt.Errorf("%w: %v", model.ErrStorage, err)
}
