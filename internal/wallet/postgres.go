package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Adapter on a wallets table with a ledger row per
// movement. Per-account serialization comes from a SELECT ... FOR UPDATE row
// lock, so concurrent rounds and games never interleave on one balance.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) Debit(ctx context.Context, userID, currency string, amount float64) error {
	return p.move(ctx, userID, currency, -amount, "DEBIT")
}

func (p *Postgres) Credit(ctx context.Context, userID, currency string, amount float64) error {
	return p.move(ctx, userID, currency, amount, "CREDIT")
}

// Refund credits a voided stake back. The ledger row carries the bet id
// under a unique index, so a replayed refund hits the conflict and leaves
// the balance alone.
func (p *Postgres) Refund(ctx context.Context, userID, currency string, amount float64, betID string) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("wallet: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance float64
	err = tx.QueryRow(ctx,
		`SELECT balance::float8 FROM wallets WHERE user_id = $1 AND currency = $2 FOR UPDATE`,
		userID, currency).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, err := tx.Exec(ctx,
			`INSERT INTO wallets (user_id, currency, balance) VALUES ($1, $2, 0)`,
			userID, currency); err != nil {
			return fmt.Errorf("wallet: create account: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("wallet: lock account: %w", err)
	}

	tag, err := tx.Exec(ctx,
		`INSERT INTO wallet_ledger (user_id, currency, operation, amount, reference)
		 VALUES ($1, $2, 'REFUND', $3, $4)
		 ON CONFLICT (reference) DO NOTHING`,
		userID, currency, amount, betID)
	if err != nil {
		return fmt.Errorf("wallet: refund ledger entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already refunded.
		return tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE wallets SET balance = balance + $1, updated_at = now() WHERE user_id = $2 AND currency = $3`,
		amount, userID, currency); err != nil {
		return fmt.Errorf("wallet: update balance: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("wallet: commit: %w", err)
	}
	return nil
}

func (p *Postgres) move(ctx context.Context, userID, currency string, delta float64, op string) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("wallet: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var balance float64
	err = tx.QueryRow(ctx,
		`SELECT balance::float8 FROM wallets WHERE user_id = $1 AND currency = $2 FOR UPDATE`,
		userID, currency).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		if delta < 0 {
			return ErrInsufficientFunds
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO wallets (user_id, currency, balance) VALUES ($1, $2, 0)`,
			userID, currency); err != nil {
			return fmt.Errorf("wallet: create account: %w", err)
		}
		balance = 0
	} else if err != nil {
		return fmt.Errorf("wallet: lock account: %w", err)
	}

	if balance+delta < 0 {
		return ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx,
		`UPDATE wallets SET balance = balance + $1, updated_at = now() WHERE user_id = $2 AND currency = $3`,
		delta, userID, currency); err != nil {
		return fmt.Errorf("wallet: update balance: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO wallet_ledger (user_id, currency, operation, amount) VALUES ($1, $2, $3, $4)`,
		userID, currency, op, delta); err != nil {
		return fmt.Errorf("wallet: ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("wallet: commit: %w", err)
	}
	return nil
}

func (p *Postgres) Balance(ctx context.Context, userID, currency string) (float64, error) {
	var balance float64
	err := p.pool.QueryRow(ctx,
		`SELECT balance::float8 FROM wallets WHERE user_id = $1 AND currency = $2`,
		userID, currency).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("wallet: read balance: %w", err)
	}
	return balance, nil
}
