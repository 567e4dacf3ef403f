// Package history persists finished rounds and their bet ledgers for the
// public round archive and the verify endpoint.
package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"skycrash/internal/game"
)

var ErrNotFound = errors.New("history: round not found")

const saveTimeout = 10 * time.Second

type Store struct {
	log  *zap.SugaredLogger
	pool *pgxpool.Pool
}

func NewStore(log *zap.SugaredLogger, pool *pgxpool.Pool) *Store {
	return &Store{log: log, pool: pool}
}

// RoundFinished implements game.AuditSink; the write happens off the round
// loop and a failure only costs the archive entry, never the settlement.
func (s *Store) RoundFinished(rec game.RoundRecord) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		if err := s.SaveRound(ctx, rec); err != nil {
			s.log.Errorw("failed to archive round", "round", rec.ID, "error", err)
		}
	}()
}

// BetSettled is satisfied by the full ledger snapshot saved at round end.
func (s *Store) BetSettled(string, game.Bet) {}

func (s *Store) SaveRound(ctx context.Context, rec game.RoundRecord) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO rounds (id, nonce, server_seed, server_seed_hash, client_seed, house_edge,
		                     crash_point, second_crash_point, state, created_at, started_at, crashed_at,
		                     staked_total, paid_total, refunded_total)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		 ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.Nonce, rec.ServerSeed, rec.ServerSeedHash, rec.ClientSeed, rec.HouseEdge,
		rec.CrashPoint, rec.SecondCrashPoint, string(rec.State), rec.CreatedAt, nullTime(rec.StartedAt), nullTime(rec.CrashedAt),
		rec.StakedTotal, rec.PaidTotal, rec.RefundedTotal); err != nil {
		return fmt.Errorf("history: insert round: %w", err)
	}

	for _, bet := range rec.Bets {
		if _, err := tx.Exec(ctx,
			`INSERT INTO bets (id, round_id, user_id, stream, stake, auto_cashout_at, status, cashout_multiplier, payout, placed_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			 ON CONFLICT (id) DO NOTHING`,
			bet.ID, rec.ID, bet.UserID, string(bet.Stream), bet.Stake, bet.AutoCashoutAt,
			string(bet.Status), bet.CashoutMultiplier, bet.Payout, bet.PlacedAt); err != nil {
			return fmt.Errorf("history: insert bet %s: %w", bet.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("history: commit: %w", err)
	}
	return nil
}

// RoundSummary is the archive listing entry; no seeds, just outcomes.
type RoundSummary struct {
	ID               string    `json:"id"`
	Nonce            int64     `json:"nonce"`
	CrashPoint       float64   `json:"crash_point"`
	SecondCrashPoint float64   `json:"second_crash_point"`
	State            string    `json:"state"`
	CrashedAt        time.Time `json:"crashed_at"`
}

func (s *Store) RecentRounds(ctx context.Context, limit int) ([]RoundSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, nonce, crash_point, second_crash_point, state, COALESCE(crashed_at, created_at)
		 FROM rounds ORDER BY nonce DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent rounds: %w", err)
	}
	defer rows.Close()

	var out []RoundSummary
	for rows.Next() {
		var r RoundSummary
		if err := rows.Scan(&r.ID, &r.Nonce, &r.CrashPoint, &r.SecondCrashPoint, &r.State, &r.CrashedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Round loads one archived round with its full fairness material and ledger.
func (s *Store) Round(ctx context.Context, id string) (game.RoundRecord, error) {
	var (
		rec                  game.RoundRecord
		state                string
		startedAt, crashedAt *time.Time
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, nonce, server_seed, server_seed_hash, client_seed, house_edge,
		        crash_point, second_crash_point, state, created_at, started_at, crashed_at,
		        staked_total, paid_total, refunded_total
		 FROM rounds WHERE id = $1`, id).Scan(
		&rec.ID, &rec.Nonce, &rec.ServerSeed, &rec.ServerSeedHash, &rec.ClientSeed, &rec.HouseEdge,
		&rec.CrashPoint, &rec.SecondCrashPoint, &state, &rec.CreatedAt, &startedAt, &crashedAt,
		&rec.StakedTotal, &rec.PaidTotal, &rec.RefundedTotal)
	if errors.Is(err, pgx.ErrNoRows) {
		return game.RoundRecord{}, ErrNotFound
	}
	if err != nil {
		return game.RoundRecord{}, fmt.Errorf("history: load round: %w", err)
	}
	rec.State = game.RoundState(state)
	if startedAt != nil {
		rec.StartedAt = *startedAt
	}
	if crashedAt != nil {
		rec.CrashedAt = *crashedAt
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, stream, stake, auto_cashout_at, status, cashout_multiplier, payout, placed_at
		 FROM bets WHERE round_id = $1 ORDER BY placed_at`, id)
	if err != nil {
		return game.RoundRecord{}, fmt.Errorf("history: load bets: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			bet            game.Bet
			stream, status string
		)
		if err := rows.Scan(&bet.ID, &bet.UserID, &stream, &bet.Stake, &bet.AutoCashoutAt,
			&status, &bet.CashoutMultiplier, &bet.Payout, &bet.PlacedAt); err != nil {
			return game.RoundRecord{}, err
		}
		bet.RoundID = rec.ID
		bet.Stream = game.Stream(stream)
		bet.Status = game.BetStatus(status)
		rec.Bets = append(rec.Bets, bet)
	}
	return rec, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
