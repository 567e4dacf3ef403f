package game

import (
	"errors"
	"fmt"
)

// Command rejections. Each maps to a bet_error/cashout_error reason at the
// transport edge and never affects other bets or the round itself.
var (
	// Validation errors.
	ErrInvalidStake       = errors.New("stake must be positive")
	ErrStakeOutOfRange    = errors.New("stake outside table limits")
	ErrInvalidAutoCashout = errors.New("auto cashout must be greater than 1.00")
	ErrUnknownStream      = errors.New("unknown stream")
	ErrInvalidTarget      = errors.New("target outside allowed range")

	// State errors: the command is legal, the round state is not.
	ErrBettingClosed = errors.New("betting is closed")
	ErrCashoutClosed = errors.New("round is not running")
	ErrNoActiveBet   = errors.New("no active bet for this round")

	// Concurrency conflicts, rejected idempotently.
	ErrDuplicateBet    = errors.New("active bet already exists for this round")
	ErrAlreadySettled  = errors.New("bet is already settled")
	ErrStreamCrashed   = errors.New("stream has already crashed")
	ErrRoundVoided     = errors.New("round was voided")
	ErrCommandTimeout  = errors.New("command timed out")
	ErrCommandRejected = errors.New("command queue full")
)

// FairnessError marks a core-guarantee violation: seed/hash mismatch, an
// out-of-range derived value, or a round that failed to crash within its time
// bound. Fatal for the affected round only; every open stake is refunded and
// the table restarts with a fresh round.
type FairnessError struct {
	RoundID string
	Reason  string
}

func (e *FairnessError) Error() string {
	return fmt.Sprintf("fairness integrity violation in round %s: %s", e.RoundID, e.Reason)
}
