// Package wallet defines the balance adapter the game engines settle
// against. The engine only ever debits a stake, credits a payout or refund,
// and reads a balance; everything else about money lives elsewhere.
package wallet

import (
	"context"
	"errors"
)

var (
	ErrInsufficientFunds = errors.New("wallet: insufficient funds")
	ErrNotFound          = errors.New("wallet: account not found")
)

// Adapter is the collaborator contract consumed by the round loop. Debit and
// Credit must be atomic per (user, currency) and safe under concurrent calls
// from many rounds and games.
type Adapter interface {
	// Debit removes amount from the user's balance, failing with
	// ErrInsufficientFunds without any movement when the balance is short.
	Debit(ctx context.Context, userID, currency string, amount float64) error

	// Credit adds amount to the user's balance, creating the account on
	// first use.
	Credit(ctx context.Context, userID, currency string, amount float64) error

	// Refund returns a voided stake, applied at most once per betID: a
	// replayed refund for the same bet moves nothing.
	Refund(ctx context.Context, userID, currency string, amount float64, betID string) error

	// Balance reads the current balance; zero for an unknown account.
	Balance(ctx context.Context, userID, currency string) (float64, error)
}
