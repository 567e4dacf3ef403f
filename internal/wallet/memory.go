package wallet

import (
	"context"
	"math"
	"sync"
)

// Memory is a mutex-guarded in-process Adapter used by engine tests and
// local development without postgres.
type Memory struct {
	mu       sync.Mutex
	balances map[string]float64
	refunded map[string]bool

	debits  int
	credits int
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[string]float64),
		refunded: make(map[string]bool),
	}
}

func key(userID, currency string) string {
	return userID + ":" + currency
}

func (m *Memory) Debit(_ context.Context, userID, currency string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key(userID, currency)
	if m.balances[k] < amount {
		return ErrInsufficientFunds
	}
	m.balances[k] = round(m.balances[k] - amount)
	m.debits++
	return nil
}

func (m *Memory) Credit(_ context.Context, userID, currency string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.balances[key(userID, currency)] = round(m.balances[key(userID, currency)] + amount)
	m.credits++
	return nil
}

func (m *Memory) Refund(_ context.Context, userID, currency string, amount float64, betID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.refunded[betID] {
		return nil
	}
	m.refunded[betID] = true
	m.balances[key(userID, currency)] = round(m.balances[key(userID, currency)] + amount)
	m.credits++
	return nil
}

func (m *Memory) Balance(_ context.Context, userID, currency string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[key(userID, currency)], nil
}

// Deposit seeds a balance directly; test setup only.
func (m *Memory) Deposit(userID, currency string, amount float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[key(userID, currency)] = round(m.balances[key(userID, currency)] + amount)
}

// Counts reports how many debits and credits were applied.
func (m *Memory) Counts() (debits, credits int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.debits, m.credits
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}
