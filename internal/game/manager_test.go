package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"skycrash/internal/wallet"
)

// eventSink records every broadcast event for assertions.
type eventSink struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newEventSink() *eventSink {
	return &eventSink{ch: make(chan Event, 4096)}
}

func (s *eventSink) Broadcast(ev Event) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	select {
	case s.ch <- ev:
	default:
	}
}

// waitFor blocks until an event of the wanted type arrives.
func (s *eventSink) waitFor(t *testing.T, typ EventType, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-s.ch:
			if ev.Type() == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event within %v", typ, timeout)
			return nil
		}
	}
}

func testConfig(primary, second float64) Config {
	return Config{
		TableID:       "test",
		SiteID:        "site-1",
		BettingWindow: time.Second,
		TickInterval:  10 * time.Millisecond,
		RestDelay:     50 * time.Millisecond,
		MinStake:      1,
		MaxStake:      1000,
		Derive:        pinned(primary, second),
	}
}

func startManager(t *testing.T, cfg Config, w wallet.Adapter) (*Manager, *eventSink) {
	t.Helper()
	sink := newEventSink()
	m := NewManager(cfg, zap.NewNop().Sugar(), w, nil, sink, nil)
	m.Start(context.Background())
	t.Cleanup(func() { m.Stop() })
	return m, sink
}

func TestManager_AutoCashoutRound(t *testing.T) {
	w := wallet.NewMemory()
	w.Deposit("alice", "USDT", 100)
	w.Deposit("bob", "USDT", 100)

	m, sink := startManager(t, testConfig(2.00, 1.20), w)
	sink.waitFor(t, EventStateChange, 2*time.Second)

	ctx := context.Background()
	if _, err := m.PlaceBet(ctx, BetRequest{UserID: "alice", Stake: 10, AutoCashoutAt: 1.50}); err != nil {
		t.Fatalf("alice PlaceBet: %v", err)
	}
	if _, err := m.PlaceBet(ctx, BetRequest{UserID: "bob", Stake: 10}); err != nil {
		t.Fatalf("bob PlaceBet: %v", err)
	}

	out := sink.waitFor(t, EventCashedOut, 15*time.Second).(CashedOutEvent)
	if out.UserID != "alice" {
		t.Errorf("cashed out user = %s, want alice", out.UserID)
	}
	if out.Multiplier != 1.50 || out.Payout != 15.00 {
		t.Errorf("auto cashout paid %v at %vx, want 15.00 at 1.50x", out.Payout, out.Multiplier)
	}

	crashed := sink.waitFor(t, EventCrashed, 15*time.Second).(CrashedEvent)
	if crashed.CrashPoint != 2.00 || crashed.SecondCrashPoint != 1.20 {
		t.Errorf("crash points = %v/%v, want 2.00/1.20", crashed.CrashPoint, crashed.SecondCrashPoint)
	}
	if crashed.ServerSeed == "" {
		t.Error("crash event must reveal the server seed")
	}

	if got, _ := w.Balance(ctx, "alice", "USDT"); got != 105.00 {
		t.Errorf("alice balance = %v, want 105.00", got)
	}
	if got, _ := w.Balance(ctx, "bob", "USDT"); got != 90.00 {
		t.Errorf("bob balance = %v, want 90.00", got)
	}
}

func TestManager_ManualCashout(t *testing.T) {
	w := wallet.NewMemory()
	w.Deposit("alice", "USDT", 100)

	m, sink := startManager(t, testConfig(500.00, 500.00), w)
	sink.waitFor(t, EventStateChange, 2*time.Second)

	ctx := context.Background()
	if _, err := m.PlaceBet(ctx, BetRequest{UserID: "alice", Stake: 10}); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}

	// Wait for the running phase, then cash out mid-flight.
	for {
		ev := sink.waitFor(t, EventStateChange, 5*time.Second).(StateChangeEvent)
		if ev.State == StateRunning {
			break
		}
	}
	sink.waitFor(t, EventTick, 5*time.Second)

	bet, err := m.Cashout(ctx, "alice", StreamPrimary)
	if err != nil {
		t.Fatalf("Cashout: %v", err)
	}
	if bet.Status != BetCashedOut || bet.Payout < bet.Stake {
		t.Errorf("cashout bet = %+v, want a paid win", bet)
	}

	if _, err := m.Cashout(ctx, "alice", StreamPrimary); !errors.Is(err, ErrAlreadySettled) {
		t.Errorf("double cashout err = %v, want ErrAlreadySettled", err)
	}

	balance, _ := w.Balance(ctx, "alice", "USDT")
	if want := 90 + bet.Payout; balance != want {
		t.Errorf("balance = %v, want %v", balance, want)
	}
}

func TestManager_RejectsInvalidBets(t *testing.T) {
	w := wallet.NewMemory()
	w.Deposit("alice", "USDT", 100)

	m, sink := startManager(t, testConfig(2.00, 2.00), w)
	sink.waitFor(t, EventStateChange, 2*time.Second)

	ctx := context.Background()
	cases := []struct {
		name string
		req  BetRequest
		want error
	}{
		{"zero stake", BetRequest{UserID: "alice", Stake: 0}, ErrInvalidStake},
		{"above max", BetRequest{UserID: "alice", Stake: 5000}, ErrStakeOutOfRange},
		{"auto at 1.00", BetRequest{UserID: "alice", Stake: 10, AutoCashoutAt: 1.00}, ErrInvalidAutoCashout},
		{"bad stream", BetRequest{UserID: "alice", Stake: 10, Stream: "sideways"}, ErrUnknownStream},
		{"broke user", BetRequest{UserID: "nobody", Stake: 10}, wallet.ErrInsufficientFunds},
	}
	for _, tc := range cases {
		if _, err := m.PlaceBet(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Errorf("%s: err = %v, want %v", tc.name, err, tc.want)
		}
	}

	// Rejections must not move money.
	if balance, _ := w.Balance(ctx, "alice", "USDT"); balance != 100 {
		t.Errorf("alice balance = %v after rejected bets, want 100", balance)
	}
}

func TestManager_DuplicateBetKeepsFirst(t *testing.T) {
	w := wallet.NewMemory()
	w.Deposit("alice", "USDT", 100)

	m, sink := startManager(t, testConfig(2.00, 2.00), w)
	sink.waitFor(t, EventStateChange, 2*time.Second)

	ctx := context.Background()
	if _, err := m.PlaceBet(ctx, BetRequest{UserID: "alice", Stake: 10}); err != nil {
		t.Fatalf("first bet: %v", err)
	}
	if _, err := m.PlaceBet(ctx, BetRequest{UserID: "alice", Stake: 20}); !errors.Is(err, ErrDuplicateBet) {
		t.Fatalf("second bet err = %v, want ErrDuplicateBet", err)
	}

	// Only the first stake was debited.
	if balance, _ := w.Balance(ctx, "alice", "USDT"); balance != 90 {
		t.Errorf("balance = %v, want 90", balance)
	}
}

func TestManager_StopVoidsAndRefunds(t *testing.T) {
	w := wallet.NewMemory()
	w.Deposit("alice", "USDT", 100)

	m, sink := startManager(t, testConfig(5000.00, 5000.00), w)
	sink.waitFor(t, EventStateChange, 2*time.Second)

	ctx := context.Background()
	if _, err := m.PlaceBet(ctx, BetRequest{UserID: "alice", Stake: 25}); err != nil {
		t.Fatalf("PlaceBet: %v", err)
	}

	m.Stop()

	voided := sink.waitFor(t, EventRoundVoided, 5*time.Second).(RoundVoidedEvent)
	if voided.Refunded != 1 {
		t.Errorf("refunded = %d, want 1", voided.Refunded)
	}

	// The refund credit is synchronous before the event broadcast.
	if balance, _ := w.Balance(ctx, "alice", "USDT"); balance != 100 {
		t.Errorf("balance after void = %v, want full refund to 100", balance)
	}
}

func TestManager_RoundsFollowEachOther(t *testing.T) {
	w := wallet.NewMemory()
	cfg := testConfig(1.05, 1.05)
	cfg.BettingWindow = 50 * time.Millisecond

	_, sink := startManager(t, cfg, w)

	first := sink.waitFor(t, EventCrashed, 10*time.Second).(CrashedEvent)
	second := sink.waitFor(t, EventCrashed, 10*time.Second).(CrashedEvent)
	if first.RoundID == second.RoundID {
		t.Error("consecutive rounds share an id")
	}
	if second.Nonce != first.Nonce+1 {
		t.Errorf("nonces = %d then %d, want consecutive", first.Nonce, second.Nonce)
	}
}

func TestManager_SnapshotTracksState(t *testing.T) {
	w := wallet.NewMemory()
	m, sink := startManager(t, testConfig(500.00, 500.00), w)

	sink.waitFor(t, EventStateChange, 2*time.Second)
	snap, ok := m.Snapshot()
	if !ok {
		t.Fatal("no snapshot for an open round")
	}
	if snap.State != StateWaiting {
		t.Errorf("state = %v, want WAITING", snap.State)
	}
	if snap.ServerSeedHash == "" {
		t.Error("waiting snapshot must carry the commitment")
	}
	if snap.ServerSeed != "" {
		t.Error("waiting snapshot leaks the server seed")
	}
}
