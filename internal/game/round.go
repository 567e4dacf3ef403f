package game

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"skycrash/internal/fair"
)

type RoundState string

const (
	StateWaiting RoundState = "WAITING"
	StateRunning RoundState = "RUNNING"
	StateCrashed RoundState = "CRASHED"
	StateVoided  RoundState = "VOIDED"
)

// Stream selects one of the two independent crash lines of a round.
type Stream string

const (
	StreamPrimary Stream = "primary"
	StreamSecond  Stream = "second"
)

func (s Stream) Valid() bool {
	return s == StreamPrimary || s == StreamSecond
}

// tag returns the domain-separation tag fed to the fairness derivation.
func (s Stream) tag() string {
	if s == StreamSecond {
		return fair.StreamSecond
	}
	return ""
}

type BetStatus string

const (
	BetPlaced    BetStatus = "PLACED"
	BetCashedOut BetStatus = "CASHED_OUT"
	BetLost      BetStatus = "LOST"
	BetRefunded  BetStatus = "REFUNDED"
)

// Bet is one user's stake on one stream of a round. Status transitions are
// one-way: PLACED -> CASHED_OUT | LOST | REFUNDED, applied exactly once by
// the round's single writer.
type Bet struct {
	ID                string    `json:"id"`
	RoundID           string    `json:"round_id"`
	UserID            string    `json:"user_id"`
	Stream            Stream    `json:"stream"`
	Stake             float64   `json:"stake"`
	AutoCashoutAt     float64   `json:"auto_cashout_at,omitempty"`
	Status            BetStatus `json:"status"`
	CashoutMultiplier float64   `json:"cashout_multiplier,omitempty"`
	Payout            float64   `json:"payout"`
	PlacedAt          time.Time `json:"placed_at"`
}

// Terminal reports whether the bet has reached a final status.
func (b *Bet) Terminal() bool {
	return b.Status != BetPlaced
}

// DeriveFunc matches fair.DeriveCrashPoint; the round loop takes it as a
// dependency so tests can pin crash points.
type DeriveFunc func(serverSeed, clientSeed string, nonce int64, houseEdge float64, streamTag string) (float64, error)

type streamState struct {
	crashPoint float64
	crashed    bool
	crashedAt  time.Time
}

type betKey struct {
	user   string
	stream Stream
}

// Round owns the full state of one crash round: the fairness material, both
// stream crash points, and the bet ledger. All mutation happens inside the
// owning Manager's loop; no method here locks.
type Round struct {
	ID             string
	Nonce          int64
	ServerSeed     string
	ServerSeedHash string
	ClientSeed     string
	HouseEdge      float64
	State          RoundState
	CreatedAt      time.Time
	StartedAt      time.Time
	CrashedAt      time.Time

	streams map[Stream]*streamState
	bets    map[betKey]*Bet

	stakedTotal   float64
	paidTotal     float64
	refundedTotal float64
}

// NewRound creates a WAITING round with both crash points fixed and hidden,
// and the server-seed commitment ready to publish.
func NewRound(nonce int64, clientSeed string, houseEdge float64, derive DeriveFunc, now time.Time) (*Round, error) {
	serverSeed := fair.GenerateSeed()
	if clientSeed == "" {
		clientSeed = fair.GenerateSeed()
	}

	r := &Round{
		ID:             uuid.NewString(),
		Nonce:          nonce,
		ServerSeed:     serverSeed,
		ServerSeedHash: fair.HashCommitment(serverSeed),
		ClientSeed:     clientSeed,
		HouseEdge:      houseEdge,
		State:          StateWaiting,
		CreatedAt:      now,
		streams:        make(map[Stream]*streamState, 2),
		bets:           make(map[betKey]*Bet),
	}

	for _, s := range []Stream{StreamPrimary, StreamSecond} {
		point, err := derive(serverSeed, clientSeed, nonce, houseEdge, s.tag())
		if err != nil {
			return nil, &FairnessError{RoundID: r.ID, Reason: err.Error()}
		}
		if point < fair.MinCrashPoint || point > fair.MaxCrashPoint {
			return nil, &FairnessError{RoundID: r.ID, Reason: fmt.Sprintf("derived crash point %v out of range", point)}
		}
		r.streams[s] = &streamState{crashPoint: point}
	}
	return r, nil
}

// CrashPoint exposes a stream's hidden value. Callers outside the round loop
// must not see it before the round ends.
func (r *Round) CrashPoint(s Stream) float64 {
	return r.streams[s].crashPoint
}

// StreamAlive reports whether a stream has not crashed yet.
func (r *Round) StreamAlive(s Stream) bool {
	return !r.streams[s].crashed
}

// PlaceBet validates and records a bet while betting is open. The caller
// debits the wallet before invoking this, so acceptance here is final.
func (r *Round) PlaceBet(userID string, stream Stream, stake, autoCashoutAt float64, now time.Time) (*Bet, error) {
	if r.State == StateVoided {
		return nil, ErrRoundVoided
	}
	if r.State != StateWaiting {
		return nil, ErrBettingClosed
	}
	key := betKey{user: userID, stream: stream}
	if existing, ok := r.bets[key]; ok && !existing.Terminal() {
		return nil, ErrDuplicateBet
	}

	bet := &Bet{
		ID:            uuid.NewString(),
		RoundID:       r.ID,
		UserID:        userID,
		Stream:        stream,
		Stake:         stake,
		AutoCashoutAt: autoCashoutAt,
		Status:        BetPlaced,
		PlacedAt:      now,
	}
	r.bets[key] = bet
	r.stakedTotal = roundCents(r.stakedTotal + stake)
	return bet, nil
}

// Begin moves the round from WAITING to RUNNING when the countdown elapses.
func (r *Round) Begin(now time.Time) {
	r.State = StateRunning
	r.StartedAt = now
}

// Elapsed returns running time; zero before the round starts.
func (r *Round) Elapsed(now time.Time) time.Duration {
	if r.StartedAt.IsZero() || now.Before(r.StartedAt) {
		return 0
	}
	return now.Sub(r.StartedAt)
}

// StreamMultiplier returns the display multiplier for one stream: the shared
// curve while the stream is alive, frozen at its crash point afterwards.
func (r *Round) StreamMultiplier(s Stream, current float64) float64 {
	st := r.streams[s]
	if st.crashed || current > st.crashPoint {
		return st.crashPoint
	}
	return current
}

// Cashout settles a PLACED bet as a win at the live multiplier. Legal only
// while the round runs and the bet's stream is still alive; a second attempt
// on a terminal bet fails with ErrAlreadySettled and pays nothing.
func (r *Round) Cashout(userID string, stream Stream, now time.Time) (*Bet, error) {
	if r.State == StateVoided {
		return nil, ErrRoundVoided
	}
	if r.State != StateRunning {
		return nil, ErrCashoutClosed
	}
	bet, ok := r.bets[betKey{user: userID, stream: stream}]
	if !ok {
		return nil, ErrNoActiveBet
	}
	if bet.Terminal() {
		return nil, ErrAlreadySettled
	}

	st := r.streams[stream]
	current := Multiplier(r.Elapsed(now))
	if st.crashed || current >= st.crashPoint {
		// The stream factually crashed; the next tick settles the loss.
		return nil, ErrStreamCrashed
	}

	r.settleWin(bet, current)
	return bet, nil
}

// SweepAutoCashouts settles every PLACED bet whose auto target has been
// reached at the locked-in target multiplier, not the live one, so payouts
// are deterministic regardless of tick granularity. A target at or above the
// stream's crash point never wins: the crash takes the tie.
func (r *Round) SweepAutoCashouts(current float64) []*Bet {
	var settled []*Bet
	for _, bet := range r.bets {
		if bet.Terminal() || bet.AutoCashoutAt <= 0 {
			continue
		}
		st := r.streams[bet.Stream]
		if st.crashed {
			continue
		}
		if bet.AutoCashoutAt <= current && bet.AutoCashoutAt < st.crashPoint {
			r.settleWin(bet, bet.AutoCashoutAt)
			settled = append(settled, bet)
		}
	}
	return settled
}

func (r *Round) settleWin(bet *Bet, multiplier float64) {
	bet.Status = BetCashedOut
	bet.CashoutMultiplier = multiplier
	bet.Payout = roundCents(bet.Stake * multiplier)
	r.paidTotal = roundCents(r.paidTotal + bet.Payout)
}

// CrashStream marks one line dead and settles its remaining PLACED bets as
// losses (stake was debited at placement; no wallet movement). When the last
// stream dies the round transitions to CRASHED and the seed may be revealed.
func (r *Round) CrashStream(s Stream, now time.Time) (lost []*Bet, roundOver bool) {
	st := r.streams[s]
	if st.crashed {
		return nil, r.State == StateCrashed
	}
	st.crashed = true
	st.crashedAt = now

	for _, bet := range r.bets {
		if bet.Stream == s && !bet.Terminal() {
			bet.Status = BetLost
			bet.Payout = 0
			lost = append(lost, bet)
		}
	}

	roundOver = true
	for _, other := range r.streams {
		if !other.crashed {
			roundOver = false
		}
	}
	if roundOver {
		r.State = StateCrashed
		r.CrashedAt = now
	}
	return lost, roundOver
}

// Void aborts the round and returns every bet that must be refunded, each
// marked REFUNDED exactly once. Cashed-out wins keep their payouts.
func (r *Round) Void(now time.Time) []*Bet {
	var refunds []*Bet
	for _, bet := range r.bets {
		if bet.Terminal() {
			continue
		}
		bet.Status = BetRefunded
		bet.Payout = bet.Stake
		r.refundedTotal = roundCents(r.refundedTotal + bet.Stake)
		refunds = append(refunds, bet)
	}
	r.State = StateVoided
	r.CrashedAt = now
	return refunds
}

// Bets returns the ledger in no particular order.
func (r *Round) Bets() []Bet {
	out := make([]Bet, 0, len(r.bets))
	for _, bet := range r.bets {
		out = append(out, *bet)
	}
	return out
}

// BetFor returns the user's bet on a stream, if any.
func (r *Round) BetFor(userID string, stream Stream) (Bet, bool) {
	bet, ok := r.bets[betKey{user: userID, stream: stream}]
	if !ok {
		return Bet{}, false
	}
	return *bet, true
}

// StakedTotal is the sum of all stakes debited into the round.
func (r *Round) StakedTotal() float64 { return r.stakedTotal }

// PaidTotal is the sum of all payouts credited for wins.
func (r *Round) PaidTotal() float64 { return r.paidTotal }

// RefundedTotal is the sum refunded by a void.
func (r *Round) RefundedTotal() float64 { return r.refundedTotal }

// HouseTake closes the zero-sum identity:
// staked == paid + refunded + house take.
func (r *Round) HouseTake() float64 {
	return roundCents(r.stakedTotal - r.paidTotal - r.refundedTotal)
}

// Snapshot is the public view of a round: everything a client may see in the
// current state. The server seed and crash points appear only after the
// round has ended.
type Snapshot struct {
	RoundID          string     `json:"round_id"`
	State            RoundState `json:"state"`
	ServerSeedHash   string     `json:"server_seed_hash"`
	ClientSeed       string     `json:"client_seed"`
	Nonce            int64      `json:"nonce"`
	Multiplier       float64    `json:"multiplier"`
	SecondMultiplier float64    `json:"second_multiplier"`
	ElapsedMs        int64      `json:"elapsed_ms"`
	CountdownMs      int64      `json:"countdown_ms,omitempty"`
	ServerSeed       string     `json:"server_seed,omitempty"`
	CrashPoint       float64    `json:"crash_point,omitempty"`
	SecondCrashPoint float64    `json:"second_crash_point,omitempty"`
}

// SnapshotAt builds the public view at a point in time.
func (r *Round) SnapshotAt(now time.Time) Snapshot {
	snap := Snapshot{
		RoundID:          r.ID,
		State:            r.State,
		ServerSeedHash:   r.ServerSeedHash,
		ClientSeed:       r.ClientSeed,
		Nonce:            r.Nonce,
		Multiplier:       1.00,
		SecondMultiplier: 1.00,
	}
	switch r.State {
	case StateRunning:
		current := Multiplier(r.Elapsed(now))
		snap.Multiplier = r.StreamMultiplier(StreamPrimary, current)
		snap.SecondMultiplier = r.StreamMultiplier(StreamSecond, current)
		snap.ElapsedMs = r.Elapsed(now).Milliseconds()
	case StateCrashed, StateVoided:
		snap.Multiplier = r.streams[StreamPrimary].crashPoint
		snap.SecondMultiplier = r.streams[StreamSecond].crashPoint
		snap.ServerSeed = r.ServerSeed
		snap.CrashPoint = r.streams[StreamPrimary].crashPoint
		snap.SecondCrashPoint = r.streams[StreamSecond].crashPoint
		if !r.CrashedAt.IsZero() {
			snap.ElapsedMs = r.CrashedAt.Sub(r.StartedAt).Milliseconds()
		}
	}
	return snap
}

// RoundRecord is the flattened, immutable form of a finished round handed to
// the audit sink and the history store.
type RoundRecord struct {
	ID               string     `json:"id"`
	Nonce            int64      `json:"nonce"`
	ServerSeed       string     `json:"server_seed"`
	ServerSeedHash   string     `json:"server_seed_hash"`
	ClientSeed       string     `json:"client_seed"`
	HouseEdge        float64    `json:"house_edge"`
	CrashPoint       float64    `json:"crash_point"`
	SecondCrashPoint float64    `json:"second_crash_point"`
	State            RoundState `json:"state"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        time.Time  `json:"started_at"`
	CrashedAt        time.Time  `json:"crashed_at"`
	StakedTotal      float64    `json:"staked_total"`
	PaidTotal        float64    `json:"paid_total"`
	RefundedTotal    float64    `json:"refunded_total"`
	Bets             []Bet      `json:"bets"`
}

// Record freezes a terminal round for persistence and audit.
func (r *Round) Record() RoundRecord {
	return RoundRecord{
		ID:               r.ID,
		Nonce:            r.Nonce,
		ServerSeed:       r.ServerSeed,
		ServerSeedHash:   r.ServerSeedHash,
		ClientSeed:       r.ClientSeed,
		HouseEdge:        r.HouseEdge,
		CrashPoint:       r.streams[StreamPrimary].crashPoint,
		SecondCrashPoint: r.streams[StreamSecond].crashPoint,
		State:            r.State,
		CreatedAt:        r.CreatedAt,
		StartedAt:        r.StartedAt,
		CrashedAt:        r.CrashedAt,
		StakedTotal:      r.stakedTotal,
		PaidTotal:        r.paidTotal,
		RefundedTotal:    r.refundedTotal,
		Bets:             r.Bets(),
	}
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
