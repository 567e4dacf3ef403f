package game

// Outbound events form a closed set; the hub wraps them in a {type, data}
// envelope so clients can switch on the tag.

type EventType string

const (
	EventStateChange   EventType = "state_change"
	EventTick          EventType = "tick"
	EventStreamCrashed EventType = "stream_crashed"
	EventCrashed       EventType = "crashed"
	EventRoundVoided   EventType = "round_voided"
	EventBetAccepted   EventType = "bet_accepted"
	EventCashedOut     EventType = "cashed_out"

	// Direct replies, sent to one client rather than the table feed.
	EventInitialState EventType = "initial_state"
	EventBetError     EventType = "bet_error"
	EventCashoutError EventType = "cashout_error"
)

type Event interface {
	Type() EventType
}

// StateChangeEvent announces a round state transition. For WAITING it carries
// the fairness pre-commitment (hash, client seed, nonce) and the countdown.
type StateChangeEvent struct {
	RoundID        string     `json:"round_id"`
	State          RoundState `json:"state"`
	ServerSeedHash string     `json:"server_seed_hash"`
	ClientSeed     string     `json:"client_seed"`
	Nonce          int64      `json:"nonce"`
	CountdownMs    int64      `json:"countdown_ms,omitempty"`
}

func (StateChangeEvent) Type() EventType { return EventStateChange }

// TickEvent carries both stream multipliers. A crashed stream's multiplier is
// frozen at its crash point while the other keeps rising.
type TickEvent struct {
	RoundID          string  `json:"round_id"`
	Multiplier       float64 `json:"multiplier"`
	SecondMultiplier float64 `json:"second_multiplier"`
	ElapsedMs        int64   `json:"elapsed_ms"`
}

func (TickEvent) Type() EventType { return EventTick }

// StreamCrashedEvent fires the instant one line dies; the round keeps running
// until the other follows.
type StreamCrashedEvent struct {
	RoundID    string  `json:"round_id"`
	Stream     Stream  `json:"stream"`
	CrashPoint float64 `json:"crash_point"`
	ElapsedMs  int64   `json:"elapsed_ms"`
}

func (StreamCrashedEvent) Type() EventType { return EventStreamCrashed }

// CrashedEvent is the round summary: both crash points plus the server seed
// reveal that lets anyone re-derive them.
type CrashedEvent struct {
	RoundID          string  `json:"round_id"`
	CrashPoint       float64 `json:"crash_point"`
	SecondCrashPoint float64 `json:"second_crash_point"`
	ServerSeed       string  `json:"server_seed"`
	ServerSeedHash   string  `json:"server_seed_hash"`
	ClientSeed       string  `json:"client_seed"`
	Nonce            int64   `json:"nonce"`
	ElapsedMs        int64   `json:"elapsed_ms"`
}

func (CrashedEvent) Type() EventType { return EventCrashed }

// RoundVoidedEvent reports an aborted round; every open stake was refunded.
type RoundVoidedEvent struct {
	RoundID  string `json:"round_id"`
	Reason   string `json:"reason"`
	Refunded int    `json:"refunded_bets"`
}

func (RoundVoidedEvent) Type() EventType { return EventRoundVoided }

// BetAcceptedEvent echoes an accepted bet to the table feed.
type BetAcceptedEvent struct {
	RoundID       string  `json:"round_id"`
	BetID         string  `json:"bet_id"`
	UserID        string  `json:"user_id"`
	Stream        Stream  `json:"stream"`
	Stake         float64 `json:"stake"`
	AutoCashoutAt float64 `json:"auto_cashout_at,omitempty"`
}

func (BetAcceptedEvent) Type() EventType { return EventBetAccepted }

// CashedOutEvent reports a settled win, manual or automatic.
type CashedOutEvent struct {
	RoundID    string  `json:"round_id"`
	BetID      string  `json:"bet_id"`
	UserID     string  `json:"user_id"`
	Stream     Stream  `json:"stream"`
	Multiplier float64 `json:"multiplier"`
	Payout     float64 `json:"payout"`
	Profit     float64 `json:"profit"`
}

func (CashedOutEvent) Type() EventType { return EventCashedOut }

// Broadcaster fans an event out to every connected client. Implementations
// must never block the round loop.
type Broadcaster interface {
	Broadcast(Event)
}

// BroadcastFunc adapts a function to the Broadcaster interface.
type BroadcastFunc func(Event)

func (f BroadcastFunc) Broadcast(ev Event) { f(ev) }

// AuditSink receives completed-round and settlement records for downstream
// consumers (persistence, event stream). Calls are best effort and must not
// influence settlement.
type AuditSink interface {
	RoundFinished(rec RoundRecord)
	BetSettled(roundID string, bet Bet)
}

// MultiSink fans audit records out to several sinks.
type MultiSink []AuditSink

func (s MultiSink) RoundFinished(rec RoundRecord) {
	for _, sink := range s {
		sink.RoundFinished(rec)
	}
}

func (s MultiSink) BetSettled(roundID string, bet Bet) {
	for _, sink := range s {
		sink.BetSettled(roundID, bet)
	}
}
