package game

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"skycrash/internal/fair"
	"skycrash/internal/metrics"
	"skycrash/internal/rewardpool"
	"skycrash/internal/wallet"
)

const (
	commandQueueSize  = 1024
	commandWait       = 5 * time.Second
	walletCallTimeout = 5 * time.Second
	contributeTimeout = 2 * time.Second

	defaultTick        = 100 * time.Millisecond
	defaultBettingTime = 5 * time.Second
	defaultRestDelay   = 3 * time.Second
)

// Config carries one table's tunables.
type Config struct {
	TableID  string
	SiteID   string
	Currency string

	HouseEdge     float64
	BettingWindow time.Duration
	TickInterval  time.Duration
	RestDelay     time.Duration
	MinStake      float64
	MaxStake      float64

	// WatchdogGrace pads the upper bound on a round's running time beyond
	// the instant the curve reaches the crash-point cap.
	WatchdogGrace time.Duration

	// Derive overrides the fairness derivation; tests pin crash points here.
	Derive DeriveFunc
}

func (c Config) withDefaults() Config {
	if c.Currency == "" {
		c.Currency = "USDT"
	}
	if c.HouseEdge <= 0 {
		c.HouseEdge = fair.DefaultHouseEdge
	}
	if c.BettingWindow <= 0 {
		c.BettingWindow = defaultBettingTime
	}
	if c.TickInterval <= 0 {
		c.TickInterval = defaultTick
	}
	if c.RestDelay <= 0 {
		c.RestDelay = defaultRestDelay
	}
	if c.MinStake <= 0 {
		c.MinStake = 1.0
	}
	if c.MaxStake <= 0 {
		c.MaxStake = 10000.0
	}
	if c.WatchdogGrace <= 0 {
		c.WatchdogGrace = 30 * time.Second
	}
	if c.Derive == nil {
		c.Derive = fair.DeriveCrashPoint
	}
	return c
}

// BetRequest is an inbound place_bet command.
type BetRequest struct {
	UserID        string  `json:"user_id"`
	Stake         float64 `json:"stake"`
	AutoCashoutAt float64 `json:"auto_cashout_at,omitempty"`
	Stream        Stream  `json:"stream,omitempty"`
}

type placeBetCmd struct {
	req  BetRequest
	resp chan betResult
}

type betResult struct {
	bet Bet
	err error
}

type cashoutCmd struct {
	userID string
	stream Stream
	resp   chan betResult
}

// Manager owns one table: it runs rounds back to back on a single goroutine
// and funnels every bet/cashout command through that goroutine, so all round
// and bet mutations have exactly one writer.
type Manager struct {
	cfg     Config
	log     *zap.SugaredLogger
	wallet  wallet.Adapter
	rewards rewardpool.Pool
	bcast   Broadcaster
	audit   AuditSink

	bets     chan placeBetCmd
	cashouts chan cashoutCmd
	stopCh   chan struct{}
	stopOnce sync.Once

	// mu guards round for snapshot readers; the loop is the only writer.
	mu    sync.RWMutex
	round *Round
	nonce int64
}

func NewManager(cfg Config, log *zap.SugaredLogger, w wallet.Adapter, rewards rewardpool.Pool, bcast Broadcaster, audit AuditSink) *Manager {
	if rewards == nil {
		rewards = rewardpool.Noop{}
	}
	if bcast == nil {
		bcast = BroadcastFunc(func(Event) {})
	}
	return &Manager{
		cfg:      cfg.withDefaults(),
		log:      log,
		wallet:   w,
		rewards:  rewards,
		bcast:    bcast,
		audit:    audit,
		bets:     make(chan placeBetCmd, commandQueueSize),
		cashouts: make(chan cashoutCmd, commandQueueSize),
		stopCh:   make(chan struct{}),
	}
}

func (m *Manager) GetType() GameType { return GameTypeCrash }

// Start launches the supervised round loop.
func (m *Manager) Start(_ context.Context) error {
	go m.supervise()
	return nil
}

// Stop voids the in-flight round (refunding open bets) and halts the loop.
func (m *Manager) Stop() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	return nil
}

// supervise restarts the loop after a panic; a wedged round must never take
// the table down for good.
func (m *Manager) supervise() {
	for {
		select {
		case <-m.stopCh:
			return
		default:
		}

		func() {
			defer func() {
				if r := recover(); r != nil {
					m.log.Errorw("round loop panicked", "table", m.cfg.TableID, "panic", r)
					m.recoverRound()
				}
			}()
			m.runRound()
		}()
	}
}

// recoverRound refunds whatever a panicked round left open.
func (m *Manager) recoverRound() {
	m.mu.RLock()
	round := m.round
	m.mu.RUnlock()
	if round != nil && round.State != StateCrashed && round.State != StateVoided {
		m.voidRound(round, "round loop panic")
	}
}

// PlaceBet enqueues a bet command and waits for the round loop's verdict.
func (m *Manager) PlaceBet(ctx context.Context, req BetRequest) (Bet, error) {
	cmd := placeBetCmd{req: req, resp: make(chan betResult, 1)}
	select {
	case m.bets <- cmd:
	default:
		return Bet{}, ErrCommandRejected
	}

	select {
	case res := <-cmd.resp:
		return res.bet, res.err
	case <-ctx.Done():
		return Bet{}, ErrCommandTimeout
	case <-time.After(commandWait):
		return Bet{}, ErrCommandTimeout
	}
}

// Cashout enqueues a manual cashout and waits for the verdict.
func (m *Manager) Cashout(ctx context.Context, userID string, stream Stream) (Bet, error) {
	if stream == "" {
		stream = StreamPrimary
	}
	cmd := cashoutCmd{userID: userID, stream: stream, resp: make(chan betResult, 1)}
	select {
	case m.cashouts <- cmd:
	default:
		return Bet{}, ErrCommandRejected
	}

	select {
	case res := <-cmd.resp:
		return res.bet, res.err
	case <-ctx.Done():
		return Bet{}, ErrCommandTimeout
	case <-time.After(commandWait):
		return Bet{}, ErrCommandTimeout
	}
}

// Snapshot returns the authoritative public round state; reconnecting
// clients resubscribe to this rather than replaying a recovery procedure.
func (m *Manager) Snapshot() (Snapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.round == nil {
		return Snapshot{}, false
	}
	return m.round.SnapshotAt(time.Now()), true
}

// BetFor reports a user's bet on the current round, for reconnect recovery.
func (m *Manager) BetFor(userID string, stream Stream) (Bet, bool) {
	if stream == "" {
		stream = StreamPrimary
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.round == nil {
		return Bet{}, false
	}
	return m.round.BetFor(userID, stream)
}

// runRound drives one full WAITING -> RUNNING -> CRASHED cycle.
func (m *Manager) runRound() {
	m.nonce++
	round, err := NewRound(m.nonce, "", m.cfg.HouseEdge, m.cfg.Derive, time.Now())
	if err != nil {
		// Generator fault before any bet exists: nothing to refund, log at
		// highest severity and retry with a fresh round.
		m.log.Errorw("fairness generator fault", "table", m.cfg.TableID, "error", err)
		m.rest()
		return
	}

	m.mu.Lock()
	m.round = round
	m.mu.Unlock()

	m.log.Infow("round open",
		"table", m.cfg.TableID, "round", round.ID, "nonce", round.Nonce,
		"commitment", round.ServerSeedHash[:16])
	metrics.RoundsStarted.Inc()

	m.bcast.Broadcast(StateChangeEvent{
		RoundID:        round.ID,
		State:          StateWaiting,
		ServerSeedHash: round.ServerSeedHash,
		ClientSeed:     round.ClientSeed,
		Nonce:          round.Nonce,
		CountdownMs:    m.cfg.BettingWindow.Milliseconds(),
	})

	if !m.bettingPhase(round) {
		return
	}
	if !m.runningPhase(round) {
		return
	}
	m.rest()
}

// bettingPhase accepts bets until the countdown elapses. Returns false when
// the manager is stopping.
func (m *Manager) bettingPhase(round *Round) bool {
	timer := time.NewTimer(m.cfg.BettingWindow)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return true
		case cmd := <-m.bets:
			cmd.resp <- m.handlePlaceBet(round, cmd.req)
		case cmd := <-m.cashouts:
			cmd.resp <- betResult{err: ErrCashoutClosed}
		case <-m.stopCh:
			m.voidRound(round, "table shutdown")
			return false
		}
	}
}

// runningPhase ticks the multiplier until both streams crash. Returns false
// when the manager is stopping.
func (m *Manager) runningPhase(round *Round) bool {
	m.mu.Lock()
	round.Begin(time.Now())
	m.mu.Unlock()

	m.bcast.Broadcast(StateChangeEvent{
		RoundID:        round.ID,
		State:          StateRunning,
		ServerSeedHash: round.ServerSeedHash,
		ClientSeed:     round.ClientSeed,
		Nonce:          round.Nonce,
	})

	deadline := round.StartedAt.Add(TimeToMultiplier(fair.MaxCrashPoint) + m.cfg.WatchdogGrace)

	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			if now.After(deadline) {
				// Clock or generator fault; never let the round hang.
				m.log.Errorw("round watchdog expired",
					"table", m.cfg.TableID, "round", round.ID,
					"error", &FairnessError{RoundID: round.ID, Reason: "no crash within time bound"})
				m.voidRound(round, "watchdog expired")
				return true
			}
			if m.tick(round, now) {
				return true
			}
		case cmd := <-m.bets:
			cmd.resp <- betResult{err: ErrBettingClosed}
		case cmd := <-m.cashouts:
			cmd.resp <- m.handleCashout(round, cmd)
		case <-m.stopCh:
			m.voidRound(round, "table shutdown")
			return false
		}
	}
}

// tick advances one frame: settle due auto-cashouts, crash any stream whose
// point has been reached, then broadcast either the tick or, once the last
// stream dies, the reveal. Returns true when the round is over.
func (m *Manager) tick(round *Round, now time.Time) bool {
	type streamCrash struct {
		stream Stream
		point  float64
		lost   []*Bet
	}

	m.mu.Lock()
	elapsed := round.Elapsed(now)
	current := Multiplier(elapsed)

	wins := round.SweepAutoCashouts(current)

	var crashes []streamCrash
	roundOver := false
	for _, s := range []Stream{StreamPrimary, StreamSecond} {
		if round.StreamAlive(s) && current >= round.CrashPoint(s) {
			lost, over := round.CrashStream(s, now)
			crashes = append(crashes, streamCrash{stream: s, point: round.CrashPoint(s), lost: lost})
			roundOver = roundOver || over
		}
	}
	primaryMult := round.StreamMultiplier(StreamPrimary, current)
	secondMult := round.StreamMultiplier(StreamSecond, current)
	m.mu.Unlock()

	for _, bet := range wins {
		m.creditWin(round, bet)
	}
	for _, c := range crashes {
		m.bcast.Broadcast(StreamCrashedEvent{
			RoundID:    round.ID,
			Stream:     c.stream,
			CrashPoint: c.point,
			ElapsedMs:  elapsed.Milliseconds(),
		})
		for _, bet := range c.lost {
			m.settleLoss(round, bet)
		}
	}

	if roundOver {
		m.log.Infow("round crashed",
			"table", m.cfg.TableID, "round", round.ID,
			"crash_point", round.CrashPoint(StreamPrimary),
			"second_crash_point", round.CrashPoint(StreamSecond),
			"staked", round.StakedTotal(), "paid", round.PaidTotal())
		metrics.RoundsCrashed.Inc()

		m.bcast.Broadcast(CrashedEvent{
			RoundID:          round.ID,
			CrashPoint:       round.CrashPoint(StreamPrimary),
			SecondCrashPoint: round.CrashPoint(StreamSecond),
			ServerSeed:       round.ServerSeed,
			ServerSeedHash:   round.ServerSeedHash,
			ClientSeed:       round.ClientSeed,
			Nonce:            round.Nonce,
			ElapsedMs:        elapsed.Milliseconds(),
		})
		if m.audit != nil {
			m.audit.RoundFinished(round.Record())
		}
		return true
	}

	m.bcast.Broadcast(TickEvent{
		RoundID:          round.ID,
		Multiplier:       primaryMult,
		SecondMultiplier: secondMult,
		ElapsedMs:        elapsed.Milliseconds(),
	})
	return false
}

// handlePlaceBet validates, debits, then records a bet. Runs on the round
// loop, so the duplicate check and the ledger insert cannot race.
func (m *Manager) handlePlaceBet(round *Round, req BetRequest) betResult {
	stream := req.Stream
	if stream == "" {
		stream = StreamPrimary
	}
	if !stream.Valid() {
		return betResult{err: ErrUnknownStream}
	}
	if req.Stake <= 0 {
		return betResult{err: ErrInvalidStake}
	}
	if req.Stake < m.cfg.MinStake || req.Stake > m.cfg.MaxStake {
		return betResult{err: ErrStakeOutOfRange}
	}
	if req.AutoCashoutAt != 0 && req.AutoCashoutAt <= 1.00 {
		return betResult{err: ErrInvalidAutoCashout}
	}
	if existing, ok := round.BetFor(req.UserID, stream); ok && !existing.Terminal() {
		return betResult{err: ErrDuplicateBet}
	}

	ctx, cancel := context.WithTimeout(context.Background(), walletCallTimeout)
	defer cancel()
	if err := m.wallet.Debit(ctx, req.UserID, m.cfg.Currency, req.Stake); err != nil {
		return betResult{err: err}
	}

	m.mu.Lock()
	bet, err := round.PlaceBet(req.UserID, stream, req.Stake, req.AutoCashoutAt, time.Now())
	m.mu.Unlock()
	if err != nil {
		// Betting closed between validation and insert; undo the debit.
		refundCtx, rcancel := context.WithTimeout(context.Background(), walletCallTimeout)
		defer rcancel()
		if cerr := m.wallet.Credit(refundCtx, req.UserID, m.cfg.Currency, req.Stake); cerr != nil {
			m.log.Errorw("failed to refund rejected bet",
				"table", m.cfg.TableID, "user", req.UserID, "stake", req.Stake, "error", cerr)
		}
		return betResult{err: err}
	}

	metrics.BetsPlaced.Inc()
	metrics.StakedTotal.Add(req.Stake)
	m.bcast.Broadcast(BetAcceptedEvent{
		RoundID:       round.ID,
		BetID:         bet.ID,
		UserID:        bet.UserID,
		Stream:        bet.Stream,
		Stake:         bet.Stake,
		AutoCashoutAt: bet.AutoCashoutAt,
	})
	return betResult{bet: *bet}
}

// handleCashout settles a manual cashout at the multiplier in force at this
// instant of the loop.
func (m *Manager) handleCashout(round *Round, cmd cashoutCmd) betResult {
	if !cmd.stream.Valid() {
		return betResult{err: ErrUnknownStream}
	}

	m.mu.Lock()
	bet, err := round.Cashout(cmd.userID, cmd.stream, time.Now())
	m.mu.Unlock()
	if err != nil {
		return betResult{err: err}
	}

	m.creditWin(round, bet)
	return betResult{bet: *bet}
}

// creditWin pays a settled win. The ledger transition already happened
// exactly once; a credit failure is reconciled from the round record, never
// by re-settling.
func (m *Manager) creditWin(round *Round, bet *Bet) {
	ctx, cancel := context.WithTimeout(context.Background(), walletCallTimeout)
	defer cancel()
	if err := m.wallet.Credit(ctx, bet.UserID, m.cfg.Currency, bet.Payout); err != nil {
		m.log.Errorw("failed to credit payout",
			"table", m.cfg.TableID, "round", round.ID, "bet", bet.ID,
			"payout", bet.Payout, "error", err)
	}

	metrics.BetsSettled.WithLabelValues("cashed_out").Inc()
	metrics.PaidTotal.Add(bet.Payout)
	m.bcast.Broadcast(CashedOutEvent{
		RoundID:    round.ID,
		BetID:      bet.ID,
		UserID:     bet.UserID,
		Stream:     bet.Stream,
		Multiplier: bet.CashoutMultiplier,
		Payout:     bet.Payout,
		Profit:     roundCents(bet.Payout - bet.Stake),
	})
	if m.audit != nil {
		m.audit.BetSettled(round.ID, *bet)
	}
}

// settleLoss does the bookkeeping for a crash-settled loss: no wallet
// movement, a best-effort reward-pool contribution, the audit record.
func (m *Manager) settleLoss(round *Round, bet *Bet) {
	metrics.BetsSettled.WithLabelValues("lost").Inc()

	contribution := rewardpool.Contribution{
		UserID:    bet.UserID,
		BetID:     bet.ID,
		Stake:     bet.Stake,
		HouseEdge: round.HouseEdge,
		GameType:  "crash",
		SiteID:    m.cfg.SiteID,
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), contributeTimeout)
		defer cancel()
		if err := m.rewards.Contribute(ctx, contribution); err != nil {
			m.log.Warnw("reward pool contribution failed", "bet", contribution.BetID, "error", err)
		}
	}()

	if m.audit != nil {
		m.audit.BetSettled(round.ID, *bet)
	}
}

// voidRound aborts the round, refunding every open stake exactly once.
func (m *Manager) voidRound(round *Round, reason string) {
	m.mu.Lock()
	refunds := round.Void(time.Now())
	m.mu.Unlock()

	for _, bet := range refunds {
		ctx, cancel := context.WithTimeout(context.Background(), walletCallTimeout)
		if err := m.wallet.Refund(ctx, bet.UserID, m.cfg.Currency, bet.Stake, bet.ID); err != nil {
			m.log.Errorw("failed to refund voided bet",
				"table", m.cfg.TableID, "round", round.ID, "bet", bet.ID,
				"stake", bet.Stake, "error", err)
		}
		cancel()
		metrics.BetsSettled.WithLabelValues("refunded").Inc()
	}

	m.log.Errorw("round voided",
		"table", m.cfg.TableID, "round", round.ID, "reason", reason, "refunded", len(refunds))
	metrics.RoundsVoided.Inc()

	m.bcast.Broadcast(RoundVoidedEvent{RoundID: round.ID, Reason: reason, Refunded: len(refunds)})
	if m.audit != nil {
		m.audit.RoundFinished(round.Record())
	}
}

// rest pauses between rounds without ignoring shutdown.
func (m *Manager) rest() {
	select {
	case <-time.After(m.cfg.RestDelay):
	case <-m.stopCh:
	}
}
