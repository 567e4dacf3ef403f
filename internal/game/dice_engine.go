package game

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"skycrash/internal/fair"
	"skycrash/internal/metrics"
	"skycrash/internal/wallet"
)

const (
	diceMinTarget = 1.00
	diceMaxTarget = 99.00

	diceGameKeyPrefix = "dice:game:"
	diceGameTTL       = time.Hour
)

// DiceRoll is one resolved roll, stored for later verification.
type DiceRoll struct {
	GameID     string    `json:"game_id"`
	UserID     string    `json:"user_id"`
	Stake      float64   `json:"stake"`
	Target     float64   `json:"target"`
	IsOver     bool      `json:"is_over"`
	ServerSeed string    `json:"server_seed"`
	ClientSeed string    `json:"client_seed"`
	Nonce      int64     `json:"nonce"`
	Result     float64   `json:"result"`
	Win        bool      `json:"win"`
	Multiplier float64   `json:"multiplier"`
	Payout     float64   `json:"payout"`
	CreatedAt  time.Time `json:"created_at"`
}

type DiceRollRequest struct {
	UserID string  `json:"user_id"`
	Stake  float64 `json:"stake"`
	Target float64 `json:"target"`
	IsOver bool    `json:"is_over"`
}

// DiceEngine resolves instant over/under rolls on the same fairness
// derivation as the crash rounds, domain separated by stream tag. Each roll
// reveals its seeds immediately since nothing about the next roll can be
// predicted from them.
type DiceEngine struct {
	log       *zap.SugaredLogger
	wallet    wallet.Adapter
	redis     *redis.Client
	currency  string
	houseEdge float64
	minStake  float64
	maxStake  float64
}

func NewDiceEngine(log *zap.SugaredLogger, w wallet.Adapter, redisClient *redis.Client, currency string, houseEdge, minStake, maxStake float64) *DiceEngine {
	return &DiceEngine{
		log:       log,
		wallet:    w,
		redis:     redisClient,
		currency:  currency,
		houseEdge: houseEdge,
		minStake:  minStake,
		maxStake:  maxStake,
	}
}

func (d *DiceEngine) GetType() GameType { return GameTypeDice }

func (d *DiceEngine) Start(context.Context) error { return nil }

func (d *DiceEngine) Stop() error { return nil }

// Roll debits the stake, derives the result, and credits any payout.
func (d *DiceEngine) Roll(ctx context.Context, req DiceRollRequest) (DiceRoll, error) {
	if req.Stake <= 0 {
		return DiceRoll{}, ErrInvalidStake
	}
	if req.Stake < d.minStake || req.Stake > d.maxStake {
		return DiceRoll{}, ErrStakeOutOfRange
	}
	if req.Target < diceMinTarget || req.Target > diceMaxTarget {
		return DiceRoll{}, ErrInvalidTarget
	}

	if err := d.wallet.Debit(ctx, req.UserID, d.currency, req.Stake); err != nil {
		return DiceRoll{}, err
	}

	serverSeed := fair.GenerateSeed()
	clientSeed := fair.GenerateSeed()
	nonce := time.Now().UnixNano()
	result := fair.DeriveRoll(serverSeed, clientSeed, nonce, fair.StreamDice)

	win := (req.IsOver && result > req.Target) || (!req.IsOver && result < req.Target)
	multiplier := d.multiplier(req.Target, req.IsOver)

	roll := DiceRoll{
		GameID:     uuid.NewString(),
		UserID:     req.UserID,
		Stake:      req.Stake,
		Target:     req.Target,
		IsOver:     req.IsOver,
		ServerSeed: serverSeed,
		ClientSeed: clientSeed,
		Nonce:      nonce,
		Result:     result,
		Win:        win,
		Multiplier: multiplier,
		CreatedAt:  time.Now(),
	}

	if win {
		roll.Payout = roundCents(req.Stake * multiplier)
		if err := d.wallet.Credit(ctx, req.UserID, d.currency, roll.Payout); err != nil {
			d.log.Errorw("failed to credit dice payout",
				"game", roll.GameID, "user", req.UserID, "payout", roll.Payout, "error", err)
		}
	}

	d.store(ctx, roll)
	metrics.DiceRolls.Inc()
	d.log.Infow("dice resolved",
		"game", roll.GameID, "user", req.UserID, "result", result,
		"target", req.Target, "over", req.IsOver, "win", win, "payout", roll.Payout)
	return roll, nil
}

func (d *DiceEngine) store(ctx context.Context, roll DiceRoll) {
	if d.redis == nil {
		return
	}
	data, err := json.Marshal(roll)
	if err != nil {
		return
	}
	if err := d.redis.Set(ctx, diceGameKeyPrefix+roll.GameID, data, diceGameTTL).Err(); err != nil {
		d.log.Warnw("failed to cache dice roll", "game", roll.GameID, "error", err)
	}
}

// Game loads a stored roll by id.
func (d *DiceEngine) Game(ctx context.Context, gameID string) (DiceRoll, error) {
	if d.redis == nil {
		return DiceRoll{}, fmt.Errorf("dice: game %s not found", gameID)
	}
	data, err := d.redis.Get(ctx, diceGameKeyPrefix+gameID).Bytes()
	if err != nil {
		return DiceRoll{}, fmt.Errorf("dice: game %s not found", gameID)
	}
	var roll DiceRoll
	if err := json.Unmarshal(data, &roll); err != nil {
		return DiceRoll{}, err
	}
	return roll, nil
}

// multiplier converts the win probability into a payout factor after the
// house take.
func (d *DiceEngine) multiplier(target float64, isOver bool) float64 {
	var winChance float64
	if isOver {
		winChance = (100.0 - target) / 100.0
	} else {
		winChance = target / 100.0
	}
	if winChance < 0.01 {
		winChance = 0.01
	}
	return roundCents((1.0 / winChance) * (1.0 - d.houseEdge))
}
