// Package rewardpool feeds the shared bonus pool a slice of every losing
// stake. Contributions are strictly best effort: a failure here is logged by
// the caller and never touches settlement.
package rewardpool

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Contribution describes one losing stake's share for the pool.
type Contribution struct {
	UserID    string
	BetID     string
	Stake     float64
	HouseEdge float64
	GameType  string
	SiteID    string
}

// Pool is the fire-and-forget collaborator interface.
type Pool interface {
	Contribute(ctx context.Context, c Contribution) error
}

// Redis accumulates contributions per site in redis. The pool value grows by
// stake * houseEdge, the operator's expected take on the lost bet.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, ttl: 30 * 24 * time.Hour}
}

func (r *Redis) Contribute(ctx context.Context, c Contribution) error {
	amount := c.Stake * c.HouseEdge
	if amount <= 0 {
		return nil
	}

	key := fmt.Sprintf("rewardpool:%s:%s", c.SiteID, c.GameType)
	pipe := r.client.TxPipeline()
	pipe.IncrByFloat(ctx, key, amount)
	pipe.Incr(ctx, key+":contributions")
	pipe.Expire(ctx, key, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rewardpool: contribute bet %s: %w", c.BetID, err)
	}
	return nil
}

// Balance reads a site's accumulated pool for one game type.
func (r *Redis) Balance(ctx context.Context, siteID, gameType string) (float64, error) {
	key := fmt.Sprintf("rewardpool:%s:%s", siteID, gameType)
	v, err := r.client.Get(ctx, key).Float64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// Noop drops contributions; used when redis is not configured.
type Noop struct{}

func (Noop) Contribute(context.Context, Contribution) error { return nil }
