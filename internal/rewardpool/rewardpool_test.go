package rewardpool

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func testClient(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "localhost:6379",
		DB:          15,
		DialTimeout: time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("redis unavailable")
	}
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestRedis_ContributeAccumulates(t *testing.T) {
	pool := NewRedis(testClient(t))
	ctx := context.Background()

	contributions := []Contribution{
		{UserID: "alice", BetID: "b1", Stake: 100, HouseEdge: 0.04, GameType: "crash", SiteID: "site-1"},
		{UserID: "bob", BetID: "b2", Stake: 50, HouseEdge: 0.04, GameType: "crash", SiteID: "site-1"},
	}
	for _, c := range contributions {
		if err := pool.Contribute(ctx, c); err != nil {
			t.Fatalf("Contribute(%s): %v", c.BetID, err)
		}
	}

	balance, err := pool.Balance(ctx, "site-1", "crash")
	if err != nil {
		t.Fatal(err)
	}
	if balance != 6.00 {
		t.Errorf("pool balance = %v, want 6.00 (4%% of 150)", balance)
	}
}

func TestRedis_SitesAreIsolated(t *testing.T) {
	pool := NewRedis(testClient(t))
	ctx := context.Background()

	if err := pool.Contribute(ctx, Contribution{BetID: "b1", Stake: 100, HouseEdge: 0.04, GameType: "crash", SiteID: "site-a"}); err != nil {
		t.Fatal(err)
	}

	balance, err := pool.Balance(ctx, "site-b", "crash")
	if err != nil {
		t.Fatal(err)
	}
	if balance != 0 {
		t.Errorf("site-b balance = %v, want 0", balance)
	}
}

func TestRedis_ZeroAmountSkipsWrite(t *testing.T) {
	pool := NewRedis(testClient(t))
	ctx := context.Background()

	if err := pool.Contribute(ctx, Contribution{BetID: "b1", Stake: 100, HouseEdge: 0, GameType: "crash", SiteID: "site-1"}); err != nil {
		t.Fatal(err)
	}
	balance, _ := pool.Balance(ctx, "site-1", "crash")
	if balance != 0 {
		t.Errorf("balance = %v after zero-edge contribution, want 0", balance)
	}
}

func TestNoop(t *testing.T) {
	if err := (Noop{}).Contribute(context.Background(), Contribution{Stake: 10, HouseEdge: 0.04}); err != nil {
		t.Fatal(err)
	}
}
