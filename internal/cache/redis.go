// Package cache wraps the redis connection and the hot-path keys: the
// public round snapshot and the recent crash list shown to every client.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	snapshotKey    = "crash:snapshot:"
	recentKey      = "crash:recent:"
	recentListSize = 50
	snapshotTTL    = time.Minute
)

type Service interface {
	GetClient() *redis.Client
	Health(ctx context.Context) map[string]string
	Close() error

	StoreSnapshot(ctx context.Context, tableID string, snapshot any) error
	PushRecentCrash(ctx context.Context, tableID string, crashPoint float64) error
	RecentCrashes(ctx context.Context, tableID string) ([]float64, error)
}

type service struct {
	log    *zap.SugaredLogger
	client *redis.Client
}

// New connects to redis. A connection failure returns nil; callers treat a
// nil Service as cache-off and keep serving from memory.
func New(log *zap.SugaredLogger, addr, password string, db int) Service {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		log.Warnw("redis unavailable, running without cache", "addr", addr, "error", err)
		return nil
	}

	log.Infow("redis connected", "addr", addr, "db", db)
	return &service{log: log, client: client}
}

func (s *service) GetClient() *redis.Client {
	return s.client
}

// StoreSnapshot caches the public round view for reconnecting clients.
func (s *service) StoreSnapshot(ctx context.Context, tableID string, snapshot any) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("cache: marshal snapshot: %w", err)
	}
	return s.client.Set(ctx, snapshotKey+tableID, data, snapshotTTL).Err()
}

// PushRecentCrash prepends a crash point to the table's recent list, capped
// at the last fifty rounds.
func (s *service) PushRecentCrash(ctx context.Context, tableID string, crashPoint float64) error {
	key := recentKey + tableID
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, strconv.FormatFloat(crashPoint, 'f', 2, 64))
	pipe.LTrim(ctx, key, 0, recentListSize-1)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *service) RecentCrashes(ctx context.Context, tableID string) ([]float64, error) {
	values, err := s.client.LRange(ctx, recentKey+tableID, 0, recentListSize-1).Result()
	if err != nil {
		return nil, err
	}
	points := make([]float64, 0, len(values))
	for _, v := range values {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		points = append(points, f)
	}
	return points, nil
}

func (s *service) Health(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	stats := make(map[string]string)

	if _, err := s.client.Ping(ctx).Result(); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("redis down: %v", err)
		return stats
	}

	stats["status"] = "up"
	poolStats := s.client.PoolStats()
	stats["hits"] = strconv.FormatUint(uint64(poolStats.Hits), 10)
	stats["misses"] = strconv.FormatUint(uint64(poolStats.Misses), 10)
	stats["timeouts"] = strconv.FormatUint(uint64(poolStats.Timeouts), 10)
	stats["total_conns"] = strconv.FormatUint(uint64(poolStats.TotalConns), 10)
	stats["idle_conns"] = strconv.FormatUint(uint64(poolStats.IdleConns), 10)

	return stats
}

func (s *service) Close() error {
	s.log.Info("disconnecting from redis")
	return s.client.Close()
}
