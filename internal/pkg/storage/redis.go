package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Vodeneev/tounesbet/internal/pkg/config"
	"github.com/Vodeneev/tounesbet/internal/pkg/models"
)

// CachedMarkets is the cached full market set of one match.
type CachedMarkets struct {
	MatchID   string                      `json:"match_id"`
	FetchedAt time.Time                   `json:"fetched_at"`
	Markets   []models.MarketWithOutcomes `json:"markets"`
}

// MarketsCache sits in front of the full-markets read path.
type MarketsCache interface {
	Get(ctx context.Context, matchID string) (*CachedMarkets, bool, error)
	Set(ctx context.Context, v *CachedMarkets) error
	Delete(ctx context.Context, matchID string) error
}

var _ MarketsCache = (*RedisMarketsCache)(nil)

type RedisMarketsCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisMarketsCache(cfg *config.RedisConfig) (*RedisMarketsCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Check connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisMarketsCache{client: client, ttl: cfg.TTL}, nil
}

func marketsKey(matchID string) string {
	return "tounesbet:markets:" + matchID
}

// Get returns false on a cache miss.
func (r *RedisMarketsCache) Get(ctx context.Context, matchID string) (*CachedMarkets, bool, error) {
	data, err := r.client.Get(ctx, marketsKey(matchID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached markets: %w", err)
	}

	var v CachedMarkets
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached markets: %w", err)
	}
	return &v, true, nil
}

func (r *RedisMarketsCache) Set(ctx context.Context, v *CachedMarkets) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal markets: %w", err)
	}
	return r.client.Set(ctx, marketsKey(v.MatchID), data, r.ttl).Err()
}

func (r *RedisMarketsCache) Delete(ctx context.Context, matchID string) error {
	return r.client.Del(ctx, marketsKey(matchID)).Err()
}

// Close closes connection with Redis
func (r *RedisMarketsCache) Close() error {
	return r.client.Close()
}
