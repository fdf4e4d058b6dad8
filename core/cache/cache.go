package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"clinicsync/core/constants"
	"clinicsync/core/logger"

	"github.com/redis/go-redis/v9"
)

// OAuthGrant is the transient record persisted between the authorize
// redirect and the provider callback, keyed by the CSRF state token.
// It expires with the redis TTL; an expired grant forces the flow to
// restart from the beginning.
type OAuthGrant struct {
	ClinicianID string    `json:"clinician_id"`
	Provider    string    `json:"provider"`
	Verifier    string    `json:"verifier"`
	CreatedAt   time.Time `json:"created_at"`
}

type Cache interface {
	SaveOAuthGrant(ctx context.Context, state string, grant *OAuthGrant, ttl time.Duration) error
	// ConsumeOAuthGrant fetches and deletes the grant in one step so a
	// state token is single-use. Returns nil when absent or expired.
	ConsumeOAuthGrant(ctx context.Context, state string) (*OAuthGrant, error)
	BlacklistToken(ctx context.Context, token string, ttl time.Duration) error
	IsTokenBlacklisted(ctx context.Context, token string) (bool, error)
	Ping(ctx context.Context) error
}

type redisCache struct {
	client *redis.Client
}

func NewRedisCache(addr, password string, db int) (Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis cache initialized", "addr", addr, "db", db)
	return &redisCache{client: client}, nil
}

func (c *redisCache) SaveOAuthGrant(ctx context.Context, state string, grant *OAuthGrant, ttl time.Duration) error {
	data, err := json.Marshal(grant)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, constants.RedisKeyOAuthGrant+state, data, ttl).Err()
}

func (c *redisCache) ConsumeOAuthGrant(ctx context.Context, state string) (*OAuthGrant, error) {
	data, err := c.client.GetDel(ctx, constants.RedisKeyOAuthGrant+state).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var grant OAuthGrant
	if err := json.Unmarshal(data, &grant); err != nil {
		return nil, err
	}
	return &grant, nil
}

func (c *redisCache) BlacklistToken(ctx context.Context, token string, ttl time.Duration) error {
	return c.client.Set(ctx, constants.RedisKeyTokenBlacklist+token, "1", ttl).Err()
}

func (c *redisCache) IsTokenBlacklisted(ctx context.Context, token string) (bool, error) {
	n, err := c.client.Exists(ctx, constants.RedisKeyTokenBlacklist+token).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *redisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
