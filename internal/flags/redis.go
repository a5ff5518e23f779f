package flags

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisOptions configures the shared flag store
type RedisOptions struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string        // default "mule:flag:"
	TTL       time.Duration // 0 keeps flags until overwritten
}

// RedisStore keeps flags as JSON values so several API replicas share them
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore connects and pings Redis
func NewRedisStore(ctx context.Context, opts RedisOptions, logger *zap.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", opts.Addr, err)
	}

	if logger != nil {
		logger.Info("Connected to Redis flag store",
			zap.String("addr", opts.Addr),
			zap.Int("db", opts.DB))
	}
	return NewRedisStoreFromClient(rdb, opts.KeyPrefix, opts.TTL, logger), nil
}

// NewRedisStoreFromClient wraps an existing client without pinging it
func NewRedisStoreFromClient(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if prefix == "" {
		prefix = "mule:flag:"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (s *RedisStore) key(accountID string) string {
	return s.prefix + accountID
}

func (s *RedisStore) Get(ctx context.Context, accountID string) (Flag, bool, error) {
	raw, err := s.client.Get(ctx, s.key(accountID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Flag{}, false, nil
	}
	if err != nil {
		return Flag{}, false, fmt.Errorf("get flag %s: %w", accountID, err)
	}

	var f Flag
	if err := json.Unmarshal(raw, &f); err != nil {
		return Flag{}, false, fmt.Errorf("decode flag %s: %w", accountID, err)
	}
	return f, true, nil
}

func (s *RedisStore) Set(ctx context.Context, flag Flag) error {
	if err := flag.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(flag)
	if err != nil {
		return fmt.Errorf("encode flag %s: %w", flag.AccountID, err)
	}
	if err := s.client.Set(ctx, s.key(flag.AccountID), payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("set flag %s: %w", flag.AccountID, err)
	}
	s.logger.Debug("flag stored", zap.String("accountId", flag.AccountID), zap.String("status", string(flag.Status)))
	return nil
}

// Close releases the Redis connection pool
func (s *RedisStore) Close() error {
	return s.client.Close()
}
