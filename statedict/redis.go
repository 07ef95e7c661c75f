package statedict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisMaxRetries = 16

// RedisStore keeps the ledger in a redis hash so that environments on several
// machines share one signature space.
type RedisStore struct {
	client  *redis.Client
	key     string
	timeout time.Duration
	logger  *slog.Logger
}

var _ Store = &RedisStore{}

func NewRedisStore(addr, key string, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:        addr,
			DialTimeout: time.Second,
		}),
		key:     key,
		timeout: 5 * time.Second,
		logger:  logger,
	}
}

func (r *RedisStore) Load() (map[string]int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	raw, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("statedict: redis load: %w", err)
	}
	return r.decode(raw), nil
}

// Update watches the hash, so a concurrent insert by another environment
// aborts the EXEC and the transaction is retried on the fresh entries.
func (r *RedisStore) Update(fn func(map[string]int) bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGetAll(ctx, r.key).Result()
		if err != nil {
			return err
		}
		before := r.decode(raw)
		entries := copyEntries(before)
		if !fn(entries) {
			return nil
		}
		added := make([]interface{}, 0)
		for sig, id := range entries {
			if _, ok := before[sig]; !ok {
				added = append(added, sig, id)
			}
		}
		if len(added) == 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.key, added...)
			return nil
		})
		return err
	}

	for i := 0; i < redisMaxRetries; i++ {
		err := r.client.Watch(ctx, txf, r.key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("statedict: redis update: %w", err)
	}
	return fmt.Errorf("statedict: redis update: %w after %d attempts", redis.TxFailedErr, redisMaxRetries)
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) decode(raw map[string]string) map[string]int {
	entries := make(map[string]int, len(raw))
	for sig, v := range raw {
		id, err := strconv.Atoi(v)
		if err != nil {
			r.logger.Warn("dropping corrupt ledger entry", "key", r.key, "signature", sig, "value", v)
			continue
		}
		entries[sig] = id
	}
	return entries
}
