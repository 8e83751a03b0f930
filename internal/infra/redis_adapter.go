// Package infra provides concrete infrastructure adapters for Redis.
//
// The adapter wraps go-redis v9 and implements faststore.Client. Components
// never import the driver directly; code in cmd/*/main.go creates the
// adapter and injects it.
package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/autoguard/backend/internal/core"
)

// GoRedisAdapter wraps go-redis v9 to implement faststore.Client.
type GoRedisAdapter struct {
	rdb *redis.Client
}

// NewGoRedisAdapter connects to Redis and verifies the connection with a
// ping before returning.
func NewGoRedisAdapter(addr, password string, db int) (*GoRedisAdapter, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}

	slog.Info("Redis connected", "addr", addr, "db", db)
	return &GoRedisAdapter{rdb: rdb}, nil
}

// Close shuts down the underlying redis client.
func (a *GoRedisAdapter) Close() error {
	return a.rdb.Close()
}

// Ping checks connectivity.
func (a *GoRedisAdapter) Ping(ctx context.Context) error {
	return a.rdb.Ping(ctx).Err()
}

func (a *GoRedisAdapter) Get(ctx context.Context, key string) (string, error) {
	val, err := a.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("key %s: %w", key, core.ErrNotFound)
	}
	return val, err
}

func (a *GoRedisAdapter) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return a.rdb.Set(ctx, key, value, ttl).Err()
}

func (a *GoRedisAdapter) Del(ctx context.Context, keys ...string) error {
	return a.rdb.Del(ctx, keys...).Err()
}

func (a *GoRedisAdapter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return a.rdb.Expire(ctx, key, ttl).Err()
}

func (a *GoRedisAdapter) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return a.rdb.SAdd(ctx, key, toIfaces(members)...).Err()
}

func (a *GoRedisAdapter) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return a.rdb.SRem(ctx, key, toIfaces(members)...).Err()
}

func (a *GoRedisAdapter) SMembers(ctx context.Context, key string) ([]string, error) {
	return a.rdb.SMembers(ctx, key).Result()
}

func (a *GoRedisAdapter) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return a.rdb.SIsMember(ctx, key, member).Result()
}

func (a *GoRedisAdapter) SCard(ctx context.Context, key string) (int64, error) {
	return a.rdb.SCard(ctx, key).Result()
}

func (a *GoRedisAdapter) HSet(ctx context.Context, key string, fields map[string]string) error {
	if len(fields) == 0 {
		return nil
	}
	return a.rdb.HSet(ctx, key, fields).Err()
}

func (a *GoRedisAdapter) HGet(ctx context.Context, key, field string) (string, error) {
	val, err := a.rdb.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("hash %s field %s: %w", key, field, core.ErrNotFound)
	}
	return val, err
}

func (a *GoRedisAdapter) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return a.rdb.HGetAll(ctx, key).Result()
}

func (a *GoRedisAdapter) HDel(ctx context.Context, key string, fields ...string) error {
	if len(fields) == 0 {
		return nil
	}
	return a.rdb.HDel(ctx, key, fields...).Err()
}

func (a *GoRedisAdapter) LPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	return a.rdb.LPush(ctx, key, toIfaces(values)...).Err()
}

func (a *GoRedisAdapter) LRem(ctx context.Context, key string, count int64, value string) (int64, error) {
	return a.rdb.LRem(ctx, key, count, value).Result()
}

func (a *GoRedisAdapter) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return a.rdb.LRange(ctx, key, start, stop).Result()
}

func (a *GoRedisAdapter) LTrim(ctx context.Context, key string, start, stop int64) error {
	return a.rdb.LTrim(ctx, key, start, stop).Err()
}

func (a *GoRedisAdapter) LLen(ctx context.Context, key string) (int64, error) {
	return a.rdb.LLen(ctx, key).Result()
}

func (a *GoRedisAdapter) RPopLPush(ctx context.Context, src, dst string) (string, error) {
	val, err := a.rdb.RPopLPush(ctx, src, dst).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("list %s: %w", src, core.ErrNotFound)
	}
	return val, err
}

// BRPopLPush blocks up to timeout. An expired timeout surfaces as
// core.ErrNotFound so consumer loops treat it as "queue empty".
func (a *GoRedisAdapter) BRPopLPush(ctx context.Context, src, dst string, timeout time.Duration) (string, error) {
	val, err := a.rdb.BRPopLPush(ctx, src, dst, timeout).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("list %s: %w", src, core.ErrNotFound)
	}
	return val, err
}

func (a *GoRedisAdapter) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return a.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err()
}

func (a *GoRedisAdapter) ZCard(ctx context.Context, key string) (int64, error) {
	return a.rdb.ZCard(ctx, key).Result()
}

// ReplaceSet rewrites a set in one MULTI/EXEC so readers see either the old
// or the new membership, never a partial fill.
func (a *GoRedisAdapter) ReplaceSet(ctx context.Context, key string, members []string) error {
	_, err := a.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(members) > 0 {
			pipe.SAdd(ctx, key, toIfaces(members)...)
		}
		return nil
	})
	return err
}

// ReplaceHash rewrites a hash in one MULTI/EXEC.
func (a *GoRedisAdapter) ReplaceHash(ctx context.Context, key string, fields map[string]string) error {
	_, err := a.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(fields) > 0 {
			pipe.HSet(ctx, key, fields)
		}
		return nil
	})
	return err
}

// ReplaceList rewrites a list in one MULTI/EXEC, preserving input order.
func (a *GoRedisAdapter) ReplaceList(ctx context.Context, key string, values []string) error {
	_, err := a.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.RPush(ctx, key, toIfaces(values)...)
		}
		return nil
	})
	return err
}

func (a *GoRedisAdapter) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return a.rdb.Eval(ctx, script, keys, args...).Result()
}

func toIfaces(ss []string) []interface{} {
	ifaces := make([]interface{}, len(ss))
	for i, s := range ss {
		ifaces[i] = s
	}
	return ifaces
}
