// Package faststore defines the fast lookup store consumed by the decision
// hot path, the blacklist materializer, and the job queues.
//
// The interface is the minimal command surface those components need; code
// in cmd/*/main.go constructs the concrete Redis-backed client (see
// internal/infra) and injects it. Absent keys surface as core.ErrNotFound
// so callers never compare against driver sentinels.
package faststore

import (
	"context"
	"time"
)

// Client is the capability set of the fast lookup store: plain keys with
// TTL, sets, hashes, lists with blocking pop, sorted sets for delayed
// scheduling, atomic whole-key replacement, and multi-key scripting.
type Client interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)
	SCard(ctx context.Context, key string) (int64, error)

	HSet(ctx context.Context, key string, fields map[string]string) error
	HGet(ctx context.Context, key, field string) (string, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error

	LPush(ctx context.Context, key string, values ...string) error
	LRem(ctx context.Context, key string, count int64, value string) (int64, error)
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	LLen(ctx context.Context, key string) (int64, error)
	RPopLPush(ctx context.Context, src, dst string) (string, error)
	BRPopLPush(ctx context.Context, src, dst string, timeout time.Duration) (string, error)

	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZCard(ctx context.Context, key string) (int64, error)

	// ReplaceSet, ReplaceHash and ReplaceList rewrite a whole key in one
	// atomic step so readers never observe a half-applied state. Empty
	// input leaves the key deleted.
	ReplaceSet(ctx context.Context, key string, members []string) error
	ReplaceHash(ctx context.Context, key string, fields map[string]string) error
	ReplaceList(ctx context.Context, key string, values []string) error

	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)

	Ping(ctx context.Context) error
	Close() error
}
