// Package ratelimit enforces rolling one-hour send caps per account and per
// queue, and the local-time send windows of each queue.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Window is the rolling period every cap is measured over.
const Window = time.Hour

// Bucket is one counter with its cap. A cap of zero or less is unlimited.
type Bucket struct {
	Key   string
	Limit int
}

// Store performs an all-or-nothing reservation across buckets. When denied it
// returns how long until every bucket has room again.
type Store interface {
	Reserve(ctx context.Context, buckets []Bucket, now time.Time, window time.Duration) (allowed bool, retryAfter time.Duration, err error)
}

type Reservation struct {
	AccountID  uint
	AccountCap int
	QueueID    uint
	QueueLimit int
}

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Governor is the single admission point for outbound sends.
type Governor struct {
	store Store
	now   func() time.Time
}

func NewGovernor(store Store) *Governor {
	return &Governor{store: store, now: time.Now}
}

// WithClock replaces the time source, for tests.
func (g *Governor) WithClock(now func() time.Time) *Governor {
	g.now = now
	return g
}

// Reserve takes one slot from the account bucket and the queue bucket, or
// from neither.
func (g *Governor) Reserve(ctx context.Context, r Reservation) (Decision, error) {
	var buckets []Bucket
	if r.AccountCap > 0 {
		buckets = append(buckets, Bucket{Key: AccountKey(r.AccountID), Limit: r.AccountCap})
	}
	if r.QueueLimit > 0 {
		buckets = append(buckets, Bucket{Key: QueueKey(r.QueueID), Limit: r.QueueLimit})
	}
	if len(buckets) == 0 {
		return Decision{Allowed: true}, nil
	}
	allowed, retryAfter, err := g.store.Reserve(ctx, buckets, g.now(), Window)
	if err != nil {
		return Decision{}, fmt.Errorf("reserve send slot: %w", err)
	}
	return Decision{Allowed: allowed, RetryAfter: retryAfter}, nil
}

func AccountKey(id uint) string {
	return fmt.Sprintf("ratelimit:account:%d", id)
}

func QueueKey(id uint) string {
	return fmt.Sprintf("ratelimit:queue:%d", id)
}
