// Package ratelimit implements a fixed-window request counter keyed by
// (client, limiter class). The window is fixed, not sliding: the counter
// resets entirely when the window elapses. Two counter stores are provided:
// an in-memory map for single-instance deployments and a Redis-backed store
// for multi-instance deployments. Counts read before a handler runs are
// inherently racy under concurrent bursts from the same client; that is
// accepted (best-effort limiting, not a hard security boundary).
package ratelimit

import (
	"context"
	"time"
)

// Store is a fixed-window counter store. Keys are opaque; callers compose
// them from the limiter class and client identity.
type Store interface {
	// Incr increments the counter for key within its current window and
	// returns the post-increment count plus the time the window resets.
	// A fresh window starts at the first increment.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, reset time.Time, err error)

	// Peek returns the current count without incrementing. A key with no
	// live window reports zero and a reset of now+window.
	Peek(ctx context.Context, key string, window time.Duration) (count int64, reset time.Time, err error)

	// Stop releases background resources held by the store.
	Stop()
}

// Class describes one limiter policy: a named budget over a fixed window.
type Class struct {
	Name   string
	Window time.Duration
	Max    int
	// SkipSuccessful means only failed requests (status >= 400) consume
	// budget: a client who immediately succeeds does not exhaust it.
	SkipSuccessful bool
}

// Limiter class names, used as key prefixes and metric labels.
const (
	ClassGeneral       = "general"
	ClassAuth          = "auth"
	ClassLogin         = "login"
	ClassPasswordReset = "password_reset"
	ClassAPI           = "api"
	ClassUpload        = "upload"
)
