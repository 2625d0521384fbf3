// Package ratelimit provides the request rate limiter keyed by identity
// and action. Two adapters exist: an in-memory sliding window and a
// postgres-backed fixed window that survives restarts and is shared
// between instances.
package ratelimit

import (
	"context"

	"github.com/webpods-org/webpods/core"
)

// Limits configures the allowed number of calls per window, per action.
type Limits struct {
	Reads        int   `json:"reads"`
	Writes       int   `json:"writes"`
	PodCreate    int   `json:"pod_create"`
	StreamCreate int   `json:"stream_create"`
	WindowMS     int64 `json:"window_ms"`
	// CleanupIntervalMS is the interval of the background cleanup that
	// removes expired buckets. Zero means once per window.
	CleanupIntervalMS int64 `json:"cleanup_interval_ms"`
}

// DefaultLimits are the limits used when the configuration leaves them out.
var DefaultLimits = Limits{
	Reads:        600,
	Writes:       120,
	PodCreate:    5,
	StreamCreate: 60,
	WindowMS:     60_000,
}

// limitFor returns the configured limit for action.
func (l Limits) limitFor(action core.Action) int {
	switch action {
	case core.ActionRead:
		return l.Reads
	case core.ActionWrite:
		return l.Writes
	case core.ActionPodCreate:
		return l.PodCreate
	case core.ActionStreamCreate:
		return l.StreamCreate
	}
	return 0
}

func (l Limits) normalized() Limits {
	if l.Reads <= 0 {
		l.Reads = DefaultLimits.Reads
	}
	if l.Writes <= 0 {
		l.Writes = DefaultLimits.Writes
	}
	if l.PodCreate <= 0 {
		l.PodCreate = DefaultLimits.PodCreate
	}
	if l.StreamCreate <= 0 {
		l.StreamCreate = DefaultLimits.StreamCreate
	}
	if l.WindowMS <= 0 {
		l.WindowMS = DefaultLimits.WindowMS
	}
	if l.CleanupIntervalMS <= 0 {
		l.CleanupIntervalMS = l.WindowMS
	}
	return l
}

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed   bool  `json:"allowed"`
	Remaining int   `json:"remaining"`
	Limit     int   `json:"limit"`
	// ResetAt is the epoch-millis time at which the window frees up.
	ResetAt int64 `json:"resetAt"`
}

// Limiter is the rate limiter adapter interface. CheckAndIncrement counts
// the call against (identifier, action) and reports whether it is allowed.
// Denied calls do not mutate the counters.
type Limiter interface {
	CheckAndIncrement(ctx context.Context, identifier string, action core.Action) (Result, error)
	Shutdown()
}
