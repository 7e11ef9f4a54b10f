// Package pipeline wires the ingestion stages together: the per-document
// state machine, the three-level concurrency hierarchy, retries, and run
// summaries.
package pipeline

import (
	"context"
	"math/rand"
	"time"

	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/domain"
	"github.com/talk2jaydip/ingest-o-bot-sub001/pkg/log"
)

// RetryPolicy bounds retries of one resource class. Delays grow
// exponentially from Base, capped at Max, with half-jitter.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
}

// Per-resource policies. Extraction backends throttle hard, embedding
// endpoints prefer longer waits, vision models recover fast, stores sit
// in between.
var (
	ExtractPolicy = RetryPolicy{MaxAttempts: 3, Base: 5 * time.Second, Max: 30 * time.Second}
	EmbedPolicy   = RetryPolicy{MaxAttempts: 3, Base: 15 * time.Second, Max: 60 * time.Second}
	VisionPolicy  = RetryPolicy{MaxAttempts: 3, Base: 1 * time.Second, Max: 20 * time.Second}
	StorePolicy   = RetryPolicy{MaxAttempts: 3, Base: 2 * time.Second, Max: 30 * time.Second}
)

// Retry runs fn until it succeeds, returns a terminal error, or exhausts
// the policy. Only errors classified transient by the taxonomy are
// retried.
func Retry[T any](ctx context.Context, op string, policy RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !domain.IsTransient(err) || attempt == policy.MaxAttempts {
			return zero, err
		}

		delay := backoff(policy, attempt)
		log.WithComponent("retry").Warn("transient failure, backing off",
			"op", op,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"delay", delay,
			"error_kind", string(domain.KindOf(err)),
			"error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, lastErr
}

func backoff(policy RetryPolicy, attempt int) time.Duration {
	delay := policy.Base << (attempt - 1)
	if delay > policy.Max || delay <= 0 {
		delay = policy.Max
	}
	// Half-jitter keeps retries spread without collapsing the floor.
	half := delay / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}
