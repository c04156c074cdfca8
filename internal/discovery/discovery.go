// Package discovery resolves player pages into HLS stream URLs and the session
// credentials needed to fetch them.
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"hls-relay/internal/credentials"
)

// Outcome is the kind of result a discovery attempt produced.
type Outcome int

const (
	// Found means a stream URL was observed.
	Found Outcome = iota
	// NotFound means the page loaded but exposed no stream URL.
	NotFound
	// TransientFailure is a failure worth one more attempt, such as the page's
	// execution context being torn down mid-inspection.
	TransientFailure
	// FatalFailure is any other failure.
	FatalFailure
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	case TransientFailure:
		return "transient_failure"
	default:
		return "fatal_failure"
	}
}

// Result of a discovery attempt. StreamURL and Credentials are set only for
// Found; Err is set only for the failure outcomes.
type Result struct {
	Outcome     Outcome
	StreamURL   string
	Credentials credentials.Bundle
	Err         error
}

// Discoverer resolves a player page URL. Implementations must honour ctx.
type Discoverer interface {
	Discover(ctx context.Context, pageURL string) Result
}

// DefaultRetryBackoff is the pause before retrying a TransientFailure.
const DefaultRetryBackoff = 2 * time.Second

// Retrying retries a TransientFailure exactly once after Backoff. A second
// TransientFailure is reported as FatalFailure.
type Retrying struct {
	Next    Discoverer
	Backoff time.Duration
	Log     *slog.Logger
}

// Discover implements Discoverer.
func (r *Retrying) Discover(ctx context.Context, pageURL string) Result {
	res := r.Next.Discover(ctx, pageURL)
	if res.Outcome != TransientFailure {
		return res
	}

	if r.Log != nil {
		r.Log.Warn("discovery transient failure, retrying",
			slog.String("page_url", pageURL),
			slog.Duration("backoff", r.Backoff),
			slog.String("error", errString(res.Err)))
	}

	t := time.NewTimer(r.Backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return Result{Outcome: FatalFailure, Err: ctx.Err()}
	case <-t.C:
	}

	res = r.Next.Discover(ctx, pageURL)
	if res.Outcome == TransientFailure {
		res.Outcome = FatalFailure
		res.Err = fmt.Errorf("retry failed: %w", res.Err)
	}
	return res
}

// DefaultQueueTimeout bounds how long a discovery waits for a browser slot.
const DefaultQueueTimeout = 30 * time.Second

// Limited bounds how many discoveries run at once and how often they start.
// Browser instances are expensive, so every attempt, retries included, takes
// a slot.
type Limited struct {
	next         Discoverer
	sem          *semaphore.Weighted
	limiter      *rate.Limiter
	queueTimeout time.Duration
}

// NewLimited wraps next. maxConcurrent < 1 is treated as 1; perMinute <= 0
// disables rate limiting; queueTimeout <= 0 uses DefaultQueueTimeout.
func NewLimited(next Discoverer, maxConcurrent, perMinute int, queueTimeout time.Duration) *Limited {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	if queueTimeout <= 0 {
		queueTimeout = DefaultQueueTimeout
	}
	l := &Limited{next: next, sem: semaphore.NewWeighted(int64(maxConcurrent)), queueTimeout: queueTimeout}
	if perMinute > 0 {
		l.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), maxConcurrent)
	}
	return l
}

// Discover implements Discoverer. Waiting for the rate limiter and a slot
// together may take at most queueTimeout; expiry is a FatalFailure.
func (l *Limited) Discover(ctx context.Context, pageURL string) Result {
	if err := l.acquire(ctx); err != nil {
		return Result{Outcome: FatalFailure, Err: err}
	}
	defer l.sem.Release(1)
	return l.next.Discover(ctx, pageURL)
}

func (l *Limited) acquire(ctx context.Context) error {
	qctx, cancel := context.WithTimeout(ctx, l.queueTimeout)
	defer cancel()
	if l.limiter != nil {
		if err := l.limiter.Wait(qctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
	}
	if err := l.sem.Acquire(qctx, 1); err != nil {
		return fmt.Errorf("acquire browser slot: %w", err)
	}
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
