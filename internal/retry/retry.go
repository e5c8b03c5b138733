// Package retry runs a single streaming call under bounded attempts with
// exponential backoff and jitter.
package retry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"glossa/internal/llm"
)

// Policy describes the attempt budget and the backoff curve.
type Policy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
	Factor      float64
	// Jitter is the upper bound of the random fraction added to each delay.
	Jitter float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		Base:        2 * time.Second,
		Max:         30 * time.Second,
		Factor:      2,
		Jitter:      0.25,
	}
}

// CallFunc performs one attempt with a serialized payload.
type CallFunc func(ctx context.Context, payload []byte) (string, error)

// ExhaustedError is returned once every attempt failed with a retryable error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

type Scheduler struct {
	policy Policy
	logger *slog.Logger
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

type Option func(*Scheduler)

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) { s.sleep = sleep }
}

// WithRand replaces the jitter source; fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(s *Scheduler) { s.jitter = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(policy Policy, opts ...Option) *Scheduler {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.Factor < 1 {
		policy.Factor = 1
	}
	if policy.Jitter < 0 {
		policy.Jitter = 0
	}
	s := &Scheduler{
		policy: policy,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		sleep:  sleepContext,
		jitter: rand.Float64,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Policy() Policy {
	return s.policy
}

// Do invokes call until it succeeds, fails with a non-retryable error, or
// the attempt budget runs out. Non-retryable errors are returned as-is.
func (s *Scheduler) Do(ctx context.Context, payload []byte, call CallFunc) (string, error) {
	var last error
	for attempt := 1; attempt <= s.policy.MaxAttempts; attempt++ {
		text, err := call(ctx, payload)
		if err == nil {
			return text, nil
		}
		if !llm.IsRetryable(err) {
			return "", err
		}
		last = err
		if attempt == s.policy.MaxAttempts {
			break
		}
		delay := s.Delay(attempt)
		s.logger.Warn("retry.backoff",
			"attempt", attempt,
			"max_attempts", s.policy.MaxAttempts,
			"status", llm.StatusOf(err),
			"delay", delay.String(),
			"error", err.Error(),
		)
		if err := s.sleep(ctx, delay); err != nil {
			return "", err
		}
	}
	return "", &ExhaustedError{Attempts: s.policy.MaxAttempts, Last: last}
}

// Delay returns the wait after the given failed attempt (1-based):
// min(Max, Base*Factor^(attempt-1)) scaled by 1+jitter.
func (s *Scheduler) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(s.policy.Base) * math.Pow(s.policy.Factor, float64(attempt-1))
	if s.policy.Max > 0 && delay > float64(s.policy.Max) {
		delay = float64(s.policy.Max)
	}
	if s.policy.Jitter > 0 {
		delay *= 1 + s.policy.Jitter*s.jitter()
	}
	return time.Duration(math.Round(delay))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
