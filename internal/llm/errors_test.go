package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", &StatusError{Status: 429}, true},
		{"bad gateway", &StatusError{Status: 502}, true},
		{"bad request", &StatusError{Status: 400, Message: "invalid model"}, false},
		{"unauthorized", &StatusError{Status: 401}, false},
		{"timeout", ErrTimeout, true},
		{"deadline", fmt.Errorf("stream: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, false},
		{"empty", ErrEmptyResponse, true},
		{"opaque", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.want {
				t.Fatalf("IsRetryable(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestStatusErrorUnwrap(t *testing.T) {
	err := fmt.Errorf("call: %w", &StatusError{Status: 503, Message: "overloaded"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if StatusOf(err) != 503 {
		t.Fatalf("expected status 503, got %d", StatusOf(err))
	}
	if IsTimeout(&StatusError{Status: 504}) {
		t.Fatalf("status-bearing errors are not timeouts")
	}
}
