package venue

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryableByKind(t *testing.T) {
	cases := []struct {
		kind ErrKind
		want bool
	}{
		{ErrKindNetwork, true},
		{ErrKindTimeout, true},
		{ErrKindRateLimit, true},
		{ErrKindRejected, false},
		{ErrKindInvalid, false},
	}

	for _, tc := range cases {
		err := NewError("jupiter", "submit", tc.kind, "test", nil)
		if got := IsRetryable(err); got != tc.want {
			t.Errorf("kind %s: IsRetryable=%v want %v", tc.kind, got, tc.want)
		}
	}
}

func TestIsRetryableContextErrorsNever(t *testing.T) {
	if IsRetryable(context.Canceled) {
		t.Error("context.Canceled must not be retryable")
	}
	if IsRetryable(context.DeadlineExceeded) {
		t.Error("context.DeadlineExceeded must not be retryable")
	}
	// 即便包在接入点错误里，取消语义优先。
	wrapped := NewError("drift", "status", ErrKindNetwork, "canceled", context.Canceled)
	if IsRetryable(wrapped) {
		t.Error("wrapped cancellation must not be retryable")
	}
}

func TestIsRetryableNilAndPlainErrors(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil must not be retryable")
	}
	if IsRetryable(errors.New("boom")) {
		t.Error("plain error must not be retryable")
	}
}

func TestIsRejection(t *testing.T) {
	rejected := NewError("pump_fun", "submit", ErrKindRejected, "滑点超限", nil)
	if !IsRejection(rejected) {
		t.Error("expected rejection to be detected")
	}
	if !IsRejection(fmt.Errorf("submit failed: %w", rejected)) {
		t.Error("expected wrapped rejection to be detected")
	}
	if IsRejection(NewError("pump_fun", "submit", ErrKindNetwork, "reset", nil)) {
		t.Error("network error is not a rejection")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewError("jupiter", "quote", ErrKindNetwork, "request failed", cause)
	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to reach the cause")
	}
}
