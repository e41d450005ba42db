package roomerrors

import (
	"errors"
	"fmt"
	"testing"
)

func TestNotFoundMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("join: %w", &NotFoundError{Code: "ABC123"})
	if !errors.Is(err, ErrRoomNotFound) {
		t.Error("expected NotFoundError to match ErrRoomNotFound")
	}
}

func TestStoreWrapsOnce(t *testing.T) {
	base := errors.New("connection reset")
	first := Store("update game_rooms", base)
	second := Store("publish", first)

	if second != first {
		t.Errorf("expected an existing StoreError to pass through unchanged, got %v", second)
	}
	if !errors.Is(second, base) {
		t.Error("expected StoreError to unwrap to the cause")
	}
	if Store("noop", nil) != nil {
		t.Error("expected nil error to stay nil")
	}
}

func TestRetryable(t *testing.T) {
	if !IsRetryable(Store("insert votes", errors.New("timeout"))) {
		t.Error("expected transport failures to be retryable")
	}
	if IsRetryable(Store("decode players", ErrMalformedRecord)) {
		t.Error("expected malformed records not to be retryable")
	}
	if IsRetryable(Invalid("castVote", "not in voting")) {
		t.Error("expected validation errors not to be retryable")
	}
}

func TestIsValidation(t *testing.T) {
	err := fmt.Errorf("session: %w", Invalid("advanceTurn", "phase is %s", "voting"))
	if !IsValidation(err) {
		t.Error("expected wrapped ValidationError to be detected")
	}
	if got := Invalid("advanceTurn", "phase is %s", "voting").Error(); got != "advanceTurn: phase is voting" {
		t.Errorf("unexpected message %q", got)
	}
}
