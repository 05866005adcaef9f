package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestErrorMatchesKindSentinelAndCause(t *testing.T) {
	cause := stderrors.New("queue full")
	err := Capacity("TOO_MANY_FORCED_REQUESTS", cause)

	if !stderrors.Is(err, ErrCapacity) {
		t.Fatalf("expected match on kind sentinel")
	}
	if stderrors.Is(err, ErrTiming) {
		t.Fatalf("must not match a different kind")
	}
	if !stderrors.Is(err, cause) {
		t.Fatalf("expected match on the wrapped cause")
	}
}

func TestCodeAndKindExtraction(t *testing.T) {
	err := Timing("SHUTDOWN_NOT_TOO_OLD", nil)
	if CodeOf(err) != "SHUTDOWN_NOT_TOO_OLD" {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if KindOf(err) != KindTiming {
		t.Fatalf("unexpected kind: %v", KindOf(err))
	}

	// Non-taxonomy errors extract to zero values.
	plain := stderrors.New("plain")
	if CodeOf(plain) != "" || KindOf(plain) != 0 {
		t.Fatalf("plain error must not extract taxonomy fields")
	}

	// Wrapping preserves extraction.
	wrapped := fmt.Errorf("rpc: %w", err)
	if CodeOf(wrapped) != "SHUTDOWN_NOT_TOO_OLD" {
		t.Fatalf("wrapped code lost: %s", CodeOf(wrapped))
	}
}

func TestErrorString(t *testing.T) {
	err := State("ALREADY_INITIALIZED", stderrors.New("exchange: already initialized"))
	want := "ALREADY_INITIALIZED (state): exchange: already initialized"
	if err.Error() != want {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	bare := NoBalance("NO_WITHDRAWABLE_BALANCE", nil)
	if bare.Error() != "NO_WITHDRAWABLE_BALANCE (no-balance)" {
		t.Fatalf("unexpected message: %s", bare.Error())
	}
}
