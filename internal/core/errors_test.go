package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindMatching(t *testing.T) {
	err := Errf(KindPolicyDenied, "recipient %q refuses", "beta")
	if !IsKind(err, KindPolicyDenied) {
		t.Fatal("kind should match")
	}
	if IsKind(err, KindEmptyRecipients) {
		t.Fatal("kind should not match a different kind")
	}

	wrapped := fmt.Errorf("send: %w", err)
	if !IsKind(wrapped, KindPolicyDenied) {
		t.Fatal("kind must survive wrapping")
	}
	if KindOf(wrapped) != KindPolicyDenied {
		t.Fatalf("KindOf = %v", KindOf(wrapped))
	}
}

func TestKindOfUntyped(t *testing.T) {
	if KindOf(errors.New("plain")) != KindInternal {
		t.Fatal("untyped errors default to Internal")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(KindPersistenceError, cause, "insert message")
	if !errors.Is(err, cause) {
		t.Fatal("cause must be reachable via Unwrap")
	}
	if !IsKind(err, KindPersistenceError) {
		t.Fatal("kind lost")
	}
}

func TestErrorIsByKind(t *testing.T) {
	a := Errf(KindReservationConflict, "one")
	b := Errf(KindReservationConflict, "two")
	if !errors.Is(a, b) {
		t.Fatal("errors with the same kind should match with errors.Is")
	}
}

func TestDetailsAttach(t *testing.T) {
	err := Errf(KindBuildSlotHeld, "held").WithDetails(map[string]any{"holder": "alpha"})
	var typed *Error
	if !errors.As(err, &typed) {
		t.Fatal("not a typed error")
	}
	if typed.Details["holder"] != "alpha" {
		t.Fatalf("details = %+v", typed.Details)
	}
}
