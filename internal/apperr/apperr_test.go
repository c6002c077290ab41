package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf_Wrapped(t *testing.T) {
	base := NetworkFailure("contacts", errors.New("connection refused"))
	wrapped := fmt.Errorf("conversation: load contacts: %w", base)

	if got := CodeOf(wrapped); got != CodeNetworkFailure {
		t.Fatalf("expected %s, got %s", CodeNetworkFailure, got)
	}
	if !Is(wrapped, CodeNetworkFailure) {
		t.Error("expected Is to match through fmt.Errorf wrapping")
	}
}

func TestCodeOf_PlainError(t *testing.T) {
	if got := CodeOf(errors.New("boom")); got != CodeUnknown {
		t.Fatalf("expected %s, got %s", CodeUnknown, got)
	}
	if Is(nil, CodeUnknown) {
		t.Error("nil error must not match any code")
	}
}

func TestAppError_Message(t *testing.T) {
	cause := errors.New("bad segment")
	err := InvalidToken(cause)

	if err.Error() != "invalid token: bad segment" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable via errors.Is")
	}

	if Unauthorized("send").Error() != "send: unauthorized" {
		t.Errorf("unexpected message %q", Unauthorized("send").Error())
	}
}
