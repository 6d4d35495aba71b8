package verification

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCodeSurvivesWrapping(t *testing.T) {
	base := E(CodeUserOnCooldown, "still cooling down")
	wrapped := fmt.Errorf("handling callback: %w", base)

	if !HasCode(wrapped, CodeUserOnCooldown) {
		t.Error("code lost through fmt.Errorf wrapping")
	}
	code, ok := CodeOf(wrapped)
	if !ok || code != CodeUserOnCooldown {
		t.Errorf("CodeOf = (%v, %v), want (%s, true)", code, ok, CodeUserOnCooldown)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(CodeStateStorageFailed, "persist session", cause)

	if !errors.Is(err, cause) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
	if !HasCode(err, CodeStateStorageFailed) {
		t.Error("wrap dropped the code")
	}
}

func TestHasCodeOnForeignError(t *testing.T) {
	if HasCode(errors.New("plain"), CodeUserOnCooldown) {
		t.Error("plain error matched a code")
	}
	if HasCode(nil, CodeUserOnCooldown) {
		t.Error("nil error matched a code")
	}
}
