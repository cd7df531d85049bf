package codec

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorIsMatchesSentinelKind(t *testing.T) {
	err := invalidInput("test.op", "bad dims")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatal("errors.Is should match ErrInvalidInput by kind")
	}
	if errors.Is(err, ErrDeviceLost) {
		t.Fatal("errors.Is should not match a different kind")
	}
}

func TestErrorUnwrapsUnderlyingCause(t *testing.T) {
	cause := fmt.Errorf("driver exploded")
	wrapped := backendErr("test.op", cause)
	if !errors.Is(wrapped, cause) {
		t.Fatal("errors.Is should see through to the wrapped cause")
	}
}

func TestErrorAsExtractsConcreteType(t *testing.T) {
	err := unsupportedCodec("test.op", HEVC)
	var target *Error
	if !errors.As(err, &target) {
		t.Fatal("errors.As should extract *codec.Error")
	}
	if target.Kind != ErrKindUnsupportedCodec {
		t.Fatalf("kind = %v, want UnsupportedCodec", target.Kind)
	}
}

func TestErrorMessageIncludesOpAndKind(t *testing.T) {
	err := temporaryBackpressure("decode_session.submit")
	msg := err.Error()
	if msg == "" {
		t.Fatal("expected a non-empty message")
	}
	if !strings.Contains(msg, "decode_session.submit") {
		t.Fatalf("message %q does not include the op", msg)
	}
	if !strings.Contains(msg, "temporary_backpressure") {
		t.Fatalf("message %q does not include the kind", msg)
	}
}
