package errs

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFormattingIncludesChannelAndCause(t *testing.T) {
	err := New(
		"subs",
		CodeSubscriptionRejected,
		WithMessage("depth not supported"),
		WithChannel("book"),
		WithRawCode("ESubscribe:Invalid depth"),
		WithRawMessage("Subscription depth not supported"),
		WithCause(errors.New("venue said no")),
	)

	out := err.Error()
	if !strings.Contains(out, "component=subs") {
		t.Fatalf("expected component marker in error string: %s", out)
	}
	if !strings.Contains(out, "code=subscription_rejected") {
		t.Fatalf("expected code in error string: %s", out)
	}
	if !strings.Contains(out, "channel=book") {
		t.Fatalf("expected channel marker in error string: %s", out)
	}
	if !strings.Contains(out, "raw_code=\"ESubscribe:Invalid depth\"") {
		t.Fatalf("expected raw code in error string: %s", out)
	}
	if !strings.Contains(out, "cause=\"venue said no\"") {
		t.Fatalf("expected wrapped cause in error string: %s", out)
	}
}

func TestCodeOfWalksWrapChain(t *testing.T) {
	inner := New("orders", CodeOrderTimeout, WithReqID("req-42"))
	wrapped := fmt.Errorf("place order: %w", inner)

	if got := CodeOf(wrapped); got != CodeOrderTimeout {
		t.Fatalf("expected order_timeout, got %q", got)
	}
	if !HasCode(wrapped, CodeOrderTimeout) {
		t.Fatal("expected HasCode to match through wrapping")
	}
	if HasCode(wrapped, CodeOrderRejected) {
		t.Fatal("timeout must stay distinct from rejection")
	}
}

func TestCodeOfForeignError(t *testing.T) {
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Fatalf("expected empty code for foreign error, got %q", got)
	}
}

func TestNilErrorString(t *testing.T) {
	var e *E
	if got := e.Error(); got != "<nil>" {
		t.Fatalf("expected <nil> string for nil error, got %q", got)
	}
}
