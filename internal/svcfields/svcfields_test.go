package svcfields

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"pkt.systems/pslog"
)

func TestWithSubsystemJoinsParts(t *testing.T) {
	var buf bytes.Buffer
	logger := pslog.NewStructured(context.Background(), &buf)
	WithSubsystem(logger, HTTP, "", ".books.").Info("hello")
	out := buf.String()
	if !strings.Contains(out, "api.http.books") {
		t.Fatalf("expected joined subsystem in %q", out)
	}
}

func TestWithSubsystemNilLogger(t *testing.T) {
	if WithSubsystem(nil, Storage) == nil {
		t.Fatal("expected non-nil logger")
	}
}

func TestFromContextPrefersRequestLogger(t *testing.T) {
	var fallbackBuf, ctxBuf bytes.Buffer
	fallback := pslog.NewStructured(context.Background(), &fallbackBuf)
	FromContext(context.Background(), fallback).Info("from fallback")
	if !strings.Contains(fallbackBuf.String(), "from fallback") {
		t.Fatalf("expected fallback logger to be used, got %q", fallbackBuf.String())
	}
	ctx := pslog.ContextWithLogger(context.Background(), pslog.NewStructured(context.Background(), &ctxBuf))
	FromContext(ctx, fallback).Info("from context")
	if !strings.Contains(ctxBuf.String(), "from context") {
		t.Fatalf("expected context logger to be used, got %q", ctxBuf.String())
	}
	if strings.Contains(fallbackBuf.String(), "from context") {
		t.Fatal("fallback logger should not receive request entries")
	}
	if FromContext(nil, nil) == nil {
		t.Fatal("expected noop logger")
	}
}
