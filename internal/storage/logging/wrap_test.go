package logging

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"pkt.systems/pslog"

	"pkt.systems/booksden/internal/storage"
	"pkt.systems/booksden/internal/storage/memory"
)

func newDebugLogger(buf *bytes.Buffer) pslog.Logger {
	return pslog.NewWithOptions(context.Background(), buf, pslog.Options{
		Mode:             pslog.ModeStructured,
		DisableTimestamp: true,
		NoColor:          true,
		MinLevel:         pslog.DebugLevel,
	})
}

func withSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func TestWrapDelegatesAndLogs(t *testing.T) {
	recorder := withSpanRecorder(t)
	var buf bytes.Buffer
	backend := Wrap(memory.New(), newDebugLogger(&buf), "storage.backend.mem")
	ctx := context.Background()
	books := backend.Collection(storage.CollectionBooks)

	res, err := books.InsertOne(ctx, storage.Document{"book_name": "Dune"})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	doc, err := books.FindOne(ctx, storage.ByID(res.InsertedID))
	if err != nil || doc == nil {
		t.Fatalf("find one: %v %v", doc, err)
	}
	if _, err := books.UpdateOne(ctx, storage.ByID(res.InsertedID), storage.Document{"book_numbers": 2}, storage.UpdateOptions{}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := books.Find(ctx, nil); err != nil {
		t.Fatalf("find: %v", err)
	}
	if _, err := books.DeleteOne(ctx, storage.ByID(res.InsertedID)); err != nil {
		t.Fatalf("delete: %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"storage.insert_one.success",
		"storage.find_one.success",
		"storage.update_one.success",
		"storage.find.success",
		"storage.delete_one.success",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in logs:\n%s", want, out)
		}
	}

	spans := recorder.Ended()
	if len(spans) != 5 {
		t.Fatalf("expected 5 spans, got %d", len(spans))
	}
	if spans[0].Name() != "booksden.storage.insert_one" {
		t.Fatalf("unexpected span name %q", spans[0].Name())
	}
}

func TestWrapRecordsErrors(t *testing.T) {
	recorder := withSpanRecorder(t)
	var buf bytes.Buffer
	inner := memory.New()
	backend := Wrap(inner, newDebugLogger(&buf), "storage.backend.mem")
	ctx := context.Background()
	if err := backend.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := backend.Ping(ctx); !errors.Is(err, storage.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if !strings.Contains(buf.String(), "storage.ping.error") {
		t.Fatalf("expected ping error log:\n%s", buf.String())
	}
	spans := recorder.Ended()
	last := spans[len(spans)-1]
	if last.Status().Code != codes.Error {
		t.Fatalf("expected error status, got %v", last.Status())
	}
}

func TestUnwrap(t *testing.T) {
	inner := memory.New()
	if Unwrap(Wrap(inner, nil, "")) != storage.Backend(inner) {
		t.Fatalf("expected unwrap to return inner backend")
	}
	if Unwrap(inner) != storage.Backend(inner) {
		t.Fatalf("expected unwrap of plain backend to be identity")
	}
}
