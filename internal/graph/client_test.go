package graph

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRecordAccessors(t *testing.T) {
	rec := Record{
		"name":    "vault",
		"minor":   int64(12345),
		"small":   7,
		"flag":    true,
		"created": "2024-03-01T10:00:00.5Z",
	}

	if got := rec.String("name"); got != "vault" {
		t.Errorf("String: got %q", got)
	}
	if got := rec.String("missing"); got != "" {
		t.Errorf("String on missing key: got %q", got)
	}
	if got := rec.Int64("minor"); got != 12345 {
		t.Errorf("Int64: got %d", got)
	}
	if got := rec.Int64("small"); got != 7 {
		t.Errorf("Int64 from int: got %d", got)
	}
	if !rec.Bool("flag") || rec.Bool("name") {
		t.Errorf("Bool returned wrong values")
	}
	created := rec.Time("created")
	if created == nil || !created.Equal(time.Date(2024, 3, 1, 10, 0, 0, 5e8, time.UTC)) {
		t.Errorf("Time: got %v", created)
	}
	if rec.Time("missing") != nil {
		t.Errorf("Time on missing key must be nil")
	}
}

func TestMemoryClient_QueueThenResponder(t *testing.T) {
	mem := NewMemoryClient().WithResponder(func(q ExecutedQuery) (Result, error) {
		return Result{Records: []Record{{"echo": q.Params["v"]}}}, nil
	})
	mem.Push(Record{"queued": true})
	mem.PushError(errors.New("second fails"))

	ctx := context.Background()
	res, err := mem.ExecuteWrite(ctx, "Q1", map[string]any{"v": 1})
	if err != nil || !res.Records[0].Bool("queued") {
		t.Fatalf("expected queued result, got %v %v", res, err)
	}
	if _, err := mem.ExecuteRead(ctx, "Q2", nil); err == nil {
		t.Fatalf("expected queued error")
	}
	res, err = mem.ExecuteRead(ctx, "Q3", map[string]any{"v": 3})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if rec, ok := res.Single(); !ok || rec["echo"] != 3 {
		t.Fatalf("expected responder result, got %v", res)
	}

	if got := len(mem.Calls()); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
	if got := len(mem.WriteCalls()); got != 1 {
		t.Fatalf("expected 1 write call, got %d", got)
	}
}

func TestFormatTime(t *testing.T) {
	if FormatTime(time.Time{}) != "" {
		t.Errorf("zero time must format as empty string")
	}
	loc := time.FixedZone("X", 3600)
	if got := FormatTime(time.Date(2024, 1, 1, 1, 0, 0, 0, loc)); got != "2024-01-01T00:00:00Z" {
		t.Errorf("FormatTime: got %s", got)
	}
}
