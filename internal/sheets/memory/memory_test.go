package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"livespese/internal/core"
	"livespese/internal/sheets"
)

func TestWriterKeepsLastSnapshot(t *testing.T) {
	w := New()
	ctx := context.Background()

	first := []core.Item{{ID: "1", Name: "A", Price: decimal.NewFromInt(1)}}
	second := []core.Item{{ID: "2", Name: "B", Price: decimal.NewFromInt(2)}, {ID: "1", Name: "A", Price: decimal.NewFromInt(1)}}

	if err := w.WriteSnapshot(ctx, sheets.NewSnapshot(first, time.Now())); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteSnapshot(ctx, sheets.NewSnapshot(second, time.Now())); err != nil {
		t.Fatal(err)
	}

	rows := w.Rows()
	if len(rows) != 4 || rows[1][0] != "B" || rows[3][1] != "3.00" {
		t.Fatalf("unexpected rows: %v", rows)
	}
	if w.Writes() != 2 {
		t.Errorf("writes = %d", w.Writes())
	}
}

func TestWriterFailWith(t *testing.T) {
	w := New()
	boom := errors.New("boom")
	w.FailWith(boom)

	if err := w.WriteSnapshot(context.Background(), sheets.NewSnapshot(nil, time.Now())); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	w.FailWith(nil)
	if err := w.WriteSnapshot(context.Background(), sheets.NewSnapshot(nil, time.Now())); err != nil {
		t.Fatalf("expected recovery, got %v", err)
	}
	if w.Writes() != 1 {
		t.Errorf("writes = %d", w.Writes())
	}
}
