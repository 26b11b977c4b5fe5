package sheets

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"livespese/internal/core"
)

func TestRowsLayout(t *testing.T) {
	items := []core.Item{
		{ID: "1", Name: "Lunch", Price: decimal.RequireFromString("12.345"), CreatedAt: time.Date(2024, 1, 5, 12, 0, 0, 0, time.FixedZone("CET", 3600))},
		{ID: "2", Name: "Bus", Price: decimal.RequireFromString("1.5")},
	}
	rows := Rows(NewSnapshot(items, time.Now()))

	if len(rows) != 4 {
		t.Fatalf("expected header, 2 items and total, got %d rows", len(rows))
	}
	if rows[0][0] != "Name" {
		t.Errorf("missing header: %v", rows[0])
	}
	if rows[1][1] != "12.35" || rows[1][2] != "2024-01-05 11:00:00" {
		t.Errorf("unexpected row: %v", rows[1])
	}
	if rows[2][2] != "" {
		t.Errorf("zero creation time should be blank, got %v", rows[2][2])
	}
	if rows[3][0] != "Total" || rows[3][1] != "13.85" {
		t.Errorf("unexpected total row: %v", rows[3])
	}
}

func TestRowsEmptySnapshot(t *testing.T) {
	rows := Rows(NewSnapshot(nil, time.Now()))
	if len(rows) != 2 || rows[1][1] != "0.00" {
		t.Fatalf("unexpected rows for empty list: %v", rows)
	}
}
