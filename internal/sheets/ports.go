// Package sheets mirrors the live expense list into a spreadsheet.
package sheets

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"livespese/internal/core"
)

// Snapshot is the full list at one point in time, in display order.
type Snapshot struct {
	Items   []core.Item
	Total   decimal.Decimal
	TakenAt time.Time
}

// NewSnapshot totals items as the page does.
func NewSnapshot(items []core.Item, takenAt time.Time) Snapshot {
	return Snapshot{Items: items, Total: core.Total(items), TakenAt: takenAt}
}

// Ports for outbound adapters.
type (
	SnapshotWriter interface {
		// WriteSnapshot replaces everything previously written with s.
		WriteSnapshot(ctx context.Context, s Snapshot) error
	}
)

// Header is the first row of every mirrored sheet.
var Header = []any{"Name", "Price", "Created at"}

// TimeLayout formats creation times in the sheet. USER_ENTERED input turns it
// into a spreadsheet date.
const TimeLayout = "2006-01-02 15:04:05"

// Rows lays out a snapshot as sheet rows: the header, one row per item and a
// closing total row. Prices are written as fixed two-decimal text so the sheet
// shows the same figures as the page.
func Rows(s Snapshot) [][]any {
	rows := make([][]any, 0, len(s.Items)+2)
	rows = append(rows, Header)
	for _, it := range s.Items {
		created := ""
		if !it.CreatedAt.IsZero() {
			created = it.CreatedAt.UTC().Format(TimeLayout)
		}
		rows = append(rows, []any{it.Name, core.FormatAmount(it.Price), created})
	}
	rows = append(rows, []any{"Total", core.FormatAmount(s.Total), ""})
	return rows
}
