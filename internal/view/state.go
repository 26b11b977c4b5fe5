// Package view holds the per-session view state of the expense list and the
// controller that mediates between user intents, the document store and the
// live subscription.
package view

import (
	"github.com/shopspring/decimal"

	"livespese/internal/core"
)

// Inline error messages.
const (
	MsgEmptyName    = "Please enter an expense name."
	MsgEmptyPrice   = "Please enter an amount."
	MsgInvalidPrice = "Please enter a valid amount."
	MsgAddFailed    = "Failed to add item. Please try again."
	MsgDeleteFailed = "Failed to delete item. Please try again."
)

// AlertSubscriptionFailed is raised when live updates stop working.
const AlertSubscriptionFailed = "Could not load live updates. The list shown may be out of date."

// State is a snapshot of one view. Values are never mutated in place, so a
// State returned by the controller is safe to read while the view moves on.
type State struct {
	Items []core.Item
	Draft core.Draft
	Total decimal.Decimal

	// Error is the inline message for the last add or delete attempt.
	Error string
	// Alert is a blocking notification, used for subscription failures only.
	Alert string
	// PendingDelete is the item awaiting delete confirmation.
	PendingDelete string
	// Loaded is set once the first snapshot arrived.
	Loaded bool
}

// TotalText is the total with exactly two decimals.
func (s State) TotalText() string {
	return core.FormatAmount(s.Total)
}

// ShowTotal reports whether the total row is rendered.
func (s State) ShowTotal() bool {
	return len(s.Items) > 0
}

// Pending returns the item awaiting delete confirmation, if any.
func (s State) Pending() (core.Item, bool) {
	if s.PendingDelete == "" {
		return core.Item{}, false
	}
	for _, it := range s.Items {
		if it.ID == s.PendingDelete {
			return it, true
		}
	}
	return core.Item{}, false
}
