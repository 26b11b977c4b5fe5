package core

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Field names used when an item is persisted as a document.
const (
	FieldName      = "name"
	FieldPrice     = "price"
	FieldCreatedAt = "createdAt"
)

type (
	// Item is one persisted expense entry. Items are immutable once created.
	Item struct {
		ID        string
		Name      string
		Price     decimal.Decimal
		CreatedAt time.Time
	}

	// Draft is the raw, unvalidated form input for a new item.
	Draft struct {
		Name  string
		Price string
	}

	// NewItem is a validated draft ready to be written to the store.
	NewItem struct {
		Name  string
		Price decimal.Decimal
	}
)

var (
	ErrEmptyName    = errors.New("empty name")
	ErrEmptyPrice   = errors.New("empty price")
	ErrInvalidPrice = errors.New("invalid price")
)

// IsEmpty reports whether both draft fields are empty.
func (d Draft) IsEmpty() bool {
	return d.Name == "" && d.Price == ""
}

// Validate checks the draft in order (name, then price) and stops at the first failure.
func (d Draft) Validate() (NewItem, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return NewItem{}, ErrEmptyName
	}
	raw := strings.TrimSpace(d.Price)
	if raw == "" {
		return NewItem{}, ErrEmptyPrice
	}
	price, err := ParsePrice(raw)
	if err != nil {
		return NewItem{}, err
	}
	return NewItem{Name: name, Price: price}, nil
}

// Fields returns the document fields written for a new item created at the given time.
func (n NewItem) Fields(createdAt time.Time) map[string]any {
	return map[string]any{
		FieldName:      n.Name,
		FieldPrice:     n.Price.InexactFloat64(),
		FieldCreatedAt: createdAt,
	}
}

// ItemFromFields rebuilds an item from stored document fields.
//
// The price is coerced to a number whatever type the store returned it as. When it
// cannot be coerced the item is still returned with a zero price together with the
// coercion error, so callers can keep the row visible (and deletable) and log it.
func ItemFromFields(id string, fields map[string]any) (Item, error) {
	item := Item{ID: id}
	if name, ok := fields[FieldName].(string); ok {
		item.Name = name
	}

	var errs []error
	price, err := PriceFromAny(fields[FieldPrice])
	if err != nil {
		errs = append(errs, fmt.Errorf("item %s price: %w", id, err))
		price = decimal.Zero
	}
	item.Price = price

	if raw, ok := fields[FieldCreatedAt]; ok && raw != nil {
		createdAt, err := TimeFromAny(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("item %s createdAt: %w", id, err))
		}
		item.CreatedAt = createdAt
	}
	return item, errors.Join(errs...)
}
