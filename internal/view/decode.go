package view

import (
	"errors"

	"livespese/internal/core"
	"livespese/internal/storage"
)

// DecodeItems converts a snapshot into items, keeping the store's order.
// Documents whose fields cannot be coerced still produce an item (with a zero
// price) and contribute to the returned error.
func DecodeItems(docs []storage.Document) ([]core.Item, error) {
	items := make([]core.Item, 0, len(docs))
	var errs []error
	for _, d := range docs {
		item, err := core.ItemFromFields(d.ID, d.Fields)
		if err != nil {
			errs = append(errs, err)
		}
		items = append(items, item)
	}
	return items, errors.Join(errs...)
}
