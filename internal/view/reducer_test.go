package view

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"livespese/internal/core"
	"livespese/internal/storage"
)

func TestReduceDoesNotModifyInput(t *testing.T) {
	items := []core.Item{{ID: "a", Name: "A", Price: decimal.NewFromInt(1)}}
	s := Reduce(State{}, ReplaceItems{Items: items})

	items[0].Name = "mutated"
	assert.Equal(t, "A", s.Items[0].Name, "snapshot must be copied")

	next := Reduce(s, EditName{Value: "x"})
	assert.Empty(t, s.Draft.Name)
	assert.Equal(t, "x", next.Draft.Name)
}

func TestReduceReplaceItemsNilBecomesEmpty(t *testing.T) {
	s := Reduce(State{}, ReplaceItems{})
	assert.NotNil(t, s.Items)
	assert.True(t, s.Loaded)
	assert.Equal(t, "0.00", s.TotalText())
}

func TestReduceDraftAndMessages(t *testing.T) {
	s := State{}
	s = Reduce(s, EditName{Value: "Coffee"})
	s = Reduce(s, EditPrice{Value: "3.5"})
	s = Reduce(s, SetError{Message: MsgAddFailed})
	s = Reduce(s, RaiseAlert{Message: AlertSubscriptionFailed})
	assert.Equal(t, core.Draft{Name: "Coffee", Price: "3.5"}, s.Draft)

	s = Reduce(s, ResetDraft{})
	s = Reduce(s, ClearError{})
	assert.True(t, s.Draft.IsEmpty())
	assert.Empty(t, s.Error)
	assert.Equal(t, AlertSubscriptionFailed, s.Alert, "alert is only cleared by dismissing it")

	s = Reduce(s, DismissAlert{})
	assert.Empty(t, s.Alert)
}

func TestStatePending(t *testing.T) {
	s := Reduce(State{}, ReplaceItems{Items: []core.Item{{ID: "a", Name: "A"}}})
	_, ok := s.Pending()
	assert.False(t, ok)

	s = Reduce(s, RequestDelete{ID: "a"})
	it, ok := s.Pending()
	assert.True(t, ok)
	assert.Equal(t, "A", it.Name)

	s = Reduce(s, CancelDelete{})
	assert.Empty(t, s.PendingDelete)
}

func TestDecodeItemsKeepsOrderAndReportsErrors(t *testing.T) {
	items, err := DecodeItems([]storage.Document{
		{ID: "1", Fields: storage.Fields{core.FieldName: "one", core.FieldPrice: 1.5}},
		{ID: "2", Fields: storage.Fields{core.FieldName: "two", core.FieldPrice: []int{1}}},
		{ID: "3", Fields: storage.Fields{core.FieldName: "three", core.FieldPrice: "2,25"}},
	})

	assert.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidPrice)
	if assert.Len(t, items, 3) {
		assert.Equal(t, []string{"1", "2", "3"}, []string{items[0].ID, items[1].ID, items[2].ID})
		assert.Equal(t, "2.25", core.FormatAmount(items[2].Price))
		assert.True(t, items[1].Price.IsZero())
	}
}
