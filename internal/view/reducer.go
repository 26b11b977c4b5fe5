package view

import (
	"slices"

	"livespese/internal/core"
)

// Action is a state transition applied by Reduce.
type Action interface {
	isAction()
}

type (
	// ReplaceItems swaps the whole list for a new snapshot and recomputes the total.
	ReplaceItems struct{ Items []core.Item }

	EditName   struct{ Value string }
	EditPrice  struct{ Value string }
	ResetDraft struct{}

	SetError   struct{ Message string }
	ClearError struct{}

	RaiseAlert   struct{ Message string }
	DismissAlert struct{}

	RequestDelete struct{ ID string }
	CancelDelete  struct{}
)

func (ReplaceItems) isAction()  {}
func (EditName) isAction()      {}
func (EditPrice) isAction()     {}
func (ResetDraft) isAction()    {}
func (SetError) isAction()      {}
func (ClearError) isAction()    {}
func (RaiseAlert) isAction()    {}
func (DismissAlert) isAction()  {}
func (RequestDelete) isAction() {}
func (CancelDelete) isAction()  {}

// Reduce returns the state that results from applying a to s. It never
// modifies s.
func Reduce(s State, a Action) State {
	switch a := a.(type) {
	case ReplaceItems:
		s.Items = slices.Clone(a.Items)
		if s.Items == nil {
			s.Items = []core.Item{}
		}
		s.Total = core.Total(s.Items)
		s.Loaded = true
		// A confirmation for an item that is gone has nothing left to confirm
		if _, ok := s.Pending(); !ok {
			s.PendingDelete = ""
		}
	case EditName:
		s.Draft.Name = a.Value
	case EditPrice:
		s.Draft.Price = a.Value
	case ResetDraft:
		s.Draft = core.Draft{}
	case SetError:
		s.Error = a.Message
	case ClearError:
		s.Error = ""
	case RaiseAlert:
		s.Alert = a.Message
	case DismissAlert:
		s.Alert = ""
	case RequestDelete:
		s.PendingDelete = a.ID
	case CancelDelete:
		s.PendingDelete = ""
	}
	return s
}
