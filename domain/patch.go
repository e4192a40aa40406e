package domain

import (
	"time"

	"github.com/bytedance/sonic"
)

// Patch is a field of a partial update. Set distinguishes "leave as is" from
// "set to the zero value", which matters for nullable fields such as the
// expiry date and the draft.
type Patch[T any] struct {
	Value T
	Set   bool
}

// Set returns a patch that assigns v.
func Set[T any](v T) Patch[T] { return Patch[T]{Value: v, Set: true} }

func (p Patch[T]) IsZero() bool { return !p.Set }

func (p Patch[T]) MarshalJSON() ([]byte, error) {
	if !p.Set {
		return []byte("null"), nil
	}
	return sonic.Marshal(p.Value)
}

func (p *Patch[T]) UnmarshalJSON(data []byte) error {
	p.Set = true
	return sonic.Unmarshal(data, &p.Value)
}

// TaskUpdate is a partial task update.
type TaskUpdate struct {
	Title       Patch[string]     `json:"title,omitzero"`
	Description Patch[string]     `json:"description,omitzero"`
	CategoryID  Patch[string]     `json:"categoryId,omitzero"`
	PriorityID  Patch[string]     `json:"priorityId,omitzero"`
	ExpiryDate  Patch[*time.Time] `json:"expiryDate,omitzero"`
	Draft       Patch[*TaskDraft] `json:"draft,omitzero"`
	Order       Patch[int]        `json:"order,omitzero"`
}

// Empty reports whether the update changes nothing.
func (u TaskUpdate) Empty() bool {
	return !u.Title.Set && !u.Description.Set && !u.CategoryID.Set && !u.PriorityID.Set &&
		!u.ExpiryDate.Set && !u.Draft.Set && !u.Order.Set
}

// Apply writes the set fields of u into t.
func (u TaskUpdate) Apply(t *Task) {
	if u.Title.Set {
		t.Title = u.Title.Value
	}
	if u.Description.Set {
		t.Description = u.Description.Value
	}
	if u.CategoryID.Set {
		t.CategoryID = u.CategoryID.Value
	}
	if u.PriorityID.Set {
		t.PriorityID = u.PriorityID.Value
	}
	if u.ExpiryDate.Set {
		t.ExpiryDate = u.ExpiryDate.Value
	}
	if u.Draft.Set {
		t.Draft = u.Draft.Value
	}
	if u.Order.Set {
		t.Order = u.Order.Value
	}
}

type CategoryUpdate struct {
	Title *string `json:"title,omitempty"`
	Color *string `json:"color,omitempty"`
}

func (u CategoryUpdate) Empty() bool { return u.Title == nil && u.Color == nil }

func (u CategoryUpdate) Apply(c *Category) {
	if u.Title != nil {
		c.Title = *u.Title
	}
	if u.Color != nil {
		c.Color = *u.Color
	}
}

type PriorityUpdate struct {
	Label *string        `json:"label,omitempty"`
	Color *string        `json:"color,omitempty"`
	Level *PriorityLevel `json:"level,omitempty"`
	Order *int           `json:"order,omitempty"`
}

func (u PriorityUpdate) Empty() bool {
	return u.Label == nil && u.Color == nil && u.Level == nil && u.Order == nil
}

func (u PriorityUpdate) Apply(p *Priority) {
	if u.Label != nil {
		p.Label = *u.Label
	}
	if u.Color != nil {
		p.Color = *u.Color
	}
	if u.Level != nil {
		p.Level = *u.Level
	}
	if u.Order != nil {
		p.Order = *u.Order
	}
}
