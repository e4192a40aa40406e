package domain

import (
	"fmt"
	"time"
)

// HistoryType separates column level entries from card level entries.
type HistoryType uint8

const (
	HistoryBoard HistoryType = iota + 1
	HistoryCard
)

func (t HistoryType) String() string {
	switch t {
	case HistoryBoard:
		return "board"
	case HistoryCard:
		return "card"
	}
	return fmt.Sprintf("HistoryType(%d)", uint8(t))
}

func (t HistoryType) MarshalText() ([]byte, error) {
	switch t {
	case HistoryBoard, HistoryCard:
		return []byte(t.String()), nil
	}
	return nil, fmt.Errorf("invalid history type %d", uint8(t))
}

func (t *HistoryType) UnmarshalText(b []byte) error {
	switch string(b) {
	case "board":
		*t = HistoryBoard
	case "card":
		*t = HistoryCard
	default:
		return fmt.Errorf("invalid history type %q", b)
	}
	return nil
}

type HistoryAction string

const (
	ActionCategoryCreated HistoryAction = "category_created"
	ActionCategoryMoved   HistoryAction = "category_moved"
	ActionCategoryDeleted HistoryAction = "category_deleted"
	ActionTaskCreated     HistoryAction = "task_created"
	ActionTaskMoved       HistoryAction = "task_moved"
	ActionTaskUpdated     HistoryAction = "task_updated"
	ActionTaskDeleted     HistoryAction = "task_deleted"
	ActionPriorityChanged HistoryAction = "priority_changed"
	ActionExpiryChanged   HistoryAction = "expiry_changed"
)

// Type returns the history type an action is filed under.
func (a HistoryAction) Type() HistoryType {
	switch a {
	case ActionCategoryCreated, ActionCategoryMoved, ActionCategoryDeleted:
		return HistoryBoard
	}
	return HistoryCard
}

// EntityType returns the kind of entity an action refers to.
func (a HistoryAction) EntityType() EntityType {
	switch a {
	case ActionCategoryCreated, ActionCategoryMoved, ActionCategoryDeleted:
		return EntityCategory
	}
	return EntityTask
}

type EntityType string

const (
	EntityCategory EntityType = "category"
	EntityTask     EntityType = "task"
)

// HistoryEntry is one append-only audit record.
type HistoryEntry struct {
	ID            string         `json:"id"`
	Type          HistoryType    `json:"type"`
	Action        HistoryAction  `json:"action"`
	EntityID      string         `json:"entityId"`
	EntityType    EntityType     `json:"entityType"`
	PreviousValue string         `json:"previousValue,omitempty"`
	NewValue      string         `json:"newValue,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	OwnerID       string         `json:"ownerId"`
}

// NewHistoryEntry fills Type and EntityType from the action.
func NewHistoryEntry(action HistoryAction, entityID string) HistoryEntry {
	return HistoryEntry{
		Type:       action.Type(),
		Action:     action,
		EntityID:   entityID,
		EntityType: action.EntityType(),
	}
}
