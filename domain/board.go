package domain

import "time"

// Category is a board column. Order ranks it among the owner's columns.
type Category struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Order     int       `json:"order"`
	Color     string    `json:"color,omitempty"`
	OwnerID   string    `json:"ownerId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TaskDraft holds unsaved edits of an open task editor.
type TaskDraft struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	ExpiryDate  *time.Time `json:"expiryDate"`
	PriorityID  *string    `json:"priorityId"`
}

// Task is a card. Order is only meaningful among tasks sharing CategoryID.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	CategoryID  string     `json:"categoryId"`
	PriorityID  string     `json:"priorityId"`
	ExpiryDate  *time.Time `json:"expiryDate"`
	Draft       *TaskDraft `json:"draft"`
	Order       int        `json:"order"`
	OwnerID     string     `json:"ownerId"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// NewTask carries the caller supplied fields of a task being created.
type NewTask struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	CategoryID  string     `json:"categoryId"`
	PriorityID  string     `json:"priorityId"`
	ExpiryDate  *time.Time `json:"expiryDate"`
}

type PriorityLevel string

const (
	PriorityLow    PriorityLevel = "low"
	PriorityMedium PriorityLevel = "medium"
	PriorityHigh   PriorityLevel = "high"
	PriorityUrgent PriorityLevel = "urgent"
	PriorityCustom PriorityLevel = "custom"
)

// Valid reports whether l is one of the known levels.
func (l PriorityLevel) Valid() bool {
	switch l {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent, PriorityCustom:
		return true
	}
	return false
}

// Priority is independent of columns; moving a task between priorities never
// touches its order.
type Priority struct {
	ID      string        `json:"id"`
	Label   string        `json:"label"`
	Color   string        `json:"color"`
	Level   PriorityLevel `json:"level"`
	Order   int           `json:"order"`
	OwnerID string        `json:"ownerId,omitempty"`
}

// OrderUpdate is one row of a batched order rewrite. An empty CategoryID
// leaves the task's column unchanged.
type OrderUpdate struct {
	ID         string `json:"id"`
	Order      int    `json:"order"`
	CategoryID string `json:"categoryId,omitempty"`
}
