package storage

import (
	"fmt"
	"math"
	"time"

	"github.com/bytedance/sonic"

	"prism-board/domain"
)

// Entity represents base table entity keys.
type Entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

const (
	EdmInt32    = "Edm.Int32"
	EdmBoolean  = "Edm.Boolean"
	EdmInt64    = "Edm.Int64"
	EdmDateTime = "Edm.DateTime"
)

var (
	edmInt32    = EdmInt32
	edmDateTime = EdmDateTime
)

type categoryEntity struct {
	Entity
	Title         string `json:"Title"`
	Color         string `json:"Color,omitempty"`
	Order         int    `json:"Order"`
	OrderType     string `json:"Order@odata.type"`
	CreatedAt     string `json:"CreatedAt,omitempty"`
	CreatedAtType string `json:"CreatedAt@odata.type,omitempty"`
	UpdatedAt     string `json:"UpdatedAt,omitempty"`
	UpdatedAtType string `json:"UpdatedAt@odata.type,omitempty"`
}

type categoryUpdate struct {
	Entity
	Title         *string `json:"Title,omitempty"`
	Color         *string `json:"Color,omitempty"`
	Order         *int    `json:"Order,omitempty"`
	OrderType     *string `json:"Order@odata.type,omitempty"`
	UpdatedAt     *string `json:"UpdatedAt,omitempty"`
	UpdatedAtType *string `json:"UpdatedAt@odata.type,omitempty"`
}

// taskEntity stores the nullable expiry date and draft as plain strings so a
// merge can clear them; "" means null.
type taskEntity struct {
	Entity
	Title         string `json:"Title"`
	Description   string `json:"Description"`
	CategoryID    string `json:"CategoryId"`
	PriorityID    string `json:"PriorityId"`
	ExpiryDate    string `json:"ExpiryDate"`
	Draft         string `json:"Draft"`
	Order         int    `json:"Order"`
	OrderType     string `json:"Order@odata.type"`
	CreatedAt     string `json:"CreatedAt,omitempty"`
	CreatedAtType string `json:"CreatedAt@odata.type,omitempty"`
	UpdatedAt     string `json:"UpdatedAt,omitempty"`
	UpdatedAtType string `json:"UpdatedAt@odata.type,omitempty"`
}

type taskUpdate struct {
	Entity
	Title         *string `json:"Title,omitempty"`
	Description   *string `json:"Description,omitempty"`
	CategoryID    *string `json:"CategoryId,omitempty"`
	PriorityID    *string `json:"PriorityId,omitempty"`
	ExpiryDate    *string `json:"ExpiryDate,omitempty"`
	Draft         *string `json:"Draft,omitempty"`
	Order         *int    `json:"Order,omitempty"`
	OrderType     *string `json:"Order@odata.type,omitempty"`
	UpdatedAt     *string `json:"UpdatedAt,omitempty"`
	UpdatedAtType *string `json:"UpdatedAt@odata.type,omitempty"`
}

type priorityEntity struct {
	Entity
	Label     string `json:"Label"`
	Color     string `json:"Color"`
	Level     string `json:"Level"`
	Order     int    `json:"Order"`
	OrderType string `json:"Order@odata.type"`
}

type priorityUpdate struct {
	Entity
	Label     *string `json:"Label,omitempty"`
	Color     *string `json:"Color,omitempty"`
	Level     *string `json:"Level,omitempty"`
	Order     *int    `json:"Order,omitempty"`
	OrderType *string `json:"Order@odata.type,omitempty"`
}

type historyEntity struct {
	Entity
	EntryID       string `json:"EntryId"`
	Type          string `json:"Type"`
	Action        string `json:"Action"`
	EntityID      string `json:"EntityId"`
	EntityType    string `json:"EntityType"`
	PreviousValue string `json:"PreviousValue,omitempty"`
	NewValue      string `json:"NewValue,omitempty"`
	Metadata      string `json:"Metadata,omitempty"`
	Timestamp     string `json:"EntryTimestamp"`
	TimestampType string `json:"EntryTimestamp@odata.type"`
}

type userEntity struct {
	Entity
	Email         string `json:"Email,omitempty"`
	DisplayName   string `json:"DisplayName,omitempty"`
	PhotoURL      string `json:"PhotoUrl,omitempty"`
	Notifications string `json:"NotificationSettings"`
}

type userSettingsUpdate struct {
	Entity
	Notifications string `json:"NotificationSettings"`
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseOptionalTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := parseTime(s)
	if t.IsZero() {
		return nil
	}
	return &t
}

func encodeDraft(d *domain.TaskDraft) (string, error) {
	if d == nil {
		return "", nil
	}
	data, err := sonic.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("encode draft: %w", err)
	}
	return string(data), nil
}

func decodeDraft(s string) *domain.TaskDraft {
	if s == "" {
		return nil
	}
	var d domain.TaskDraft
	if err := sonic.UnmarshalString(s, &d); err != nil {
		return nil
	}
	return &d
}

// historyRowKey sorts newer entries first within a partition.
func historyRowKey(ts time.Time, id string) string {
	return fmt.Sprintf("%019d_%s", math.MaxInt64-ts.UnixNano(), id)
}

func toCategoryEntity(c domain.Category) categoryEntity {
	return categoryEntity{
		Entity:        Entity{PartitionKey: c.OwnerID, RowKey: c.ID},
		Title:         c.Title,
		Color:         c.Color,
		Order:         c.Order,
		OrderType:     EdmInt32,
		CreatedAt:     formatTime(c.CreatedAt),
		CreatedAtType: EdmDateTime,
		UpdatedAt:     formatTime(c.UpdatedAt),
		UpdatedAtType: EdmDateTime,
	}
}

func (e categoryEntity) toDomain() domain.Category {
	return domain.Category{
		ID:        e.RowKey,
		Title:     e.Title,
		Order:     e.Order,
		Color:     e.Color,
		OwnerID:   e.PartitionKey,
		CreatedAt: parseTime(e.CreatedAt),
		UpdatedAt: parseTime(e.UpdatedAt),
	}
}

func toTaskEntity(t domain.Task) (taskEntity, error) {
	draft, err := encodeDraft(t.Draft)
	if err != nil {
		return taskEntity{}, err
	}
	return taskEntity{
		Entity:        Entity{PartitionKey: t.OwnerID, RowKey: t.ID},
		Title:         t.Title,
		Description:   t.Description,
		CategoryID:    t.CategoryID,
		PriorityID:    t.PriorityID,
		ExpiryDate:    formatOptionalTime(t.ExpiryDate),
		Draft:         draft,
		Order:         t.Order,
		OrderType:     EdmInt32,
		CreatedAt:     formatTime(t.CreatedAt),
		CreatedAtType: EdmDateTime,
		UpdatedAt:     formatTime(t.UpdatedAt),
		UpdatedAtType: EdmDateTime,
	}, nil
}

func (e taskEntity) toDomain() domain.Task {
	return domain.Task{
		ID:          e.RowKey,
		Title:       e.Title,
		Description: e.Description,
		CategoryID:  e.CategoryID,
		PriorityID:  e.PriorityID,
		ExpiryDate:  parseOptionalTime(e.ExpiryDate),
		Draft:       decodeDraft(e.Draft),
		Order:       e.Order,
		OwnerID:     e.PartitionKey,
		CreatedAt:   parseTime(e.CreatedAt),
		UpdatedAt:   parseTime(e.UpdatedAt),
	}
}

func toTaskUpdate(userID, id string, upd domain.TaskUpdate, now time.Time) (taskUpdate, error) {
	ent := taskUpdate{Entity: Entity{PartitionKey: userID, RowKey: id}}
	if upd.Title.Set {
		ent.Title = &upd.Title.Value
	}
	if upd.Description.Set {
		ent.Description = &upd.Description.Value
	}
	if upd.CategoryID.Set {
		ent.CategoryID = &upd.CategoryID.Value
	}
	if upd.PriorityID.Set {
		ent.PriorityID = &upd.PriorityID.Value
	}
	if upd.ExpiryDate.Set {
		s := formatOptionalTime(upd.ExpiryDate.Value)
		ent.ExpiryDate = &s
	}
	if upd.Draft.Set {
		s, err := encodeDraft(upd.Draft.Value)
		if err != nil {
			return taskUpdate{}, err
		}
		ent.Draft = &s
	}
	if upd.Order.Set {
		ent.Order = &upd.Order.Value
		ent.OrderType = &edmInt32
	}
	ts := formatTime(now)
	ent.UpdatedAt = &ts
	ent.UpdatedAtType = &edmDateTime
	return ent, nil
}

func toPriorityEntity(p domain.Priority) priorityEntity {
	return priorityEntity{
		Entity:    Entity{PartitionKey: p.OwnerID, RowKey: p.ID},
		Label:     p.Label,
		Color:     p.Color,
		Level:     string(p.Level),
		Order:     p.Order,
		OrderType: EdmInt32,
	}
}

func (e priorityEntity) toDomain() domain.Priority {
	return domain.Priority{
		ID:      e.RowKey,
		Label:   e.Label,
		Color:   e.Color,
		Level:   domain.PriorityLevel(e.Level),
		Order:   e.Order,
		OwnerID: e.PartitionKey,
	}
}

func toPriorityUpdate(userID, id string, upd domain.PriorityUpdate) priorityUpdate {
	ent := priorityUpdate{
		Entity: Entity{PartitionKey: userID, RowKey: id},
		Label:  upd.Label,
		Color:  upd.Color,
		Order:  upd.Order,
	}
	if upd.Level != nil {
		l := string(*upd.Level)
		ent.Level = &l
	}
	if upd.Order != nil {
		ent.OrderType = &edmInt32
	}
	return ent
}

func toHistoryEntity(h domain.HistoryEntry) (historyEntity, error) {
	ent := historyEntity{
		Entity:        Entity{PartitionKey: h.OwnerID, RowKey: historyRowKey(h.Timestamp, h.ID)},
		EntryID:       h.ID,
		Type:          h.Type.String(),
		Action:        string(h.Action),
		EntityID:      h.EntityID,
		EntityType:    string(h.EntityType),
		PreviousValue: h.PreviousValue,
		NewValue:      h.NewValue,
		Timestamp:     formatTime(h.Timestamp),
		TimestampType: EdmDateTime,
	}
	if len(h.Metadata) > 0 {
		data, err := sonic.MarshalString(h.Metadata)
		if err != nil {
			return historyEntity{}, fmt.Errorf("encode history metadata: %w", err)
		}
		ent.Metadata = data
	}
	return ent, nil
}

func (e historyEntity) toDomain() domain.HistoryEntry {
	h := domain.HistoryEntry{
		ID:            e.EntryID,
		Action:        domain.HistoryAction(e.Action),
		EntityID:      e.EntityID,
		EntityType:    domain.EntityType(e.EntityType),
		PreviousValue: e.PreviousValue,
		NewValue:      e.NewValue,
		Timestamp:     parseTime(e.Timestamp),
		OwnerID:       e.PartitionKey,
	}
	if err := h.Type.UnmarshalText([]byte(e.Type)); err != nil {
		h.Type = h.Action.Type()
	}
	if e.Metadata != "" {
		_ = sonic.UnmarshalString(e.Metadata, &h.Metadata)
	}
	return h
}

func toUserEntity(u domain.User) (userEntity, error) {
	settings, err := sonic.MarshalString(u.NotificationSettings)
	if err != nil {
		return userEntity{}, fmt.Errorf("encode notification settings: %w", err)
	}
	return userEntity{
		Entity:        Entity{PartitionKey: u.ID, RowKey: u.ID},
		Email:         u.Email,
		DisplayName:   u.DisplayName,
		PhotoURL:      u.PhotoURL,
		Notifications: settings,
	}, nil
}

func (e userEntity) toDomain() domain.User {
	u := domain.User{
		ID:          e.RowKey,
		Email:       e.Email,
		DisplayName: e.DisplayName,
		PhotoURL:    e.PhotoURL,
	}
	if e.Notifications == "" || sonic.UnmarshalString(e.Notifications, &u.NotificationSettings) != nil {
		u.NotificationSettings = domain.DefaultNotificationSettings()
	}
	return u
}
