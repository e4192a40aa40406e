package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"prism-board/domain"
)

// Tables names the table of each collection.
type Tables struct {
	Categories string
	Tasks      string
	Priorities string
	History    string
	Users      string
}

// Names lists the configured table names.
func (t Tables) Names() []string {
	return []string{t.Categories, t.Tasks, t.Priorities, t.History, t.Users}
}

// Storage persists boards in Azure Table Storage. Every entity is
// partitioned by its owner, so a batch of order updates for one user is a
// single entity group transaction.
type Storage struct {
	categoryTable     *aztables.Client
	taskTable         *aztables.Client
	priorityTable     *aztables.Client
	historyTable      *aztables.Client
	userTable         *aztables.Client
	notificationQueue *azqueue.QueueClient
	now               func() time.Time
}

// New creates a Storage instance from the given connection string. An empty
// notificationQueue disables EnqueueNotification.
func New(connStr string, tables Tables, notificationQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	s := &Storage{
		categoryTable: svc.NewClient(tables.Categories),
		taskTable:     svc.NewClient(tables.Tasks),
		priorityTable: svc.NewClient(tables.Priorities),
		historyTable:  svc.NewClient(tables.History),
		userTable:     svc.NewClient(tables.Users),
		now:           time.Now,
	}
	if notificationQueue != "" {
		queueClientOptions := azqueue.ClientOptions{
			ClientOptions: azcore.ClientOptions{
				Retry: policy.RetryOptions{
					MaxRetries:    5,
					TryTimeout:    time.Minute * 5,
					RetryDelay:    time.Second * 1,
					MaxRetryDelay: time.Second * 60,
					StatusCodes:   []int{408, 429, 500, 502, 503, 504},
				},
			},
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, notificationQueue, &queueClientOptions)
		if err != nil {
			return nil, err
		}
		s.notificationQueue = q
	}
	return s, nil
}

// partitionFilter builds an OData filter for one user's partition. Single
// quotes in the id are doubled as OData string literals require.
func partitionFilter(userID string) *string {
	filter := "PartitionKey eq '" + strings.ReplaceAll(userID, "'", "''") + "'"
	return &filter
}

func isStatus(err error, code int) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == code
}

// notFound maps a missing entity on update to domain.ErrNotFound.
func notFound(err error) error {
	if isStatus(err, http.StatusNotFound) {
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	}
	return err
}

func listEntities[E any, T any](ctx context.Context, table *aztables.Client, userID string, conv func(E) T) ([]T, error) {
	pager := table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: partitionFilter(userID)})
	out := []T{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent E
			if err := sonic.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			out = append(out, conv(ent))
		}
	}
	return out, nil
}

func addEntity(ctx context.Context, table *aztables.Client, ent any) error {
	payload, err := sonic.Marshal(ent)
	if err == nil {
		_, err = table.AddEntity(ctx, payload, nil)
	}
	return err
}

func mergeEntity(ctx context.Context, table *aztables.Client, ent any) error {
	payload, err := sonic.Marshal(ent)
	if err == nil {
		et := azcore.ETagAny
		_, err = table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	}
	return notFound(err)
}

func deleteEntity(ctx context.Context, table *aztables.Client, pk, rk string) error {
	_, err := table.DeleteEntity(ctx, pk, rk, nil)
	if err != nil && !isStatus(err, http.StatusNotFound) {
		return err
	}
	return nil
}

func (s *Storage) ListCategories(ctx context.Context, userID string) ([]domain.Category, error) {
	return listEntities(ctx, s.categoryTable, userID, categoryEntity.toDomain)
}

func (s *Storage) CreateCategory(ctx context.Context, c domain.Category) error {
	return addEntity(ctx, s.categoryTable, toCategoryEntity(c))
}

func (s *Storage) UpdateCategory(ctx context.Context, userID, id string, upd domain.CategoryUpdate) error {
	ts := formatTime(s.now())
	return mergeEntity(ctx, s.categoryTable, categoryUpdate{
		Entity:        Entity{PartitionKey: userID, RowKey: id},
		Title:         upd.Title,
		Color:         upd.Color,
		UpdatedAt:     &ts,
		UpdatedAtType: &edmDateTime,
	})
}

func (s *Storage) DeleteCategory(ctx context.Context, userID, id string) error {
	return deleteEntity(ctx, s.categoryTable, userID, id)
}

func (s *Storage) UpdateCategoryOrder(ctx context.Context, userID string, updates []domain.OrderUpdate) error {
	ents := make([]any, len(updates))
	for i, u := range updates {
		order := u.Order
		ents[i] = categoryUpdate{Entity: Entity{PartitionKey: userID, RowKey: u.ID}, Order: &order, OrderType: &edmInt32}
	}
	return submitMerges(ctx, s.categoryTable, ents)
}

func (s *Storage) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	return listEntities(ctx, s.taskTable, userID, taskEntity.toDomain)
}

// GetTask returns nil, nil when the task does not exist.
func (s *Storage) GetTask(ctx context.Context, userID, id string) (*domain.Task, error) {
	ent, err := s.taskTable.GetEntity(ctx, userID, id, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var te taskEntity
	if err := sonic.Unmarshal(ent.Value, &te); err != nil {
		return nil, err
	}
	t := te.toDomain()
	return &t, nil
}

func (s *Storage) CreateTask(ctx context.Context, t domain.Task) error {
	ent, err := toTaskEntity(t)
	if err != nil {
		return err
	}
	return addEntity(ctx, s.taskTable, ent)
}

func (s *Storage) UpdateTask(ctx context.Context, userID, id string, upd domain.TaskUpdate) error {
	ent, err := toTaskUpdate(userID, id, upd, s.now())
	if err != nil {
		return err
	}
	return mergeEntity(ctx, s.taskTable, ent)
}

func (s *Storage) DeleteTask(ctx context.Context, userID, id string) error {
	return deleteEntity(ctx, s.taskTable, userID, id)
}

func (s *Storage) UpdateTaskOrder(ctx context.Context, userID string, updates []domain.OrderUpdate) error {
	ts := formatTime(s.now())
	ents := make([]any, len(updates))
	for i, u := range updates {
		ent := taskUpdate{
			Entity:        Entity{PartitionKey: userID, RowKey: u.ID},
			Order:         &u.Order,
			OrderType:     &edmInt32,
			UpdatedAt:     &ts,
			UpdatedAtType: &edmDateTime,
		}
		if u.CategoryID != "" {
			ent.CategoryID = &u.CategoryID
		}
		ents[i] = ent
	}
	return submitMerges(ctx, s.taskTable, ents)
}

func (s *Storage) ListPriorities(ctx context.Context, userID string) ([]domain.Priority, error) {
	return listEntities(ctx, s.priorityTable, userID, priorityEntity.toDomain)
}

func (s *Storage) CreatePriority(ctx context.Context, p domain.Priority) error {
	return addEntity(ctx, s.priorityTable, toPriorityEntity(p))
}

func (s *Storage) UpdatePriority(ctx context.Context, userID, id string, upd domain.PriorityUpdate) error {
	return mergeEntity(ctx, s.priorityTable, toPriorityUpdate(userID, id, upd))
}

func (s *Storage) DeletePriority(ctx context.Context, userID, id string) error {
	return deleteEntity(ctx, s.priorityTable, userID, id)
}

func (s *Storage) UpdatePriorityOrder(ctx context.Context, userID string, updates []domain.OrderUpdate) error {
	ents := make([]any, len(updates))
	for i, u := range updates {
		order := u.Order
		ents[i] = priorityUpdate{Entity: Entity{PartitionKey: userID, RowKey: u.ID}, Order: &order, OrderType: &edmInt32}
	}
	return submitMerges(ctx, s.priorityTable, ents)
}

func (s *Storage) AddHistory(ctx context.Context, e domain.HistoryEntry) error {
	ent, err := toHistoryEntity(e)
	if err != nil {
		return err
	}
	return addEntity(ctx, s.historyTable, ent)
}

// ListHistory returns up to limit entries, newest first. Row keys are
// inverted timestamps, so the natural table order is already descending.
func (s *Storage) ListHistory(ctx context.Context, userID string, limit int) ([]domain.HistoryEntry, error) {
	top := int32(limit)
	pager := s.historyTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: partitionFilter(userID), Top: &top})
	out := []domain.HistoryEntry{}
	for pager.More() && len(out) < limit {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			var ent historyEntity
			if err := sonic.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			out = append(out, ent.toDomain())
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// GetUser returns nil, nil for unknown users.
func (s *Storage) GetUser(ctx context.Context, id string) (*domain.User, error) {
	ent, err := s.userTable.GetEntity(ctx, id, id, nil)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var ue userEntity
	if err := sonic.Unmarshal(ent.Value, &ue); err != nil {
		return nil, err
	}
	u := ue.toDomain()
	return &u, nil
}

func (s *Storage) UpsertUser(ctx context.Context, u domain.User) error {
	ent, err := toUserEntity(u)
	if err != nil {
		return err
	}
	payload, err := sonic.Marshal(ent)
	if err == nil {
		_, err = s.userTable.UpsertEntity(ctx, payload, nil)
	}
	return err
}

func (s *Storage) UpdateNotificationSettings(ctx context.Context, userID string, settings domain.NotificationSettings) error {
	data, err := sonic.MarshalString(settings)
	if err != nil {
		return err
	}
	return mergeEntity(ctx, s.userTable, userSettingsUpdate{
		Entity:        Entity{PartitionKey: userID, RowKey: userID},
		Notifications: data,
	})
}

// EnqueueNotification hands an email or push reminder to the out of process
// sender.
func (s *Storage) EnqueueNotification(ctx context.Context, n domain.Notification) error {
	if s.notificationQueue == nil {
		return nil
	}
	data, err := sonic.MarshalString(n)
	if err != nil {
		return err
	}
	_, err = s.notificationQueue.EnqueueMessage(ctx, data, nil)
	return err
}
