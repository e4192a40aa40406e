package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/board"
	"prism-board/domain"
)

// Backend is everything the service needs from persistence.
type Backend interface {
	board.Store
	GetUser(ctx context.Context, id string) (*domain.User, error)
	UpsertUser(ctx context.Context, u domain.User) error
	UpdateNotificationSettings(ctx context.Context, userID string, settings domain.NotificationSettings) error
	EnqueueNotification(ctx context.Context, n domain.Notification) error
}

// Cache wraps a Backend with Redis-backed caching for collection reads. Every
// write evicts the cached collection and publishes a domain.Change on the
// updates channel.
type Cache struct {
	base    Backend
	redis   *redis.Client
	ttl     time.Duration
	channel string
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
// Changes are published on channel unless it is empty.
func NewCache(base Backend, client *redis.Client, ttl time.Duration, channel string) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl, channel: channel}
}

// generationTTL keeps eviction counters well past the entries they guard.
const generationTTL = 24 * time.Hour

func cacheKey(c domain.Collection, userID string) string {
	return string(c) + ":" + userID
}

func load[T any](ctx context.Context, c *Cache, key string) ([]T, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return nil, false
	}
	var items []T
	if err := sonic.Unmarshal(data, &items); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return nil, false
	}
	return items, true
}

func generationKey(key string) string {
	return "gen:" + key
}

// generation reads the eviction counter of key. A fill remembers it before
// reading the backend and is only stored while it is unchanged.
func (c *Cache) generation(ctx context.Context, key string) (int64, bool) {
	if c.redis == nil || c.ttl == 0 {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, generationKey(key)).Int64()
	if err != nil && err != redis.Nil {
		return 0, false
	}
	return gen, true
}

func store[T any](ctx context.Context, c *Cache, key string, gen int64, items []T) {
	data, err := sonic.Marshal(items)
	if err != nil {
		return
	}
	genKey := generationKey(key)
	err = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, c.ttl)
			return nil
		})
		return err
	}, genKey)
	if err != nil && !errors.Is(err, errStaleFill) && !errors.Is(err, redis.TxFailedErr) {
		log.WithError(err).WithField("key", key).Warn("cache fill failed")
	}
}

var errStaleFill = errors.New("collection changed during fill")

func cached[T any](ctx context.Context, c *Cache, col domain.Collection, userID string, fetch func(context.Context, string) ([]T, error)) ([]T, error) {
	key := cacheKey(col, userID)
	if items, ok := load[T](ctx, c, key); ok {
		return items, nil
	}
	gen, fill := c.generation(ctx, key)
	items, err := fetch(ctx, userID)
	if err != nil {
		return nil, err
	}
	if fill {
		store(ctx, c, key, gen, items)
	}
	return items, nil
}

// changed bumps the generation, evicts the cached collection and announces
// the write. Failures are logged only; the write itself already succeeded.
func (c *Cache) changed(ctx context.Context, userID string, col domain.Collection) {
	if c.redis == nil {
		return
	}
	key := cacheKey(col, userID)
	genTTL := max(generationTTL, 2*c.ttl)
	_, err := c.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, generationKey(key))
		p.Expire(ctx, generationKey(key), genTTL)
		p.Del(ctx, key)
		return nil
	})
	if err != nil {
		log.WithError(err).WithField("collection", col).Warn("cache evict failed")
	}
	if c.channel == "" {
		return
	}
	data, err := sonic.Marshal(domain.Change{UserID: userID, Collection: col})
	if err != nil {
		return
	}
	if err := c.redis.Publish(ctx, c.channel, data).Err(); err != nil {
		log.WithError(err).WithFields(log.Fields{"collection": col, "user": userID}).Warn("publish change failed")
	}
}

func (c *Cache) after(ctx context.Context, userID string, col domain.Collection, err error) error {
	if err != nil {
		return err
	}
	c.changed(ctx, userID, col)
	return nil
}

func (c *Cache) ListCategories(ctx context.Context, userID string) ([]domain.Category, error) {
	return cached(ctx, c, domain.CollectionCategories, userID, c.base.ListCategories)
}

func (c *Cache) CreateCategory(ctx context.Context, cat domain.Category) error {
	return c.after(ctx, cat.OwnerID, domain.CollectionCategories, c.base.CreateCategory(ctx, cat))
}

func (c *Cache) UpdateCategory(ctx context.Context, userID, id string, upd domain.CategoryUpdate) error {
	return c.after(ctx, userID, domain.CollectionCategories, c.base.UpdateCategory(ctx, userID, id, upd))
}

func (c *Cache) DeleteCategory(ctx context.Context, userID, id string) error {
	return c.after(ctx, userID, domain.CollectionCategories, c.base.DeleteCategory(ctx, userID, id))
}

func (c *Cache) UpdateCategoryOrder(ctx context.Context, userID string, updates []domain.OrderUpdate) error {
	return c.after(ctx, userID, domain.CollectionCategories, c.base.UpdateCategoryOrder(ctx, userID, updates))
}

func (c *Cache) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	return cached(ctx, c, domain.CollectionTasks, userID, c.base.ListTasks)
}

// GetTask is not cached; the façade reads it right before a write.
func (c *Cache) GetTask(ctx context.Context, userID, id string) (*domain.Task, error) {
	return c.base.GetTask(ctx, userID, id)
}

func (c *Cache) CreateTask(ctx context.Context, t domain.Task) error {
	return c.after(ctx, t.OwnerID, domain.CollectionTasks, c.base.CreateTask(ctx, t))
}

func (c *Cache) UpdateTask(ctx context.Context, userID, id string, upd domain.TaskUpdate) error {
	return c.after(ctx, userID, domain.CollectionTasks, c.base.UpdateTask(ctx, userID, id, upd))
}

func (c *Cache) DeleteTask(ctx context.Context, userID, id string) error {
	return c.after(ctx, userID, domain.CollectionTasks, c.base.DeleteTask(ctx, userID, id))
}

func (c *Cache) UpdateTaskOrder(ctx context.Context, userID string, updates []domain.OrderUpdate) error {
	return c.after(ctx, userID, domain.CollectionTasks, c.base.UpdateTaskOrder(ctx, userID, updates))
}

func (c *Cache) ListPriorities(ctx context.Context, userID string) ([]domain.Priority, error) {
	return cached(ctx, c, domain.CollectionPriorities, userID, c.base.ListPriorities)
}

func (c *Cache) CreatePriority(ctx context.Context, p domain.Priority) error {
	return c.after(ctx, p.OwnerID, domain.CollectionPriorities, c.base.CreatePriority(ctx, p))
}

func (c *Cache) UpdatePriority(ctx context.Context, userID, id string, upd domain.PriorityUpdate) error {
	return c.after(ctx, userID, domain.CollectionPriorities, c.base.UpdatePriority(ctx, userID, id, upd))
}

func (c *Cache) DeletePriority(ctx context.Context, userID, id string) error {
	return c.after(ctx, userID, domain.CollectionPriorities, c.base.DeletePriority(ctx, userID, id))
}

func (c *Cache) UpdatePriorityOrder(ctx context.Context, userID string, updates []domain.OrderUpdate) error {
	return c.after(ctx, userID, domain.CollectionPriorities, c.base.UpdatePriorityOrder(ctx, userID, updates))
}

func (c *Cache) AddHistory(ctx context.Context, e domain.HistoryEntry) error {
	return c.after(ctx, e.OwnerID, domain.CollectionHistory, c.base.AddHistory(ctx, e))
}

// ListHistory is not cached because the result depends on limit.
func (c *Cache) ListHistory(ctx context.Context, userID string, limit int) ([]domain.HistoryEntry, error) {
	return c.base.ListHistory(ctx, userID, limit)
}

func (c *Cache) GetUser(ctx context.Context, id string) (*domain.User, error) {
	return c.base.GetUser(ctx, id)
}

func (c *Cache) UpsertUser(ctx context.Context, u domain.User) error {
	return c.base.UpsertUser(ctx, u)
}

func (c *Cache) UpdateNotificationSettings(ctx context.Context, userID string, settings domain.NotificationSettings) error {
	return c.base.UpdateNotificationSettings(ctx, userID, settings)
}

func (c *Cache) EnqueueNotification(ctx context.Context, n domain.Notification) error {
	return c.base.EnqueueNotification(ctx, n)
}
