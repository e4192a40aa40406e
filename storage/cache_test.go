package storage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"prism-board/domain"
)

// stubBackend panics on any method without a stub.
type stubBackend struct {
	Backend
	listTasksFn  func(ctx context.Context, userID string) ([]domain.Task, error)
	createTaskFn func(ctx context.Context, t domain.Task) error
	addHistoryFn func(ctx context.Context, e domain.HistoryEntry) error
}

func (s *stubBackend) ListTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	if s.listTasksFn == nil {
		return nil, errors.New("unexpected ListTasks call")
	}
	return s.listTasksFn(ctx, userID)
}

func (s *stubBackend) CreateTask(ctx context.Context, t domain.Task) error {
	if s.createTaskFn == nil {
		return errors.New("unexpected CreateTask call")
	}
	return s.createTaskFn(ctx, t)
}

func (s *stubBackend) AddHistory(ctx context.Context, e domain.HistoryEntry) error {
	if s.addHistoryFn == nil {
		return errors.New("unexpected AddHistory call")
	}
	return s.addHistoryFn(ctx, e)
}

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheListTasksMissThenHit(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()
	expected := []domain.Task{{ID: "t1", Title: "Write code", OwnerID: "user-1"}}

	var calls int
	cache := NewCache(&stubBackend{
		listTasksFn: func(ctx context.Context, uid string) ([]domain.Task, error) {
			calls++
			if uid != "user-1" {
				t.Fatalf("unexpected user id: %s", uid)
			}
			return append([]domain.Task(nil), expected...), nil
		},
	}, client, time.Minute, "")

	for range 2 {
		tasks, err := cache.ListTasks(ctx, "user-1")
		if err != nil {
			t.Fatalf("list tasks: %v", err)
		}
		if len(tasks) != 1 || tasks[0].ID != "t1" || tasks[0].Title != "Write code" {
			t.Fatalf("unexpected tasks: %#v", tasks)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 call to backend, got %d", calls)
	}
	if ttl := mr.TTL("tasks:user-1"); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}
}

func TestCacheCorruptEntryFallsBack(t *testing.T) {
	mr, client := setupRedis(t)
	if err := mr.Set("tasks:user-1", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	var calls int
	cache := NewCache(&stubBackend{
		listTasksFn: func(context.Context, string) ([]domain.Task, error) {
			calls++
			return []domain.Task{}, nil
		},
	}, client, 0, "")

	if _, err := cache.ListTasks(context.Background(), "user-1"); err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if calls != 1 || mr.Exists("tasks:user-1") {
		t.Fatalf("corrupt entry not replaced: calls=%d", calls)
	}
}

func TestCacheWriteEvictsAndPublishes(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()
	if err := mr.Set("tasks:user-1", "[]"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	sub := client.Subscribe(ctx, "board-updates")
	t.Cleanup(func() { _ = sub.Close() })
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	cache := NewCache(&stubBackend{
		createTaskFn: func(context.Context, domain.Task) error { return nil },
	}, client, time.Minute, "board-updates")

	if err := cache.CreateTask(ctx, domain.Task{ID: "t2", OwnerID: "user-1"}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	if mr.Exists("tasks:user-1") {
		t.Fatalf("expected cache eviction")
	}

	select {
	case msg := <-sub.Channel():
		var ch domain.Change
		if err := sonic.UnmarshalString(msg.Payload, &ch); err != nil {
			t.Fatalf("decode change: %v", err)
		}
		if !reflect.DeepEqual(ch, domain.Change{UserID: "user-1", Collection: domain.CollectionTasks}) {
			t.Fatalf("unexpected change: %#v", ch)
		}
	case <-time.After(time.Second):
		t.Fatal("no change published")
	}
}

func TestCacheFailedWriteKeepsCache(t *testing.T) {
	mr, client := setupRedis(t)
	if err := mr.Set("history:user-1", "[]"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	boom := errors.New("boom")
	cache := NewCache(&stubBackend{
		addHistoryFn: func(context.Context, domain.HistoryEntry) error { return boom },
	}, client, time.Minute, "")

	err := cache.AddHistory(context.Background(), domain.HistoryEntry{OwnerID: "user-1"})
	if !errors.Is(err, boom) {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mr.Exists("history:user-1") {
		t.Fatalf("failed write evicted the cache")
	}
}

func TestCacheDropsFillRacingAWrite(t *testing.T) {
	mr, client := setupRedis(t)
	ctx := context.Background()

	rows := []domain.Task{{ID: "t1", CategoryID: "a", Order: 0, OwnerID: "user-1"}}
	calls := 0
	raceIt := true
	var cache *Cache
	cache = NewCache(&stubBackend{
		listTasksFn: func(ctx context.Context, uid string) ([]domain.Task, error) {
			calls++
			read := append([]domain.Task(nil), rows...)
			if raceIt {
				// A move lands after this read but before the fill is stored.
				raceIt = false
				if err := cache.CreateTask(ctx, domain.Task{ID: "t2", CategoryID: "a", Order: 1, OwnerID: uid}); err != nil {
					t.Fatalf("create task: %v", err)
				}
			}
			return read, nil
		},
		createTaskFn: func(_ context.Context, task domain.Task) error {
			rows = append(rows, task)
			return nil
		},
	}, client, time.Minute, "")

	tasks, err := cache.ListTasks(ctx, "user-1")
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("unexpected first read: %#v", tasks)
	}
	if mr.Exists("tasks:user-1") {
		t.Fatalf("stale fill was cached")
	}

	tasks, err = cache.ListTasks(ctx, "user-1")
	if err != nil {
		t.Fatalf("list tasks: %v", err)
	}
	if calls != 2 || len(tasks) != 2 {
		t.Fatalf("expected a fresh backend read, calls=%d tasks=%#v", calls, tasks)
	}
	if !mr.Exists("tasks:user-1") {
		t.Fatalf("fresh fill was not cached")
	}
	if _, err := cache.ListTasks(ctx, "user-1"); err != nil || calls != 2 {
		t.Fatalf("expected a cache hit, calls=%d err=%v", calls, err)
	}
}

func TestCacheWriteBumpsGeneration(t *testing.T) {
	mr, client := setupRedis(t)
	cache := NewCache(&stubBackend{
		createTaskFn: func(context.Context, domain.Task) error { return nil },
	}, client, time.Minute, "")

	for range 2 {
		if err := cache.CreateTask(context.Background(), domain.Task{ID: "t1", OwnerID: "user-1"}); err != nil {
			t.Fatalf("create task: %v", err)
		}
	}
	gen, err := mr.Get("gen:tasks:user-1")
	if err != nil || gen != "2" {
		t.Fatalf("unexpected generation: %q %v", gen, err)
	}
	if ttl := mr.TTL("gen:tasks:user-1"); ttl <= time.Minute {
		t.Fatalf("unexpected generation TTL: %v", ttl)
	}
}
