package sqlitestore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"prism-board/board"
	"prism-board/domain"
)

var _ board.Store = (*Store)(nil)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(filepath.Join(t.TempDir(), "board.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestTaskLifecycle(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	now := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)

	task := domain.Task{ID: "t1", Title: "Write", CategoryID: "A", OwnerID: "u1", CreatedAt: now, UpdatedAt: now}
	if err := st.CreateTask(ctx, task); err != nil {
		t.Fatalf("create task: %v", err)
	}

	expiry := now.Add(48 * time.Hour)
	err := st.UpdateTask(ctx, "u1", "t1", domain.TaskUpdate{
		Title:      domain.Set("Write more"),
		ExpiryDate: domain.Set(&expiry),
		Draft:      domain.Set(&domain.TaskDraft{Title: "Write mo"}),
	})
	if err != nil {
		t.Fatalf("update task: %v", err)
	}
	got, err := st.GetTask(ctx, "u1", "t1")
	if err != nil || got == nil {
		t.Fatalf("get task: %v %v", got, err)
	}
	if got.Title != "Write more" || !got.ExpiryDate.Equal(expiry) || got.Draft == nil || got.Draft.Title != "Write mo" {
		t.Fatalf("unexpected task: %#v", got)
	}

	err = st.UpdateTask(ctx, "u1", "t1", domain.TaskUpdate{
		ExpiryDate: domain.Set[*time.Time](nil),
		Draft:      domain.Set[*domain.TaskDraft](nil),
	})
	if err != nil {
		t.Fatalf("clear fields: %v", err)
	}
	got, _ = st.GetTask(ctx, "u1", "t1")
	if got.ExpiryDate != nil || got.Draft != nil {
		t.Fatalf("nullable fields not cleared: %#v", got)
	}

	if err := st.UpdateTask(ctx, "u1", "missing", domain.TaskUpdate{Title: domain.Set("x")}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if other, _ := st.GetTask(ctx, "u2", "t1"); other != nil {
		t.Fatalf("task visible to another owner")
	}

	if err := st.DeleteTask(ctx, "u1", "t1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got, _ := st.GetTask(ctx, "u1", "t1"); got != nil {
		t.Fatalf("task not deleted")
	}
}

func TestBoardMovesThroughSQLite(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	for i, id := range []string{"t1", "t2"} {
		_ = st.CreateTask(ctx, domain.Task{ID: id, Title: id, CategoryID: "A", Order: i, OwnerID: "u1"})
	}
	_ = st.CreateTask(ctx, domain.Task{ID: "t3", Title: "t3", CategoryID: "B", OwnerID: "u1"})

	b := board.New(st, "u1")
	b.MoveTask(ctx, "t1", "B", 1)
	if err := b.Err(); err != nil {
		t.Fatalf("move: %v", err)
	}

	tasks, err := st.ListTasks(ctx, "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := map[string]string{}
	for _, task := range tasks {
		got[task.ID] = task.CategoryID + ":" + string(rune('0'+task.Order))
	}
	want := map[string]string{"t1": "B:1", "t2": "A:0", "t3": "B:0"}
	for id, w := range want {
		if got[id] != w {
			t.Fatalf("unexpected placement of %s: %s", id, got[id])
		}
	}

	history, err := b.History(ctx, 10)
	if err != nil || len(history) != 1 || history[0].Action != domain.ActionTaskMoved {
		t.Fatalf("unexpected history: %#v %v", history, err)
	}
	if history[0].Metadata["newOrder"] != float64(1) {
		t.Fatalf("unexpected metadata: %#v", history[0].Metadata)
	}
}

func TestHistoryNewestFirstWithLimit(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range 5 {
		e := domain.NewHistoryEntry(domain.ActionTaskCreated, "t")
		e.ID = string(rune('a' + i))
		e.OwnerID = "u1"
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		if err := st.AddHistory(ctx, e); err != nil {
			t.Fatalf("add history: %v", err)
		}
	}
	entries, err := st.ListHistory(ctx, "u1", 3)
	if err != nil {
		t.Fatalf("list history: %v", err)
	}
	if len(entries) != 3 || entries[0].ID != "e" || entries[2].ID != "c" || entries[0].Type != domain.HistoryCard {
		t.Fatalf("unexpected entries: %#v", entries)
	}
}

func TestCategoryAndPriorityOrder(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		if err := st.CreateCategory(ctx, domain.Category{ID: id, Title: id, Order: i, OwnerID: "u1"}); err != nil {
			t.Fatalf("create category: %v", err)
		}
	}
	b := board.New(st, "u1")
	b.DropCategory(ctx, "c", "a")
	cats, _ := st.ListCategories(ctx, "u1")
	if len(cats) != 3 || cats[0].ID != "c" || cats[1].ID != "a" || cats[2].ID != "b" {
		t.Fatalf("unexpected categories: %#v", cats)
	}

	title := "Renamed"
	if err := st.UpdateCategory(ctx, "u1", "a", domain.CategoryUpdate{Title: &title}); err != nil {
		t.Fatalf("update category: %v", err)
	}

	id := b.CreatePriority(ctx, "Later", "#111111", domain.PriorityCustom)
	ps, _ := st.ListPriorities(ctx, "u1")
	if len(ps) != 5 || ps[4].ID != id {
		t.Fatalf("unexpected priorities: %#v", ps)
	}
}

func TestUsers(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	if u, err := st.GetUser(ctx, "u1"); u != nil || err != nil {
		t.Fatalf("unexpected user: %#v %v", u, err)
	}
	if err := st.UpsertUser(ctx, domain.User{ID: "u1", Email: "a@b.c", NotificationSettings: domain.DefaultNotificationSettings()}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	settings := domain.NotificationSettings{Enabled: true, HoursBefore: 6, Methods: []domain.NotificationMethod{domain.NotifyEmail}}
	if err := st.UpdateNotificationSettings(ctx, "u1", settings); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	u, err := st.GetUser(ctx, "u1")
	if err != nil || u == nil || u.NotificationSettings.HoursBefore != 6 || !u.NotificationSettings.Has(domain.NotifyEmail) {
		t.Fatalf("unexpected user: %#v %v", u, err)
	}
	if err := st.EnqueueNotification(ctx, domain.Notification{Key: "t1-5-email", UserID: "u1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}
