package board

import (
	"context"
	"errors"
	"sort"
	"sync"

	"prism-board/domain"
)

// fakeStore is a map backed Store. Writes are counted so tests can assert
// that no-op operations never reach persistence.
type fakeStore struct {
	mu         sync.Mutex
	categories map[string]domain.Category
	tasks      map[string]domain.Task
	priorities map[string]domain.Priority
	history    []domain.HistoryEntry

	writes  int
	batches [][]domain.OrderUpdate
	fail    map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		categories: map[string]domain.Category{},
		tasks:      map[string]domain.Task{},
		priorities: map[string]domain.Priority{},
		fail:       map[string]error{},
	}
}

func (f *fakeStore) write(op string) error {
	if err := f.fail[op]; err != nil {
		return err
	}
	f.writes++
	return nil
}

func (f *fakeStore) ListCategories(_ context.Context, userID string) ([]domain.Category, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail["ListCategories"]; err != nil {
		return nil, err
	}
	var out []domain.Category
	for _, c := range f.categories {
		if c.OwnerID == userID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) CreateCategory(_ context.Context, c domain.Category) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.write("CreateCategory"); err != nil {
		return err
	}
	f.categories[c.ID] = c
	return nil
}

func (f *fakeStore) UpdateCategory(_ context.Context, _ string, id string, upd domain.CategoryUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.write("UpdateCategory"); err != nil {
		return err
	}
	c, ok := f.categories[id]
	if !ok {
		return domain.ErrNotFound
	}
	upd.Apply(&c)
	f.categories[id] = c
	return nil
}

func (f *fakeStore) DeleteCategory(_ context.Context, _ string, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.write("DeleteCategory"); err != nil {
		return err
	}
	delete(f.categories, id)
	return nil
}

func (f *fakeStore) UpdateCategoryOrder(_ context.Context, _ string, updates []domain.OrderUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.write("UpdateCategoryOrder"); err != nil {
		return err
	}
	f.batches = append(f.batches, updates)
	for _, u := range updates {
		c := f.categories[u.ID]
		c.Order = u.Order
		f.categories[u.ID] = c
	}
	return nil
}

func (f *fakeStore) ListTasks(_ context.Context, userID string) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail["ListTasks"]; err != nil {
		return nil, err
	}
	var out []domain.Task
	for _, t := range f.tasks {
		if t.OwnerID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) GetTask(_ context.Context, userID, id string) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail["GetTask"]; err != nil {
		return nil, err
	}
	t, ok := f.tasks[id]
	if !ok || t.OwnerID != userID {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeStore) CreateTask(_ context.Context, t domain.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.write("CreateTask"); err != nil {
		return err
	}
	f.tasks[t.ID] = t
	return nil
}

func (f *fakeStore) UpdateTask(_ context.Context, _ string, id string, upd domain.TaskUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.write("UpdateTask"); err != nil {
		return err
	}
	t, ok := f.tasks[id]
	if !ok {
		return domain.ErrNotFound
	}
	upd.Apply(&t)
	f.tasks[id] = t
	return nil
}

func (f *fakeStore) DeleteTask(_ context.Context, _ string, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.write("DeleteTask"); err != nil {
		return err
	}
	delete(f.tasks, id)
	return nil
}

func (f *fakeStore) UpdateTaskOrder(_ context.Context, _ string, updates []domain.OrderUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.write("UpdateTaskOrder"); err != nil {
		return err
	}
	f.batches = append(f.batches, updates)
	for _, u := range updates {
		t := f.tasks[u.ID]
		t.Order = u.Order
		if u.CategoryID != "" {
			t.CategoryID = u.CategoryID
		}
		f.tasks[u.ID] = t
	}
	return nil
}

func (f *fakeStore) ListPriorities(_ context.Context, userID string) ([]domain.Priority, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail["ListPriorities"]; err != nil {
		return nil, err
	}
	var out []domain.Priority
	for _, p := range f.priorities {
		if p.OwnerID == userID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) CreatePriority(_ context.Context, p domain.Priority) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.write("CreatePriority"); err != nil {
		return err
	}
	f.priorities[p.ID] = p
	return nil
}

func (f *fakeStore) UpdatePriority(_ context.Context, _ string, id string, upd domain.PriorityUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.write("UpdatePriority"); err != nil {
		return err
	}
	p, ok := f.priorities[id]
	if !ok {
		return domain.ErrNotFound
	}
	upd.Apply(&p)
	f.priorities[id] = p
	return nil
}

func (f *fakeStore) DeletePriority(_ context.Context, _ string, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.write("DeletePriority"); err != nil {
		return err
	}
	delete(f.priorities, id)
	return nil
}

func (f *fakeStore) UpdatePriorityOrder(_ context.Context, _ string, updates []domain.OrderUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.write("UpdatePriorityOrder"); err != nil {
		return err
	}
	f.batches = append(f.batches, updates)
	for _, u := range updates {
		p := f.priorities[u.ID]
		p.Order = u.Order
		f.priorities[u.ID] = p
	}
	return nil
}

func (f *fakeStore) AddHistory(_ context.Context, e domain.HistoryEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.write("AddHistory"); err != nil {
		return err
	}
	f.history = append(f.history, e)
	return nil
}

func (f *fakeStore) ListHistory(_ context.Context, userID string, limit int) ([]domain.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.HistoryEntry
	for i := len(f.history) - 1; i >= 0 && len(out) < limit; i-- {
		if f.history[i].OwnerID == userID {
			out = append(out, f.history[i])
		}
	}
	return out, nil
}

func (f *fakeStore) columnOrders(categoryID string) map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int{}
	for _, t := range f.tasks {
		if t.CategoryID == categoryID {
			out[t.ID] = t.Order
		}
	}
	return out
}

var errBoom = errors.New("boom")
