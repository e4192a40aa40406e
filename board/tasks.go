package board

import (
	"context"
	"slices"

	"prism-board/domain"
	"prism-board/ordering"
)

func taskOrder(t domain.Task) int { return t.Order }

// Tasks returns every task of the user sorted by order. Callers group them
// by category.
func (b *Board) Tasks(ctx context.Context) ([]domain.Task, error) {
	if !b.signedIn() {
		return nil, nil
	}
	tasks, err := b.store.ListTasks(ctx, b.userID)
	if err != nil {
		return nil, err
	}
	ordering.Sort(tasks, taskOrder)
	return tasks, nil
}

// column returns the ids of the tasks in categoryID sorted by order, skipping
// the task with id skip.
func column(tasks []domain.Task, categoryID, skip string) []string {
	var col []domain.Task
	for _, t := range tasks {
		if t.CategoryID == categoryID && t.ID != skip {
			col = append(col, t)
		}
	}
	ordering.Sort(col, taskOrder)
	ids := make([]string, len(col))
	for i, t := range col {
		ids[i] = t.ID
	}
	return ids
}

func findTask(tasks []domain.Task, id string) *domain.Task {
	i := slices.IndexFunc(tasks, func(t domain.Task) bool { return t.ID == id })
	if i < 0 {
		return nil
	}
	return &tasks[i]
}

// CreateTask appends a task to the end of its column and returns its id, or
// "" when the operation failed.
func (b *Board) CreateTask(ctx context.Context, nt domain.NewTask) string {
	if !b.signedIn() {
		return ""
	}
	var id string
	_ = b.run(ctx, "create task", func(ctx context.Context) error {
		tasks, err := b.store.ListTasks(ctx, b.userID)
		if err != nil {
			return err
		}
		var col []domain.Task
		for _, t := range tasks {
			if t.CategoryID == nt.CategoryID {
				col = append(col, t)
			}
		}
		now := b.clock.Now().UTC()
		t := domain.Task{
			ID:          b.newID(),
			Title:       nt.Title,
			Description: nt.Description,
			CategoryID:  nt.CategoryID,
			PriorityID:  nt.PriorityID,
			ExpiryDate:  nt.ExpiryDate,
			Order:       ordering.Next(col, taskOrder),
			OwnerID:     b.userID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := b.store.CreateTask(ctx, t); err != nil {
			return err
		}
		e := domain.NewHistoryEntry(domain.ActionTaskCreated, t.ID)
		e.Metadata = map[string]any{"title": t.Title, "categoryId": t.CategoryID}
		if err := b.record(ctx, e); err != nil {
			return err
		}
		id = t.ID
		return nil
	})
	return id
}

// UpdateTask persists a partial update. A missing task is ignored. Expiry
// changes and title, description or column changes are logged as separate
// history entries.
func (b *Board) UpdateTask(ctx context.Context, id string, upd domain.TaskUpdate) {
	_ = b.updateTask(ctx, id, upd)
}

// SaveDraft stores the draft of an open editor, or clears it when d is nil.
// Unlike the other mutations it also returns the failure so an autosave
// loop can report it.
func (b *Board) SaveDraft(ctx context.Context, id string, d *domain.TaskDraft) error {
	return b.updateTask(ctx, id, domain.TaskUpdate{Draft: domain.Set(d)})
}

func (b *Board) updateTask(ctx context.Context, id string, upd domain.TaskUpdate) error {
	if !b.signedIn() || upd.Empty() {
		return nil
	}
	return b.run(ctx, "update task", func(ctx context.Context) error {
		prev, err := b.store.GetTask(ctx, b.userID, id)
		if err != nil {
			return err
		}
		if prev == nil {
			return nil
		}
		if err := b.store.UpdateTask(ctx, b.userID, id, upd); err != nil {
			return err
		}

		if upd.ExpiryDate.Set {
			e := domain.NewHistoryEntry(domain.ActionExpiryChanged, id)
			e.PreviousValue = isoTime(prev.ExpiryDate)
			e.NewValue = isoTime(upd.ExpiryDate.Value)
			if err := b.record(ctx, e); err != nil {
				return err
			}
		}

		var changed []string
		if upd.Title.Set && upd.Title.Value != prev.Title {
			changed = append(changed, "title")
		}
		if upd.Description.Set && upd.Description.Value != prev.Description {
			changed = append(changed, "description")
		}
		if upd.CategoryID.Set && upd.CategoryID.Value != prev.CategoryID {
			changed = append(changed, "category")
		}
		if len(changed) == 0 {
			return nil
		}
		newTitle, newCategory := prev.Title, prev.CategoryID
		if upd.Title.Set {
			newTitle = upd.Title.Value
		}
		if upd.CategoryID.Set {
			newCategory = upd.CategoryID.Value
		}
		e := domain.NewHistoryEntry(domain.ActionTaskUpdated, id)
		e.Metadata = map[string]any{
			"changedFields":      changed,
			"previousTitle":      prev.Title,
			"newTitle":           newTitle,
			"previousCategoryId": prev.CategoryID,
			"newCategoryId":      newCategory,
		}
		return b.record(ctx, e)
	})
}

func (b *Board) DeleteTask(ctx context.Context, id string) {
	if !b.signedIn() {
		return
	}
	_ = b.run(ctx, "delete task", func(ctx context.Context) error {
		return b.store.DeleteTask(ctx, b.userID, id)
	})
}

// MoveTask moves a task into another column at position order. Both columns
// are rewritten to dense sequences in a single batch. Moving within the same
// column is a no-op; see ReorderTask.
func (b *Board) MoveTask(ctx context.Context, taskID, categoryID string, order int) {
	_ = b.moveTask(ctx, taskID, categoryID, order)
}

func (b *Board) moveTask(ctx context.Context, taskID, categoryID string, order int) error {
	if !b.signedIn() {
		return nil
	}
	return b.run(ctx, "move task", func(ctx context.Context) error {
		tasks, err := b.store.ListTasks(ctx, b.userID)
		if err != nil {
			return err
		}
		task := findTask(tasks, taskID)
		if task == nil || task.CategoryID == categoryID {
			return nil
		}
		from := task.CategoryID

		dest, at := ordering.ForInsert(column(tasks, categoryID, taskID), taskID, order)
		updates := make([]domain.OrderUpdate, 0, len(tasks))
		updates = append(updates, domain.OrderUpdate{ID: taskID, Order: at, CategoryID: categoryID})
		for _, a := range dest {
			if a.ID != taskID {
				updates = append(updates, domain.OrderUpdate{ID: a.ID, Order: a.Order})
			}
		}
		updates = append(updates, toOrderUpdates(ordering.ForCategoryMove(column(tasks, from, taskID)))...)

		if err := b.store.UpdateTaskOrder(ctx, b.userID, updates); err != nil {
			return err
		}
		e := domain.NewHistoryEntry(domain.ActionTaskMoved, taskID)
		e.PreviousValue = from
		e.NewValue = categoryID
		e.Metadata = map[string]any{"newOrder": at}
		return b.record(ctx, e)
	})
}

// DropTaskOnColumn handles a task released over the empty area of a column:
// the task goes to the end of that column. A task already in the column is
// left alone.
func (b *Board) DropTaskOnColumn(ctx context.Context, taskID, categoryID string) {
	_ = b.dropTaskOnColumn(ctx, taskID, categoryID)
}

func (b *Board) dropTaskOnColumn(ctx context.Context, taskID, categoryID string) error {
	if !b.signedIn() {
		return nil
	}
	tasks, err := b.store.ListTasks(ctx, b.userID)
	if err != nil {
		return b.run(ctx, "move task", func(context.Context) error { return err })
	}
	return b.moveTask(ctx, taskID, categoryID, len(column(tasks, categoryID, taskID)))
}

// ReorderTask moves a task to index within its own column.
func (b *Board) ReorderTask(ctx context.Context, taskID string, index int) {
	if !b.signedIn() {
		return
	}
	_ = b.run(ctx, "move task", func(ctx context.Context) error {
		tasks, err := b.store.ListTasks(ctx, b.userID)
		if err != nil {
			return err
		}
		task := findTask(tasks, taskID)
		if task == nil {
			return nil
		}
		siblings := column(tasks, task.CategoryID, taskID)
		current := slices.Index(column(tasks, task.CategoryID, ""), taskID)
		assigns, at := ordering.ForInsert(siblings, taskID, index)
		if at == current {
			return nil
		}
		if err := b.store.UpdateTaskOrder(ctx, b.userID, toOrderUpdates(assigns)); err != nil {
			return err
		}
		e := domain.NewHistoryEntry(domain.ActionTaskMoved, taskID)
		e.PreviousValue = task.CategoryID
		e.NewValue = task.CategoryID
		e.Metadata = map[string]any{"newOrder": at}
		return b.record(ctx, e)
	})
}

// ChangeTaskPriority reassigns a task's priority. It reports whether anything
// changed and, unlike the other mutations, returns failures as well as
// recording them.
func (b *Board) ChangeTaskPriority(ctx context.Context, taskID, priorityID string) (bool, error) {
	if !b.signedIn() {
		return false, nil
	}
	var changed bool
	err := b.run(ctx, "change task priority", func(ctx context.Context) error {
		task, err := b.store.GetTask(ctx, b.userID, taskID)
		if err != nil {
			return err
		}
		if task == nil || task.PriorityID == priorityID {
			return nil
		}
		if err := b.store.UpdateTask(ctx, b.userID, taskID, domain.TaskUpdate{PriorityID: domain.Set(priorityID)}); err != nil {
			return err
		}
		e := domain.NewHistoryEntry(domain.ActionPriorityChanged, taskID)
		e.PreviousValue = task.PriorityID
		e.NewValue = priorityID
		if err := b.record(ctx, e); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}
