package board

import (
	"context"
	"strings"

	"prism-board/domain"
	"prism-board/ordering"
)

func categoryOrder(c domain.Category) int { return c.Order }

// Categories returns the user's columns sorted by order.
func (b *Board) Categories(ctx context.Context) ([]domain.Category, error) {
	if !b.signedIn() {
		return nil, nil
	}
	cats, err := b.store.ListCategories(ctx, b.userID)
	if err != nil {
		return nil, err
	}
	ordering.Sort(cats, categoryOrder)
	return cats, nil
}

// CreateCategory appends a column after the current last one and returns its
// id, or "" when the operation failed.
func (b *Board) CreateCategory(ctx context.Context, title, color string) string {
	if !b.signedIn() {
		return ""
	}
	var id string
	_ = b.run(ctx, "create category", func(ctx context.Context) error {
		cats, err := b.store.ListCategories(ctx, b.userID)
		if err != nil {
			return err
		}
		if color == "" {
			color = domain.DefaultCategoryColor
		}
		now := b.clock.Now().UTC()
		c := domain.Category{
			ID:        b.newID(),
			Title:     title,
			Order:     ordering.Next(cats, categoryOrder),
			Color:     color,
			OwnerID:   b.userID,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := b.store.CreateCategory(ctx, c); err != nil {
			return err
		}
		e := domain.NewHistoryEntry(domain.ActionCategoryCreated, c.ID)
		e.Metadata = map[string]any{"title": title}
		if err := b.record(ctx, e); err != nil {
			return err
		}
		id = c.ID
		return nil
	})
	return id
}

// UpdateCategory renames or recolors a column.
func (b *Board) UpdateCategory(ctx context.Context, id string, upd domain.CategoryUpdate) {
	if !b.signedIn() || upd.Empty() {
		return
	}
	_ = b.run(ctx, "update category", func(ctx context.Context) error {
		return b.store.UpdateCategory(ctx, b.userID, id, upd)
	})
}

// DeleteCategory removes a column. Its tasks are left in place with a
// dangling category id.
func (b *Board) DeleteCategory(ctx context.Context, id string) {
	if !b.signedIn() {
		return
	}
	_ = b.run(ctx, "delete category", func(ctx context.Context) error {
		return b.store.DeleteCategory(ctx, b.userID, id)
	})
}

// ReorderCategories assigns order = position for ids in one batch.
func (b *Board) ReorderCategories(ctx context.Context, ids []string) {
	_ = b.reorderCategories(ctx, ids)
}

func (b *Board) reorderCategories(ctx context.Context, ids []string) error {
	if !b.signedIn() || len(ids) == 0 {
		return nil
	}
	return b.run(ctx, "reorder categories", func(ctx context.Context) error {
		updates := toOrderUpdates(ordering.ForCategoryMove(ids))
		if err := b.store.UpdateCategoryOrder(ctx, b.userID, updates); err != nil {
			return err
		}
		e := domain.NewHistoryEntry(domain.ActionCategoryMoved, strings.Join(ids, ","))
		e.Metadata = map[string]any{"newOrder": ids}
		return b.record(ctx, e)
	})
}

// DropCategory moves the dragged column to the position of the target column.
func (b *Board) DropCategory(ctx context.Context, draggedID, targetID string) {
	_ = b.dropCategory(ctx, draggedID, targetID)
}

func (b *Board) dropCategory(ctx context.Context, draggedID, targetID string) error {
	if !b.signedIn() || draggedID == targetID {
		return nil
	}
	cats, err := b.Categories(ctx)
	if err != nil {
		return b.run(ctx, "reorder categories", func(context.Context) error { return err })
	}
	ids := make([]string, len(cats))
	for i, c := range cats {
		ids[i] = c.ID
	}
	moved, ok := ordering.Move(ids, draggedID, targetID)
	if !ok {
		return nil
	}
	return b.reorderCategories(ctx, moved)
}
