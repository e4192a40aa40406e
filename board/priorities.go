package board

import (
	"context"

	"prism-board/domain"
	"prism-board/ordering"
)

func priorityOrder(p domain.Priority) int { return p.Order }

// Priorities returns the user's priorities sorted by order, or the default
// set when the user has none stored.
func (b *Board) Priorities(ctx context.Context) ([]domain.Priority, error) {
	if !b.signedIn() {
		return domain.DefaultPriorities(), nil
	}
	ps, err := b.store.ListPriorities(ctx, b.userID)
	if err != nil {
		return nil, err
	}
	if len(ps) == 0 {
		return domain.DefaultPriorities(), nil
	}
	ordering.Sort(ps, priorityOrder)
	return ps, nil
}

// storedPriorities materializes the defaults for the user before the first
// priority mutation so that the defaults keep their ids and orders.
func (b *Board) storedPriorities(ctx context.Context) ([]domain.Priority, error) {
	ps, err := b.store.ListPriorities(ctx, b.userID)
	if err != nil {
		return nil, err
	}
	if len(ps) > 0 {
		ordering.Sort(ps, priorityOrder)
		return ps, nil
	}
	ps = domain.DefaultPriorities()
	for i := range ps {
		ps[i].OwnerID = b.userID
		if err := b.store.CreatePriority(ctx, ps[i]); err != nil {
			return nil, err
		}
	}
	return ps, nil
}

// CreatePriority appends a priority and returns its id, or "" on failure.
func (b *Board) CreatePriority(ctx context.Context, label, color string, level domain.PriorityLevel) string {
	if !b.signedIn() {
		return ""
	}
	var id string
	_ = b.run(ctx, "create priority", func(ctx context.Context) error {
		ps, err := b.storedPriorities(ctx)
		if err != nil {
			return err
		}
		if level == "" {
			level = domain.PriorityCustom
		}
		p := domain.Priority{
			ID:      b.newID(),
			Label:   label,
			Color:   color,
			Level:   level,
			Order:   ordering.Next(ps, priorityOrder),
			OwnerID: b.userID,
		}
		if err := b.store.CreatePriority(ctx, p); err != nil {
			return err
		}
		id = p.ID
		return nil
	})
	return id
}

func (b *Board) UpdatePriority(ctx context.Context, id string, upd domain.PriorityUpdate) {
	if !b.signedIn() || upd.Empty() {
		return
	}
	_ = b.run(ctx, "update priority", func(ctx context.Context) error {
		if _, err := b.storedPriorities(ctx); err != nil {
			return err
		}
		return b.store.UpdatePriority(ctx, b.userID, id, upd)
	})
}

// DeletePriority removes a priority. Tasks keep the stale priority id.
func (b *Board) DeletePriority(ctx context.Context, id string) {
	if !b.signedIn() {
		return
	}
	_ = b.run(ctx, "delete priority", func(ctx context.Context) error {
		if _, err := b.storedPriorities(ctx); err != nil {
			return err
		}
		return b.store.DeletePriority(ctx, b.userID, id)
	})
}

// ReorderPriorities assigns order = position for ids in one batch.
func (b *Board) ReorderPriorities(ctx context.Context, ids []string) {
	_ = b.reorderPriorities(ctx, ids)
}

func (b *Board) reorderPriorities(ctx context.Context, ids []string) error {
	if !b.signedIn() || len(ids) == 0 {
		return nil
	}
	return b.run(ctx, "reorder priorities", func(ctx context.Context) error {
		if _, err := b.storedPriorities(ctx); err != nil {
			return err
		}
		return b.store.UpdatePriorityOrder(ctx, b.userID, toOrderUpdates(ordering.ForCategoryMove(ids)))
	})
}

// DropPriority moves the dragged priority to the position of the target.
func (b *Board) DropPriority(ctx context.Context, draggedID, targetID string) {
	_ = b.dropPriority(ctx, draggedID, targetID)
}

func (b *Board) dropPriority(ctx context.Context, draggedID, targetID string) error {
	if !b.signedIn() || draggedID == targetID {
		return nil
	}
	ps, err := b.Priorities(ctx)
	if err != nil {
		return b.run(ctx, "reorder priorities", func(context.Context) error { return err })
	}
	ids := make([]string, len(ps))
	for i, p := range ps {
		ids[i] = p.ID
	}
	moved, ok := ordering.Move(ids, draggedID, targetID)
	if !ok {
		return nil
	}
	return b.reorderPriorities(ctx, moved)
}
