package board

import (
	"context"

	"prism-board/domain"
	"prism-board/dragdrop"
)

// DropHandlers routes drops resolved by a drag machine into this board.
// Handler errors are already recorded in the error slot; they are returned
// as well so the machine can log them.
func (b *Board) DropHandlers() dragdrop.Handlers {
	return dragdrop.Handlers{
		OnCategoryDrop: b.dropCategory,
		OnTaskDrop:     b.moveTask,
		OnPriorityDrop: func(ctx context.Context, taskID, priorityID string) error {
			_, err := b.ChangeTaskPriority(ctx, taskID, priorityID)
			return err
		},
		OnPriorityReorder: b.dropPriority,
	}
}

// ColumnHandlers is DropHandlers for drops on the empty area of a column:
// tasks are appended instead of inserted at the order hint.
func (b *Board) ColumnHandlers() dragdrop.Handlers {
	h := b.DropHandlers()
	h.OnTaskDrop = func(ctx context.Context, taskID, categoryID string, _ int) error {
		return b.dropTaskOnColumn(ctx, taskID, categoryID)
	}
	return h
}

// History returns the newest entries first, capped at limit.
func (b *Board) History(ctx context.Context, limit int) ([]domain.HistoryEntry, error) {
	if !b.signedIn() {
		return nil, nil
	}
	if limit <= 0 {
		limit = domain.DefaultHistoryLimit
	}
	return b.store.ListHistory(ctx, b.userID, limit)
}
