// Package ordering computes the integer ranks that keep columns and cards in
// a dense 0..n-1 sequence after reorders and cross-column moves.
package ordering

import (
	"cmp"
	"slices"
)

// Assignment sets the order of one entity.
type Assignment struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
}

// ForInsert places moving at index among ids, which must already be sorted by
// order and must not contain moving. Index is clamped to [0, len(ids)]. Every
// entity is rewritten with its new sequential rank. The clamped index is
// returned with the assignments.
func ForInsert(ids []string, moving string, index int) ([]Assignment, int) {
	index = max(0, min(index, len(ids)))
	out := make([]Assignment, 0, len(ids)+1)
	for i, id := range ids {
		rank := i
		if i >= index {
			rank = i + 1
		}
		out = append(out, Assignment{ID: id, Order: rank})
	}
	out = append(out, Assignment{ID: moving, Order: index})
	return out, index
}

// ForCategoryMove assigns order = position for an already reordered sequence.
// It is also used to re-tighten a column after a card leaves it.
func ForCategoryMove(ids []string) []Assignment {
	out := make([]Assignment, len(ids))
	for i, id := range ids {
		out[i] = Assignment{ID: id, Order: i}
	}
	return out
}

// Move removes dragged from ids and reinserts it at the position target held.
// It reports false when either id is missing.
func Move(ids []string, dragged, target string) ([]string, bool) {
	from := slices.Index(ids, dragged)
	to := slices.Index(ids, target)
	if from < 0 || to < 0 {
		return nil, false
	}
	out := slices.Clone(ids)
	out = slices.Delete(out, from, from+1)
	return slices.Insert(out, to, dragged), true
}

// Next returns one past the highest order, or 0 for an empty list.
func Next[T any](items []T, order func(T) int) int {
	if len(items) == 0 {
		return 0
	}
	hi := order(items[0])
	for _, it := range items[1:] {
		hi = max(hi, order(it))
	}
	return hi + 1
}

// Sort orders items by ascending rank. Ties keep arrival order.
func Sort[T any](items []T, order func(T) int) {
	slices.SortStableFunc(items, func(a, b T) int { return cmp.Compare(order(a), order(b)) })
}
