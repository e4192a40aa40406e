// Package dragdrop tracks a single in-progress board drag and routes the
// drop to exactly one board operation.
package dragdrop

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-board/internal/clock"
)

// HoverTimeout clears a hover highlight that was not refreshed by another
// drag-over.
const HoverTimeout = 100 * time.Millisecond

// Handlers are the board operations a drop can resolve to. Nil handlers turn
// the corresponding drop into a no-op.
type Handlers struct {
	OnCategoryDrop    func(ctx context.Context, draggedID, targetID string) error
	OnTaskDrop        func(ctx context.Context, taskID, categoryID string, order int) error
	OnPriorityDrop    func(ctx context.Context, taskID, priorityID string) error
	OnPriorityReorder func(ctx context.Context, draggedID, targetID string) error
}

// Target describes where a drag was released.
type Target struct {
	ID           string
	Order        *int
	PriorityZone bool
}

// Dispatch calls the handler matching the dragged type and the target kind.
func (h Handlers) Dispatch(ctx context.Context, typ Type, id string, t Target) error {
	switch typ {
	case Task:
		if t.PriorityZone {
			return call2(ctx, h.OnPriorityDrop, id, t.ID)
		}
		if h.OnTaskDrop == nil {
			return nil
		}
		order := 0
		if t.Order != nil {
			order = *t.Order
		}
		return h.OnTaskDrop(ctx, id, t.ID, order)
	case Category:
		if t.PriorityZone {
			return nil
		}
		return call2(ctx, h.OnCategoryDrop, id, t.ID)
	case Priority:
		if t.PriorityZone {
			return nil
		}
		return call2(ctx, h.OnPriorityReorder, id, t.ID)
	case None:
		return nil
	}
	return fmt.Errorf("unknown drag type %d", uint8(typ))
}

func call2(ctx context.Context, fn func(context.Context, string, string) error, a, b string) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, a, b)
}

// State is a snapshot of the machine.
type State struct {
	Dragging    bool   `json:"dragging"`
	Type        Type   `json:"type"`
	ID          string `json:"id,omitempty"`
	Data        any    `json:"data,omitempty"`
	DraggedOver string `json:"draggedOver,omitempty"`
}

// Machine holds at most one active drag.
type Machine struct {
	handlers Handlers
	clock    clock.Clock

	mu       sync.Mutex
	disabled bool
	state    State
	hover    *clock.Timer
	hoverGen uint64
}

type Option func(*Machine)

func WithClock(c clock.Clock) Option { return func(m *Machine) { m.clock = c } }

// Disabled makes Start reject every drag.
func Disabled() Option { return func(m *Machine) { m.disabled = true } }

func New(h Handlers, opts ...Option) *Machine {
	m := &Machine{handlers: h, clock: clock.Real()}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Machine) SetDisabled(disabled bool) {
	m.mu.Lock()
	m.disabled = disabled
	m.mu.Unlock()
}

// Start enters the dragging state and writes the type tag and id into p. It
// returns false when dragging is disabled, the id is empty, or another drag
// is still active.
func (m *Machine) Start(typ Type, id string, data any, p Payload) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disabled || m.state.Dragging || id == "" || typ == None {
		return false
	}
	if p != nil {
		p.SetData(KeyType, typ.String())
		p.SetData(KeyID, id)
		p.SetData(KeyText, id)
	}
	m.state = State{Dragging: true, Type: typ, ID: id, Data: data}
	return true
}

// DragOver records targetID as the hover target for HoverTimeout.
func (m *Machine) DragOver(targetID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.Dragging || targetID == "" {
		return
	}
	m.state.DraggedOver = targetID
	m.stopHoverLocked()
	gen := m.hoverGen
	m.hover = m.clock.AfterFunc(HoverTimeout, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.hoverGen == gen {
			m.state.DraggedOver = ""
			m.hover = nil
		}
	})
}

// DragLeave clears the hover target immediately.
func (m *Machine) DragLeave() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopHoverLocked()
	m.state.DraggedOver = ""
}

// Drop resolves the active drag against t. The machine is back to idle before
// the handler runs, so a failing handler never re-arms the drag.
func (m *Machine) Drop(ctx context.Context, t Target) error {
	m.mu.Lock()
	cur := m.state
	m.resetLocked()
	m.mu.Unlock()

	if !cur.Dragging || cur.ID == "" {
		return nil
	}
	log.WithFields(log.Fields{
		"type":     cur.Type.String(),
		"id":       cur.ID,
		"target":   t.ID,
		"priority": t.PriorityZone,
	}).Debug("drop")
	return m.handlers.Dispatch(ctx, cur.Type, cur.ID, t)
}

// End abandons any drag, for example after a cancelled drag or a release
// outside every target.
func (m *Machine) End() {
	m.mu.Lock()
	m.resetLocked()
	m.mu.Unlock()
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) resetLocked() {
	m.stopHoverLocked()
	m.state = State{}
}

func (m *Machine) stopHoverLocked() {
	m.hoverGen++
	if m.hover != nil {
		m.hover.Stop()
		m.hover = nil
	}
}
