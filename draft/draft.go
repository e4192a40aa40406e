// Package draft debounces persistence of in-progress task edits.
//
// The first snapshot seen for a scope is taken as the already persisted
// baseline, so opening a task never triggers a save on its own. Later
// snapshots that differ from the last persisted one are saved after the
// debounce delay; every new snapshot restarts the delay.
package draft

import (
	"context"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
	"prism-board/internal/clock"
)

// SaveFunc persists d for the entity identified by scope.
type SaveFunc func(ctx context.Context, scope string, d domain.TaskDraft) error

type Controller struct {
	save    SaveFunc
	clock   clock.Clock
	delay   time.Duration
	ctx     context.Context
	onError func(scope string, err error)

	// saveMu serialises calls to save so one controller never runs two
	// saves at once.
	saveMu sync.Mutex

	mu      sync.Mutex
	scope   string
	enabled bool
	known   bool
	lastSig uint64
	current *domain.TaskDraft
	pending *clock.Timer
	gen     uint64
	closed  bool
}

type Option func(*Controller)

func WithClock(c clock.Clock) Option { return func(ctl *Controller) { ctl.clock = c } }

func WithDelay(d time.Duration) Option { return func(ctl *Controller) { ctl.delay = d } }

// WithContext sets the context passed to debounced saves.
func WithContext(ctx context.Context) Option { return func(ctl *Controller) { ctl.ctx = ctx } }

// WithErrorHandler receives failures of debounced saves.
func WithErrorHandler(fn func(scope string, err error)) Option {
	return func(ctl *Controller) { ctl.onError = fn }
}

func New(save SaveFunc, opts ...Option) *Controller {
	c := &Controller{
		save:    save,
		clock:   clock.Real(),
		delay:   domain.DraftSaveDelay,
		ctx:     context.Background(),
		enabled: true,
	}
	for _, o := range opts {
		o(c)
	}
	if c.delay <= 0 {
		c.delay = domain.DraftSaveDelay
	}
	return c
}

// Scope returns the key of the entity currently tracked.
func (c *Controller) Scope() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scope
}

// SetScope switches to another entity. The baseline is forgotten and any
// pending save for the previous entity is dropped.
func (c *Controller) SetScope(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key == c.scope {
		return
	}
	c.cancelLocked()
	c.scope = key
	c.known = false
	c.lastSig = 0
	c.current = nil
}

// SetEnabled suspends or resumes scheduling. The baseline is kept.
func (c *Controller) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	if !enabled {
		c.cancelLocked()
	}
}

// Observe feeds the latest editor snapshot. A nil snapshot means there is
// nothing to save.
func (c *Controller) Observe(d *domain.TaskDraft) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.cancelLocked()
	if d == nil {
		c.current = nil
		return
	}
	snap := *d
	c.current = &snap
	if !c.enabled {
		return
	}
	sig, err := signature(snap)
	if err != nil {
		log.WithError(err).WithField("scope", c.scope).Error("draft signature")
		return
	}
	if !c.known {
		c.known = true
		c.lastSig = sig
		return
	}
	if sig == c.lastSig {
		return
	}
	gen := c.gen
	scope := c.scope
	c.pending = c.clock.AfterFunc(c.delay, func() { c.fire(gen, scope, snap, sig) })
}

// Pending reports whether a debounced save is scheduled.
func (c *Controller) Pending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending != nil
}

// SaveNow cancels any pending save and persists the latest snapshot
// synchronously.
func (c *Controller) SaveNow(ctx context.Context) error {
	c.mu.Lock()
	c.cancelLocked()
	if c.closed || c.current == nil {
		c.mu.Unlock()
		return nil
	}
	snap := *c.current
	scope := c.scope
	c.mu.Unlock()

	sig, err := signature(snap)
	if err != nil {
		return err
	}
	return c.persist(ctx, scope, snap, sig)
}

// Close drops any pending save. Later snapshots are ignored.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelLocked()
	c.closed = true
}

func (c *Controller) fire(gen uint64, scope string, d domain.TaskDraft, sig uint64) {
	c.mu.Lock()
	if gen != c.gen || c.closed {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.mu.Unlock()

	if err := c.persist(c.ctx, scope, d, sig); err != nil {
		log.WithError(err).WithField("scope", scope).Error("draft save failed")
		if c.onError != nil {
			c.onError(scope, err)
		}
	}
}

// persist runs save and, on success, records sig as the last persisted
// signature if the scope has not changed meanwhile.
func (c *Controller) persist(ctx context.Context, scope string, d domain.TaskDraft, sig uint64) error {
	c.saveMu.Lock()
	err := c.save(ctx, scope, d)
	c.saveMu.Unlock()
	if err != nil {
		return err
	}
	c.mu.Lock()
	if scope == c.scope {
		c.known = true
		c.lastSig = sig
	}
	c.mu.Unlock()
	return nil
}

func (c *Controller) cancelLocked() {
	c.gen++
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}

func signature(d domain.TaskDraft) (uint64, error) {
	data, err := sonic.Marshal(d)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(data), nil
}
