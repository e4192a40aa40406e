// Package subscription delivers ordered per-collection snapshots to
// subscribers whenever a user's board changes.
package subscription

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"prism-board/board"
	"prism-board/domain"
)

// Snapshot is the full, sorted content of one collection.
type Snapshot struct {
	Collection domain.Collection `json:"collection"`
	Data       any               `json:"data"`
}

// Listener receives snapshots. Calls to one listener never overlap; it must
// not block for long.
type Listener func(Snapshot)

// subscriber drops snapshots whose fetch started before the one it last
// received, so a slow fetch never overwrites a newer broadcast.
type subscriber struct {
	mu   sync.Mutex
	fn   Listener
	last uint64
}

func (s *subscriber) deliver(seq uint64, snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq <= s.last {
		return
	}
	s.last = seq
	s.fn(snap)
}

type key struct {
	userID     string
	collection domain.Collection
}

// Hub fans out snapshots to subscribers.
type Hub struct {
	store        board.Store
	historyLimit int
	logger       *log.Logger

	seq atomic.Uint64

	mu     sync.Mutex
	nextID uint64
	subs   map[key]map[uint64]*subscriber
}

// NewHub creates a hub reading snapshots from store. History snapshots are
// capped at historyLimit entries.
func NewHub(store board.Store, historyLimit int, logger *log.Logger) *Hub {
	if historyLimit <= 0 {
		historyLimit = domain.DefaultHistoryLimit
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Hub{store: store, historyLimit: historyLimit, logger: logger, subs: map[key]map[uint64]*subscriber{}}
}

// Fetch builds the current snapshot of a collection.
func (h *Hub) Fetch(ctx context.Context, userID string, c domain.Collection) (Snapshot, error) {
	b := board.New(h.store, userID)
	var (
		data any
		err  error
	)
	switch c {
	case domain.CollectionCategories:
		data, err = b.Categories(ctx)
	case domain.CollectionTasks:
		data, err = b.Tasks(ctx)
	case domain.CollectionPriorities:
		data, err = b.Priorities(ctx)
	case domain.CollectionHistory:
		data, err = b.History(ctx, h.historyLimit)
	default:
		return Snapshot{}, fmt.Errorf("unknown collection %q", c)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch %s: %w", c, err)
	}
	return Snapshot{Collection: c, Data: data}, nil
}

// Subscribe delivers the current snapshot of the collection to fn and then
// every later one until the returned function is called. The listener is
// registered before the first fetch so no change between the two is lost.
func (h *Hub) Subscribe(ctx context.Context, userID string, c domain.Collection, fn Listener) (func(), error) {
	k := key{userID: userID, collection: c}
	sub := &subscriber{fn: fn}
	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[k] == nil {
		h.subs[k] = map[uint64]*subscriber{}
	}
	h.subs[k][id] = sub
	h.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[k], id)
			if len(h.subs[k]) == 0 {
				delete(h.subs, k)
			}
		})
	}

	seq := h.seq.Add(1)
	snap, err := h.Fetch(ctx, userID, c)
	if err != nil {
		unsubscribe()
		return nil, err
	}
	sub.deliver(seq, snap)
	return unsubscribe, nil
}

func (h *Hub) listeners(k key) []*subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*subscriber, 0, len(h.subs[k]))
	for _, s := range h.subs[k] {
		out = append(out, s)
	}
	return out
}

// Notify refetches a changed collection and broadcasts it. Nothing is
// fetched when nobody listens.
func (h *Hub) Notify(ctx context.Context, ch domain.Change) {
	subs := h.listeners(key{userID: ch.UserID, collection: ch.Collection})
	if len(subs) == 0 {
		return
	}
	seq := h.seq.Add(1)
	snap, err := h.Fetch(ctx, ch.UserID, ch.Collection)
	if err != nil {
		h.logger.WithError(err).WithFields(log.Fields{"user": ch.UserID, "collection": ch.Collection}).Error("snapshot fetch failed")
		return
	}
	for _, s := range subs {
		s.deliver(seq, snap)
	}
}

// Run listens for change messages on channel and broadcasts fresh snapshots
// until ctx is done. A closed pubsub channel is resubscribed after a second.
func (h *Hub) Run(ctx context.Context, rc *redis.Client, channel string) {
	for {
		sub := rc.Subscribe(ctx, channel)
		ch := sub.Channel()
	loop:
		for {
			select {
			case <-ctx.Done():
				_ = sub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop
				}
				var change domain.Change
				if err := sonic.UnmarshalString(msg.Payload, &change); err != nil {
					h.logger.WithError(err).Error("unable to parse change")
					continue
				}
				h.Notify(ctx, change)
			}
		}
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		h.logger.Error("pubsub channel closed, reconnecting")
		time.Sleep(time.Second)
	}
}
