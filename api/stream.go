package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"prism-board/domain"
	"prism-board/notify"
	"prism-board/subscription"
)

const (
	eventSnapshot   = "snapshot"
	maxQueuedEvents = 64
)

var errStreamUnsupported = errors.New("stream unsupported")

// streamState buffers what the stream loop has not written yet. Snapshots of
// the same collection collapse to the latest one.
type streamState struct {
	mu      sync.Mutex
	snaps   map[domain.Collection]subscription.Snapshot
	pending []domain.Collection
	events  []notify.Event
	ready   chan struct{}
}

func newStreamState() *streamState {
	return &streamState{
		snaps: map[domain.Collection]subscription.Snapshot{},
		ready: make(chan struct{}, 1),
	}
}

func (st *streamState) snapshot(s subscription.Snapshot) {
	st.mu.Lock()
	if _, queued := st.snaps[s.Collection]; !queued {
		st.pending = append(st.pending, s.Collection)
	}
	st.snaps[s.Collection] = s
	st.mu.Unlock()
	st.signal()
}

func (st *streamState) event(ev notify.Event) {
	st.mu.Lock()
	if len(st.events) < maxQueuedEvents {
		st.events = append(st.events, ev)
	}
	st.mu.Unlock()
	st.signal()
}

func (st *streamState) signal() {
	select {
	case st.ready <- struct{}{}:
	default:
	}
}

func (st *streamState) drain() ([]subscription.Snapshot, []notify.Event) {
	st.mu.Lock()
	defer st.mu.Unlock()
	snaps := make([]subscription.Snapshot, 0, len(st.pending))
	for _, c := range st.pending {
		snaps = append(snaps, st.snaps[c])
		delete(st.snaps, c)
	}
	st.pending = st.pending[:0]
	events := st.events
	st.events = nil
	return snaps, events
}

func (st *streamState) writeTo(w io.Writer) error {
	snaps, events := st.drain()
	for _, s := range snaps {
		if err := writeFrame(w, eventSnapshot, s); err != nil {
			return err
		}
	}
	for _, ev := range events {
		if err := writeFrame(w, ev.Type, ev); err != nil {
			return err
		}
	}
	return nil
}

func writeFrame(w io.Writer, event string, v any) error {
	data, err := sonic.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

// stream serves server-sent events: one snapshot per collection, a new
// snapshot whenever a collection changes, expiry notifications, and a
// heartbeat comment.
func (s *Server) stream(c echo.Context) error {
	user := userID(c)
	res := c.Response()
	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return fail(c, http.StatusInternalServerError, "stream", errStreamUnsupported)
	}
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	st := newStreamState()
	for _, col := range domain.Collections {
		unsubscribe, err := s.hub.Subscribe(ctx, user, col, st.snapshot)
		if err != nil {
			return storageFailure(c, err)
		}
		defer unsubscribe()
	}

	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	if err := st.writeTo(res); err != nil {
		c.Logger().Error(err)
		return nil
	}
	flusher.Flush()

	monitor := notify.NewMonitor(user, s.store, s.store, st.event,
		notify.WithClock(s.cfg.Clock), notify.WithInterval(s.cfg.ExpiryInterval))
	go monitor.Run(ctx)

	heartbeat := s.cfg.Clock.NewTicker(s.cfg.Heartbeat)
	defer heartbeat.Stop()
	for {
		var err error
		select {
		case <-ctx.Done():
			return nil
		case <-st.ready:
			err = st.writeTo(res)
		case <-heartbeat.C:
			_, err = io.WriteString(res, ": ping\n\n")
		}
		if err != nil {
			c.Logger().Error(err)
			return nil
		}
		flusher.Flush()
	}
}
