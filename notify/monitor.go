package notify

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-board/domain"
	"prism-board/internal/clock"
)

// Source reads what an expiry check needs.
type Source interface {
	ListTasks(ctx context.Context, userID string) ([]domain.Task, error)
	GetUser(ctx context.Context, id string) (*domain.User, error)
}

// Queue hands email and push reminders to an out of process sender.
type Queue interface {
	EnqueueNotification(ctx context.Context, n domain.Notification) error
}

// Event is delivered to the user's open session.
type Event struct {
	Type         string               `json:"type"`
	Notification *domain.Notification `json:"notification,omitempty"`
	Expiring     []string             `json:"expiring,omitempty"`
}

const (
	EventToast  = "toast"
	EventVisual = "visual"
)

// Monitor runs expiry checks for one user while a session is open.
type Monitor struct {
	userID   string
	src      Source
	queue    Queue
	sink     func(Event)
	tracker  *Tracker
	clock    clock.Clock
	interval time.Duration
	logger   *log.Entry
}

type Option func(*Monitor)

func WithClock(c clock.Clock) Option { return func(m *Monitor) { m.clock = c } }

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// NewMonitor creates a monitor for userID. Toast and visual events go to
// sink; email and push reminders go to queue.
func NewMonitor(userID string, src Source, queue Queue, sink func(Event), opts ...Option) *Monitor {
	m := &Monitor{
		userID:   userID,
		src:      src,
		queue:    queue,
		sink:     sink,
		tracker:  NewTracker(),
		clock:    clock.Real(),
		interval: domain.ExpiryCheckInterval,
		logger:   log.WithField("user", userID),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Check runs one expiry check.
func (m *Monitor) Check(ctx context.Context) error {
	user, err := m.src.GetUser(ctx, m.userID)
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}
	tasks, err := m.src.ListTasks(ctx, m.userID)
	if err != nil {
		return err
	}
	res := m.tracker.Check(*user, tasks, m.clock.Now())
	for i := range res.Notifications {
		n := res.Notifications[i]
		switch n.Method {
		case domain.NotifyToast:
			m.emit(Event{Type: EventToast, Notification: &n})
		case domain.NotifyEmail, domain.NotifyPush:
			if m.queue == nil {
				continue
			}
			// A failed send is not retried for the same key.
			if err := m.queue.EnqueueNotification(ctx, n); err != nil {
				m.logger.WithError(err).WithField("key", n.Key).Error("failed to enqueue notification")
			}
		}
	}
	if res.Visual {
		m.emit(Event{Type: EventVisual, Expiring: res.Expiring})
	}
	return nil
}

func (m *Monitor) emit(ev Event) {
	if m.sink != nil {
		m.sink(ev)
	}
}

// Run checks immediately and then on every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	t := m.clock.NewTicker(m.interval)
	defer t.Stop()
	for {
		if err := m.Check(ctx); err != nil && ctx.Err() == nil {
			m.logger.WithError(err).Warn("expiry check failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}
