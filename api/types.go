package api

import (
	"context"
	"time"

	"prism-board/board"
	"prism-board/domain"
	"prism-board/internal/clock"
	"prism-board/subscription"
)

// Storage abstracts persistence for handlers.
type Storage interface {
	board.Store
	GetUser(ctx context.Context, id string) (*domain.User, error)
	UpsertUser(ctx context.Context, u domain.User) error
	UpdateNotificationSettings(ctx context.Context, userID string, settings domain.NotificationSettings) error
	EnqueueNotification(ctx context.Context, n domain.Notification) error
}

// Authenticator verifies an Authorization header.
type Authenticator interface {
	Authenticate(header string) (Identity, error)
}

// Deduper rejects create requests whose idempotency key was seen before.
type Deduper interface {
	// Claim records the key and reports whether it was unseen.
	Claim(ctx context.Context, userID, key string) (bool, error)
	// Release forgets a claimed key after the create failed.
	Release(ctx context.Context, userID, key string) error
}

// Subscriber delivers collection snapshots to open streams.
type Subscriber interface {
	Subscribe(ctx context.Context, userID string, c domain.Collection, fn subscription.Listener) (func(), error)
}

// Config tunes timing of the HTTP surface. Zero values select the defaults.
type Config struct {
	HistoryLimit   int
	DraftSaveDelay time.Duration
	ExpiryInterval time.Duration
	Heartbeat      time.Duration
	Clock          clock.Clock
}

const defaultHeartbeat = 30 * time.Second

func (c Config) withDefaults() Config {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = domain.DefaultHistoryLimit
	}
	if c.DraftSaveDelay <= 0 {
		c.DraftSaveDelay = domain.DraftSaveDelay
	}
	if c.ExpiryInterval <= 0 {
		c.ExpiryInterval = domain.ExpiryCheckInterval
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = defaultHeartbeat
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	return c
}
