// Package board turns user intents into ordered persistence calls plus an
// audit history entry.
//
// A Board is bound to one signed-in user. Mutations never return errors to
// the caller; a failure is kept in the board's error slot (see Err) and the
// operation is abandoned. ChangeTaskPriority is the exception and also returns
// the error.
package board

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"prism-board/domain"
	"prism-board/internal/clock"
	"prism-board/ordering"
)

// Store is the persistence collaborator. Lists are scoped to one owner.
type Store interface {
	ListCategories(ctx context.Context, userID string) ([]domain.Category, error)
	CreateCategory(ctx context.Context, c domain.Category) error
	UpdateCategory(ctx context.Context, userID, id string, upd domain.CategoryUpdate) error
	DeleteCategory(ctx context.Context, userID, id string) error
	UpdateCategoryOrder(ctx context.Context, userID string, updates []domain.OrderUpdate) error

	ListTasks(ctx context.Context, userID string) ([]domain.Task, error)
	GetTask(ctx context.Context, userID, id string) (*domain.Task, error)
	CreateTask(ctx context.Context, t domain.Task) error
	UpdateTask(ctx context.Context, userID, id string, upd domain.TaskUpdate) error
	DeleteTask(ctx context.Context, userID, id string) error
	UpdateTaskOrder(ctx context.Context, userID string, updates []domain.OrderUpdate) error

	ListPriorities(ctx context.Context, userID string) ([]domain.Priority, error)
	CreatePriority(ctx context.Context, p domain.Priority) error
	UpdatePriority(ctx context.Context, userID, id string, upd domain.PriorityUpdate) error
	DeletePriority(ctx context.Context, userID, id string) error
	UpdatePriorityOrder(ctx context.Context, userID string, updates []domain.OrderUpdate) error

	AddHistory(ctx context.Context, e domain.HistoryEntry) error
	ListHistory(ctx context.Context, userID string, limit int) ([]domain.HistoryEntry, error)
}

const tracerName = "prism-board/board"

// isoLayout matches the millisecond UTC timestamps used in history values.
const isoLayout = "2006-01-02T15:04:05.000Z07:00"

type Board struct {
	store  Store
	userID string
	clock  clock.Clock
	newID  func() string
	tracer trace.Tracer

	mu  sync.Mutex
	err error
}

type Option func(*Board)

func WithClock(c clock.Clock) Option { return func(b *Board) { b.clock = c } }

func WithIDGenerator(fn func() string) Option { return func(b *Board) { b.newID = fn } }

func WithTracer(t trace.Tracer) Option { return func(b *Board) { b.tracer = t } }

// New returns a board for userID. An empty userID means nobody is signed in
// and every mutation is a no-op.
func New(store Store, userID string, opts ...Option) *Board {
	b := &Board{
		store:  store,
		userID: userID,
		clock:  clock.Real(),
		newID:  uuid.NewString,
		tracer: otel.Tracer(tracerName),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Board) UserID() string { return b.userID }

// Err returns the last recorded failure, or nil.
func (b *Board) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

func (b *Board) ClearErr() {
	b.mu.Lock()
	b.err = nil
	b.mu.Unlock()
}

func (b *Board) setErr(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

// run wraps one operation in a span and records its failure in the error slot.
func (b *Board) run(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := b.tracer.Start(ctx, "board."+strings.ReplaceAll(op, " ", "_"),
		trace.WithAttributes(attribute.String("prism.user_id", b.userID)))
	defer span.End()

	err := fn(ctx)
	if err == nil {
		return nil
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	opErr := &OpError{Op: op, Err: err}
	b.setErr(opErr)
	log.WithError(err).WithFields(log.Fields{"op": op, "user": b.userID}).Error("board operation failed")
	return opErr
}

func (b *Board) record(ctx context.Context, e domain.HistoryEntry) error {
	e.ID = b.newID()
	e.OwnerID = b.userID
	e.Timestamp = b.clock.Now().UTC()
	return b.store.AddHistory(ctx, e)
}

func (b *Board) signedIn() bool { return b.userID != "" }

func isoTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(isoLayout)
}

func toOrderUpdates(as []ordering.Assignment) []domain.OrderUpdate {
	out := make([]domain.OrderUpdate, len(as))
	for i, a := range as {
		out[i] = domain.OrderUpdate{ID: a.ID, Order: a.Order}
	}
	return out
}
