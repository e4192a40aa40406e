package api

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"prism-board/board"
	"prism-board/domain"
	"prism-board/draft"
)

// draftSessions keeps one autosave controller per user. The controller is
// scoped to the task whose editor is open; switching tasks drops the pending
// save of the previous one.
type draftSessions struct {
	store  board.Store
	cfg    Config
	ctx    context.Context
	logger *log.Logger

	mu     sync.Mutex
	byUser map[string]*draft.Controller
	closed bool
}

func newDraftSessions(ctx context.Context, store board.Store, cfg Config, logger *log.Logger) *draftSessions {
	return &draftSessions{
		store:  store,
		cfg:    cfg,
		ctx:    ctx,
		logger: logger,
		byUser: map[string]*draft.Controller{},
	}
}

func (s *draftSessions) controller(userID string) *draft.Controller {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if ctl, ok := s.byUser[userID]; ok {
		return ctl
	}
	b := board.New(s.store, userID, board.WithClock(s.cfg.Clock))
	save := func(ctx context.Context, taskID string, d domain.TaskDraft) error {
		return b.SaveDraft(ctx, taskID, &d)
	}
	logger := s.logger.WithField("user", userID)
	ctl := draft.New(save,
		draft.WithClock(s.cfg.Clock),
		draft.WithDelay(s.cfg.DraftSaveDelay),
		draft.WithContext(s.ctx),
		draft.WithErrorHandler(func(taskID string, err error) {
			logger.WithError(err).WithField("task", taskID).Warn("draft autosave failed")
		}),
	)
	s.byUser[userID] = ctl
	return ctl
}

// observe feeds an editor snapshot of taskID and reports whether a save is
// now scheduled.
func (s *draftSessions) observe(userID, taskID string, d *domain.TaskDraft) bool {
	ctl := s.controller(userID)
	if ctl == nil {
		return false
	}
	ctl.SetScope(taskID)
	ctl.Observe(d)
	return ctl.Pending()
}

// flush saves the latest snapshot of taskID immediately. It is a no-op when
// the user's editor is tracking another task.
func (s *draftSessions) flush(ctx context.Context, userID, taskID string) error {
	s.mu.Lock()
	ctl := s.byUser[userID]
	s.mu.Unlock()
	if ctl == nil || ctl.Scope() != taskID {
		return nil
	}
	return ctl.SaveNow(ctx)
}

// Close drops every pending save.
func (s *draftSessions) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, ctl := range s.byUser {
		ctl.Close()
		delete(s.byUser, id)
	}
}
