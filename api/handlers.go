package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"prism-board/board"
	"prism-board/domain"
	"prism-board/dragdrop"
)

var (
	errLabelRequired = errors.New("label is required")
	errInvalidLevel  = errors.New("invalid priority level")
	errEmptyUpdate   = errors.New("nothing to update")
	errEmptyDrag     = errors.New("drag payload carries no id")
	errDuplicate     = errors.New("duplicate request")
	errInvalidLimit  = errors.New("invalid limit")
)

// Server holds what the handlers share.
type Server struct {
	store   Storage
	auth    Authenticator
	deduper Deduper
	hub     Subscriber
	cfg     Config
	log     *log.Logger
	drafts  *draftSessions
}

// Register wires up all API routes on the provided Echo instance. ctx bounds
// background work such as debounced draft saves.
func Register(ctx context.Context, e *echo.Echo, store Storage, auth Authenticator, deduper Deduper, hub Subscriber, cfg Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.StandardLogger()
	}
	if deduper == nil {
		deduper = noopDeduper{}
	}
	cfg = cfg.withDefaults()
	s := &Server{
		store:   store,
		auth:    auth,
		deduper: deduper,
		hub:     hub,
		cfg:     cfg,
		log:     logger,
		drafts:  newDraftSessions(ctx, store, cfg, logger),
	}

	e.GET("/healthz", s.healthz)
	e.GET("/api/stream", s.stream, ObservabilityMiddleware(logger), requireUser(auth, true))

	g := e.Group("/api", ObservabilityMiddleware(logger), requireUser(auth, false))
	g.GET("/board", s.getBoard)
	g.GET("/history", s.getHistory)

	g.GET("/me", s.getMe)
	g.POST("/me", s.postMe)
	g.PUT("/me/notification-settings", s.putNotificationSettings)
	g.POST("/logout", s.postLogout)

	g.POST("/categories", s.postCategory)
	g.PUT("/categories/order", s.putCategoryOrder)
	g.PATCH("/categories/:id", s.patchCategory)
	g.DELETE("/categories/:id", s.deleteCategory)

	g.POST("/tasks", s.postTask)
	g.PATCH("/tasks/:id", s.patchTask)
	g.DELETE("/tasks/:id", s.deleteTask)
	g.POST("/tasks/:id/move", s.postMoveTask)
	g.POST("/tasks/:id/reorder", s.postReorderTask)
	g.POST("/tasks/:id/priority", s.postTaskPriority)
	g.PUT("/tasks/:id/draft", s.putDraft)
	g.DELETE("/tasks/:id/draft", s.deleteDraft)
	g.POST("/tasks/:id/draft/session", s.postDraftSession)
	g.POST("/tasks/:id/draft/flush", s.postDraftFlush)

	g.POST("/priorities", s.postPriority)
	g.PUT("/priorities/order", s.putPriorityOrder)
	g.PATCH("/priorities/:id", s.patchPriority)
	g.DELETE("/priorities/:id", s.deletePriority)

	g.POST("/drop", s.postDrop)
	return s
}

// Close drops pending draft saves.
func (s *Server) Close() {
	s.drafts.Close()
}

func (s *Server) board(c echo.Context) *board.Board {
	return board.New(s.store, userID(c), board.WithClock(s.cfg.Clock))
}

// fail writes a plain text error response and tags the request metrics.
func fail(c echo.Context, status int, stage string, err error) error {
	if m := metricsFrom(c); m != nil {
		m.SetErrorStage(stage)
		if status >= http.StatusInternalServerError {
			m.SetError(err)
		}
	}
	return c.String(status, err.Error())
}

// failed reports the board's recorded error, if any.
func failed(c echo.Context, b *board.Board) (bool, error) {
	err := b.Err()
	if err == nil {
		return false, nil
	}
	return true, storageFailure(c, err)
}

func storageFailure(c echo.Context, err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fail(c, http.StatusNotFound, "not_found", err)
	}
	c.Logger().Error(err)
	return fail(c, http.StatusInternalServerError, "storage", err)
}

func badRequest(c echo.Context, err error) error {
	return fail(c, http.StatusBadRequest, "validation", err)
}

func (s *Server) healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

type boardResponse struct {
	Categories []domain.Category `json:"categories"`
	Tasks      []domain.Task     `json:"tasks"`
	Priorities []domain.Priority `json:"priorities"`
}

func (s *Server) getBoard(c echo.Context) error {
	ctx := c.Request().Context()
	b := s.board(c)
	cats, err := b.Categories(ctx)
	if err != nil {
		return storageFailure(c, err)
	}
	tasks, err := b.Tasks(ctx)
	if err != nil {
		return storageFailure(c, err)
	}
	prios, err := b.Priorities(ctx)
	if err != nil {
		return storageFailure(c, err)
	}
	return c.JSON(http.StatusOK, boardResponse{Categories: cats, Tasks: tasks, Priorities: prios})
}

func (s *Server) getHistory(c echo.Context) error {
	limit := s.cfg.HistoryLimit
	if raw := strings.TrimSpace(c.QueryParam("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return badRequest(c, errInvalidLimit)
		}
		limit = n
	}
	entries, err := s.board(c).History(c.Request().Context(), limit)
	if err != nil {
		return storageFailure(c, err)
	}
	return c.JSON(http.StatusOK, entries)
}

// idempotent runs create under the request's Idempotency-Key and responds
// with the new id. A key seen before yields 409; a failed create releases the
// key so the client may retry.
func (s *Server) idempotent(c echo.Context, create func(ctx context.Context, b *board.Board) string) error {
	key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
	if key == "" {
		key = uuid.NewString()
	}
	ctx := c.Request().Context()
	user := userID(c)
	fresh, err := s.deduper.Claim(ctx, user, key)
	if err != nil {
		c.Logger().Error(err)
		return fail(c, http.StatusInternalServerError, "idempotency", err)
	}
	if !fresh {
		return fail(c, http.StatusConflict, "idempotency", errDuplicate)
	}
	b := s.board(c)
	id := create(ctx, b)
	if err := b.Err(); err != nil {
		if rmErr := s.deduper.Release(ctx, user, key); rmErr != nil {
			s.log.WithError(rmErr).WithField("key", key).Warn("failed to release idempotency key")
		}
		return storageFailure(c, err)
	}
	return c.JSON(http.StatusCreated, createdResponse{ID: id})
}

type createdResponse struct {
	ID string `json:"id"`
}

type newCategoryRequest struct {
	Title string `json:"title"`
	Color string `json:"color"`
}

func (s *Server) postCategory(c echo.Context) error {
	var req newCategoryRequest
	if err := decodeBody(c, &req); err != nil {
		return badRequest(c, err)
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return badRequest(c, domain.ErrTitleRequired)
	}
	return s.idempotent(c, func(ctx context.Context, b *board.Board) string {
		return b.CreateCategory(ctx, req.Title, req.Color)
	})
}

func (s *Server) patchCategory(c echo.Context) error {
	var upd domain.CategoryUpdate
	if err := decodeBody(c, &upd); err != nil {
		return badRequest(c, err)
	}
	if upd.Empty() {
		return badRequest(c, errEmptyUpdate)
	}
	if upd.Title != nil && strings.TrimSpace(*upd.Title) == "" {
		return badRequest(c, domain.ErrTitleRequired)
	}
	b := s.board(c)
	b.UpdateCategory(c.Request().Context(), c.Param("id"), upd)
	if ok, err := failed(c, b); ok {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteCategory(c echo.Context) error {
	b := s.board(c)
	b.DeleteCategory(c.Request().Context(), c.Param("id"))
	if ok, err := failed(c, b); ok {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type orderRequest struct {
	IDs []string `json:"ids"`
}

func (s *Server) putCategoryOrder(c echo.Context) error {
	var req orderRequest
	if err := decodeBody(c, &req); err != nil {
		return badRequest(c, err)
	}
	b := s.board(c)
	b.ReorderCategories(c.Request().Context(), req.IDs)
	if ok, err := failed(c, b); ok {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) postTask(c echo.Context) error {
	var nt domain.NewTask
	if err := decodeBody(c, &nt); err != nil {
		return badRequest(c, err)
	}
	nt.Title = strings.TrimSpace(nt.Title)
	if nt.Title == "" {
		return badRequest(c, domain.ErrTitleRequired)
	}
	if strings.TrimSpace(nt.CategoryID) == "" {
		return badRequest(c, domain.ErrCategoryRequired)
	}
	return s.idempotent(c, func(ctx context.Context, b *board.Board) string {
		return b.CreateTask(ctx, nt)
	})
}

func (s *Server) patchTask(c echo.Context) error {
	var upd domain.TaskUpdate
	if err := decodeBody(c, &upd); err != nil {
		return badRequest(c, err)
	}
	if upd.Empty() {
		return badRequest(c, errEmptyUpdate)
	}
	if upd.Title.Set && strings.TrimSpace(upd.Title.Value) == "" {
		return badRequest(c, domain.ErrTitleRequired)
	}
	if upd.CategoryID.Set && strings.TrimSpace(upd.CategoryID.Value) == "" {
		return badRequest(c, domain.ErrCategoryRequired)
	}
	b := s.board(c)
	b.UpdateTask(c.Request().Context(), c.Param("id"), upd)
	if ok, err := failed(c, b); ok {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteTask(c echo.Context) error {
	b := s.board(c)
	b.DeleteTask(c.Request().Context(), c.Param("id"))
	if ok, err := failed(c, b); ok {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type moveRequest struct {
	CategoryID string `json:"categoryId"`
	Order      int    `json:"order"`
}

func (s *Server) postMoveTask(c echo.Context) error {
	var req moveRequest
	if err := decodeBody(c, &req); err != nil {
		return badRequest(c, err)
	}
	if req.CategoryID == "" {
		return badRequest(c, domain.ErrCategoryRequired)
	}
	b := s.board(c)
	b.MoveTask(c.Request().Context(), c.Param("id"), req.CategoryID, req.Order)
	if ok, err := failed(c, b); ok {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type reorderRequest struct {
	Index int `json:"index"`
}

func (s *Server) postReorderTask(c echo.Context) error {
	var req reorderRequest
	if err := decodeBody(c, &req); err != nil {
		return badRequest(c, err)
	}
	b := s.board(c)
	b.ReorderTask(c.Request().Context(), c.Param("id"), req.Index)
	if ok, err := failed(c, b); ok {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type priorityRequest struct {
	PriorityID string `json:"priorityId"`
}

type changedResponse struct {
	Changed bool `json:"changed"`
}

func (s *Server) postTaskPriority(c echo.Context) error {
	var req priorityRequest
	if err := decodeBody(c, &req); err != nil {
		return badRequest(c, err)
	}
	changed, err := s.board(c).ChangeTaskPriority(c.Request().Context(), c.Param("id"), req.PriorityID)
	if err != nil {
		return storageFailure(c, err)
	}
	return c.JSON(http.StatusOK, changedResponse{Changed: changed})
}

func (s *Server) putDraft(c echo.Context) error {
	var d domain.TaskDraft
	if err := decodeBody(c, &d); err != nil {
		return badRequest(c, err)
	}
	if err := s.board(c).SaveDraft(c.Request().Context(), c.Param("id"), &d); err != nil {
		return storageFailure(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deleteDraft(c echo.Context) error {
	if err := s.board(c).SaveDraft(c.Request().Context(), c.Param("id"), nil); err != nil {
		return storageFailure(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type draftSessionResponse struct {
	Pending bool `json:"pending"`
}

// postDraftSession observes an editor snapshot. The first snapshot of a task
// is its baseline; later differing snapshots are saved after the debounce
// delay.
func (s *Server) postDraftSession(c echo.Context) error {
	var d domain.TaskDraft
	if err := decodeBody(c, &d); err != nil {
		return badRequest(c, err)
	}
	pending := s.drafts.observe(userID(c), c.Param("id"), &d)
	return c.JSON(http.StatusAccepted, draftSessionResponse{Pending: pending})
}

func (s *Server) postDraftFlush(c echo.Context) error {
	if err := s.drafts.flush(c.Request().Context(), userID(c), c.Param("id")); err != nil {
		return storageFailure(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

type newPriorityRequest struct {
	Label string               `json:"label"`
	Color string               `json:"color"`
	Level domain.PriorityLevel `json:"level"`
}

func (s *Server) postPriority(c echo.Context) error {
	var req newPriorityRequest
	if err := decodeBody(c, &req); err != nil {
		return badRequest(c, err)
	}
	req.Label = strings.TrimSpace(req.Label)
	if req.Label == "" {
		return badRequest(c, errLabelRequired)
	}
	if req.Level != "" && !req.Level.Valid() {
		return badRequest(c, errInvalidLevel)
	}
	b := s.board(c)
	id := b.CreatePriority(c.Request().Context(), req.Label, req.Color, req.Level)
	if ok, err := failed(c, b); ok {
		return err
	}
	return c.JSON(http.StatusCreated, createdResponse{ID: id})
}

func (s *Server) patchPriority(c echo.Context) error {
	var upd domain.PriorityUpdate
	if err := decodeBody(c, &upd); err != nil {
		return badRequest(c, err)
	}
	if upd.Empty() {
		return badRequest(c, errEmptyUpdate)
	}
	if upd.Label != nil && strings.TrimSpace(*upd.Label) == "" {
		return badRequest(c, errLabelRequired)
	}
	if upd.Level != nil && !upd.Level.Valid() {
		return badRequest(c, errInvalidLevel)
	}
	b := s.board(c)
	b.UpdatePriority(c.Request().Context(), c.Param("id"), upd)
	if ok, err := failed(c, b); ok {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) deletePriority(c echo.Context) error {
	b := s.board(c)
	b.DeletePriority(c.Request().Context(), c.Param("id"))
	if ok, err := failed(c, b); ok {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) putPriorityOrder(c echo.Context) error {
	var req orderRequest
	if err := decodeBody(c, &req); err != nil {
		return badRequest(c, err)
	}
	b := s.board(c)
	b.ReorderPriorities(c.Request().Context(), req.IDs)
	if ok, err := failed(c, b); ok {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// dropRequest mirrors a browser drop: the drag payload entries, the element
// the drag was released on, and an optional order hint. Without a hint a
// task dropped on a column is appended to it.
type dropRequest struct {
	Payload      map[string]string `json:"payload"`
	TargetID     string            `json:"targetId"`
	Order        *int              `json:"order"`
	PriorityZone bool              `json:"priorityZone"`
}

func (s *Server) postDrop(c echo.Context) error {
	var req dropRequest
	if err := decodeBody(c, &req); err != nil {
		return badRequest(c, err)
	}
	typ, id, ok := dragdrop.Resolve(dragdrop.DataTransfer(req.Payload))
	if !ok {
		return badRequest(c, errEmptyDrag)
	}
	b := s.board(c)
	handlers := b.DropHandlers()
	if req.Order == nil {
		handlers = b.ColumnHandlers()
	}
	m := dragdrop.New(handlers, dragdrop.WithClock(s.cfg.Clock))
	m.Start(typ, id, nil, nil)
	target := dragdrop.Target{ID: req.TargetID, Order: req.Order, PriorityZone: req.PriorityZone}
	if err := m.Drop(c.Request().Context(), target); err != nil {
		return storageFailure(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}
