package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"prism-board/domain"
	"prism-board/internal/clock"
	"prism-board/storage/sqlitestore"
	"prism-board/subscription"
)

type mockAuth struct{}

func (mockAuth) Authenticate(string) (Identity, error) {
	return Identity{UserID: "user", Email: "user@example.com", Name: "User"}, nil
}

type testServer struct {
	e     *echo.Echo
	store *sqlitestore.Store
	srv   *Server
	hub   *subscription.Hub
	clock *clock.FakeClock
	hook  *test.Hook
}

func newTestServer(t *testing.T, deduper Deduper) *testServer {
	t.Helper()
	st, err := sqlitestore.Open(filepath.Join(t.TempDir(), "board.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger, hook := test.NewNullLogger()
	fc := clock.Fake(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))
	e := echo.New()
	e.JSONSerializer = SonicSerializer{}
	hub := subscription.NewHub(st, 0, logger)
	srv := Register(context.Background(), e, st, mockAuth{}, deduper, hub, Config{Clock: fc}, logger)
	t.Cleanup(srv.Close)
	return &testServer{e: e, store: st, srv: srv, hub: hub, clock: fc, hook: hook}
}

func (ts *testServer) do(t *testing.T, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req.Header.Set(echo.HeaderAuthorization, "Bearer token")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) create(t *testing.T, path, body string) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, path, body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status creating %s: %d %s", path, rec.Code, rec.Body.String())
	}
	var resp createdResponse
	decodeResponse(t, rec, &resp)
	if resp.ID == "" {
		t.Fatalf("expected id in response: %s", rec.Body.String())
	}
	return resp.ID
}

func (ts *testServer) board(t *testing.T) boardResponse {
	t.Helper()
	rec := ts.do(t, http.MethodGet, "/api/board", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	var resp boardResponse
	decodeResponse(t, rec, &resp)
	return resp
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := sonic.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func findTask(tasks []domain.Task, id string) domain.Task {
	for _, task := range tasks {
		if task.ID == id {
			return task
		}
	}
	return domain.Task{}
}

func TestBoardRoundTrip(t *testing.T) {
	ts := newTestServer(t, nil)
	todo := ts.create(t, "/api/categories", `{"title":"Todo"}`)
	done := ts.create(t, "/api/categories", `{"title":"Done","color":"#22c55e"}`)
	task := ts.create(t, "/api/tasks", `{"title":"write tests","categoryId":"`+todo+`","priorityId":"high"}`)

	b := ts.board(t)
	if len(b.Categories) != 2 || b.Categories[0].ID != todo || b.Categories[1].ID != done {
		t.Fatalf("unexpected categories: %#v", b.Categories)
	}
	if b.Categories[0].Color != domain.DefaultCategoryColor || b.Categories[1].Order != 1 {
		t.Fatalf("unexpected category fields: %#v", b.Categories)
	}
	if len(b.Tasks) != 1 || b.Tasks[0].ID != task || b.Tasks[0].Order != 0 || b.Tasks[0].OwnerID != "user" {
		t.Fatalf("unexpected tasks: %#v", b.Tasks)
	}
	if len(b.Priorities) != 4 || b.Priorities[0].Level != domain.PriorityLow {
		t.Fatalf("expected default priorities, got %#v", b.Priorities)
	}

	rec := ts.do(t, http.MethodGet, "/api/history", "")
	var history []domain.HistoryEntry
	decodeResponse(t, rec, &history)
	if len(history) != 3 || history[0].Action != domain.ActionTaskCreated {
		t.Fatalf("unexpected history: %#v", history)
	}
}

func TestCreateValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	tests := []struct {
		name string
		path string
		body string
		want string
	}{
		{name: "taskTitle", path: "/api/tasks", body: `{"title":"  ","categoryId":"c"}`, want: domain.ErrTitleRequired.Error()},
		{name: "taskCategory", path: "/api/tasks", body: `{"title":"t"}`, want: domain.ErrCategoryRequired.Error()},
		{name: "categoryTitle", path: "/api/categories", body: `{"title":""}`, want: domain.ErrTitleRequired.Error()},
		{name: "unknownField", path: "/api/categories", body: `{"title":"x","bogus":1}`, want: errInvalidBody.Error()},
		{name: "priorityLevel", path: "/api/priorities", body: `{"label":"x","level":"extreme"}`, want: errInvalidLevel.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, tt.path, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("unexpected status: %d", rec.Code)
			}
			if rec.Body.String() != tt.want {
				t.Fatalf("unexpected body: %q", rec.Body.String())
			}
		})
	}
	if b := ts.board(t); len(b.Categories) != 0 || len(b.Tasks) != 0 {
		t.Fatalf("rejected requests must not write: %#v", b)
	}
}

func TestIdempotencyKeyRejectsDuplicate(t *testing.T) {
	_, client := setupRedis(t)
	ts := newTestServer(t, NewRedisDeduper(client, time.Minute))

	rec := ts.do(t, http.MethodPost, "/api/categories", `{"title":"Todo"}`, headerIdempotencyKey, "k1")
	if rec.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	rec = ts.do(t, http.MethodPost, "/api/categories", `{"title":"Todo"}`, headerIdempotencyKey, "k1")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	rec = ts.do(t, http.MethodPost, "/api/categories", `{"title":"Other"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("requests without a key must not collide: %d", rec.Code)
	}
	if got := len(ts.board(t).Categories); got != 2 {
		t.Fatalf("unexpected category count: %d", got)
	}
}

func TestMoveTaskAndHistory(t *testing.T) {
	ts := newTestServer(t, nil)
	a := ts.create(t, "/api/categories", `{"title":"A"}`)
	b := ts.create(t, "/api/categories", `{"title":"B"}`)
	a1 := ts.create(t, "/api/tasks", `{"title":"a1","categoryId":"`+a+`"}`)
	a2 := ts.create(t, "/api/tasks", `{"title":"a2","categoryId":"`+a+`"}`)

	rec := ts.do(t, http.MethodPost, "/api/tasks/"+a1+"/move", `{"categoryId":"`+b+`","order":0}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	tasks := ts.board(t).Tasks
	if got := findTask(tasks, a1); got.CategoryID != b || got.Order != 0 {
		t.Fatalf("unexpected moved task: %#v", got)
	}
	if got := findTask(tasks, a2); got.CategoryID != a || got.Order != 0 {
		t.Fatalf("source column not re-tightened: %#v", got)
	}

	rec = ts.do(t, http.MethodGet, "/api/history?limit=1", "")
	var history []domain.HistoryEntry
	decodeResponse(t, rec, &history)
	if len(history) != 1 || history[0].Action != domain.ActionTaskMoved ||
		history[0].PreviousValue != a || history[0].NewValue != b {
		t.Fatalf("unexpected history: %#v", history)
	}

	if rec := ts.do(t, http.MethodGet, "/api/history?limit=zero", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rec.Code)
	}
}

func TestChangeTaskPriorityReportsChange(t *testing.T) {
	ts := newTestServer(t, nil)
	cat := ts.create(t, "/api/categories", `{"title":"A"}`)
	task := ts.create(t, "/api/tasks", `{"title":"t","categoryId":"`+cat+`"}`)

	for i, want := range []bool{true, false} {
		rec := ts.do(t, http.MethodPost, "/api/tasks/"+task+"/priority", `{"priorityId":"urgent"}`)
		if rec.Code != http.StatusOK {
			t.Fatalf("unexpected status: %d", rec.Code)
		}
		var resp changedResponse
		decodeResponse(t, rec, &resp)
		if resp.Changed != want {
			t.Fatalf("call %d: unexpected changed: %v", i, resp.Changed)
		}
	}
	if got := findTask(ts.board(t).Tasks, task).PriorityID; got != "urgent" {
		t.Fatalf("unexpected priority: %q", got)
	}
}

func TestUpdatesAndNotFound(t *testing.T) {
	ts := newTestServer(t, nil)
	cat := ts.create(t, "/api/categories", `{"title":"A"}`)
	task := ts.create(t, "/api/tasks", `{"title":"t","categoryId":"`+cat+`"}`)

	if rec := ts.do(t, http.MethodPatch, "/api/categories/"+cat, `{"title":"Renamed"}`); rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPatch, "/api/categories/missing", `{"title":"x"}`); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", rec.Code, rec.Body.String())
	}
	if rec := ts.do(t, http.MethodPatch, "/api/categories/"+cat, `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty update, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPatch, "/api/tasks/"+task, `{"title":"t2","expiryDate":"2025-03-02T12:00:00Z"}`); rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPatch, "/api/tasks/"+task, `{"expiryDate":null}`); rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	b := ts.board(t)
	if b.Categories[0].Title != "Renamed" {
		t.Fatalf("unexpected category: %#v", b.Categories[0])
	}
	if got := findTask(b.Tasks, task); got.Title != "t2" || got.ExpiryDate != nil {
		t.Fatalf("unexpected task: %#v", got)
	}

	if rec := ts.do(t, http.MethodDelete, "/api/tasks/"+task, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodDelete, "/api/categories/"+cat, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if b := ts.board(t); len(b.Tasks) != 0 || len(b.Categories) != 0 {
		t.Fatalf("expected empty board: %#v", b)
	}
}

func TestPriorityRoutes(t *testing.T) {
	ts := newTestServer(t, nil)
	id := ts.create(t, "/api/priorities", `{"label":"Someday","color":"#000000"}`)

	prios := ts.board(t).Priorities
	if len(prios) != 5 || prios[4].ID != id || prios[4].Level != domain.PriorityCustom {
		t.Fatalf("unexpected priorities: %#v", prios)
	}

	order := `{"ids":["` + id + `","urgent","high","medium","low"]}`
	if rec := ts.do(t, http.MethodPut, "/api/priorities/order", order); rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodPatch, "/api/priorities/"+id, `{"label":""}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if rec := ts.do(t, http.MethodDelete, "/api/priorities/low", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	prios = ts.board(t).Priorities
	if len(prios) != 4 || prios[0].ID != id || prios[1].ID != "urgent" {
		t.Fatalf("unexpected priorities: %#v", prios)
	}
}

func TestDropDispatch(t *testing.T) {
	ts := newTestServer(t, nil)
	a := ts.create(t, "/api/categories", `{"title":"A"}`)
	b := ts.create(t, "/api/categories", `{"title":"B"}`)
	b1 := ts.create(t, "/api/tasks", `{"title":"b1","categoryId":"`+b+`"}`)
	a1 := ts.create(t, "/api/tasks", `{"title":"a1","categoryId":"`+a+`"}`)

	// Column drop without an order hint appends.
	rec := ts.do(t, http.MethodPost, "/api/drop",
		`{"payload":{"application/x-drag-type":"task","application/x-drag-id":"`+a1+`"},"targetId":"`+b+`"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	tasks := ts.board(t).Tasks
	if got := findTask(tasks, a1); got.CategoryID != b || got.Order != 1 {
		t.Fatalf("unexpected dropped task: %#v", got)
	}
	if got := findTask(tasks, b1); got.Order != 0 {
		t.Fatalf("existing task moved: %#v", got)
	}

	// A payload without a type is a task; the priority zone changes priority.
	rec = ts.do(t, http.MethodPost, "/api/drop",
		`{"payload":{"text/plain":" `+a1+` "},"targetId":"medium","priorityZone":true}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if got := findTask(ts.board(t).Tasks, a1).PriorityID; got != "medium" {
		t.Fatalf("unexpected priority: %q", got)
	}

	// Category onto category reorders columns.
	rec = ts.do(t, http.MethodPost, "/api/drop",
		`{"payload":{"application/x-drag-type":"category","application/x-drag-id":"`+b+`"},"targetId":"`+a+`","order":0}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if cats := ts.board(t).Categories; cats[0].ID != b || cats[1].ID != a {
		t.Fatalf("unexpected category order: %#v", cats)
	}

	rec = ts.do(t, http.MethodPost, "/api/drop", `{"payload":{},"targetId":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty payload, got %d", rec.Code)
	}
}

func TestDraftRoutes(t *testing.T) {
	ts := newTestServer(t, nil)
	cat := ts.create(t, "/api/categories", `{"title":"A"}`)
	task := ts.create(t, "/api/tasks", `{"title":"t","categoryId":"`+cat+`"}`)

	if rec := ts.do(t, http.MethodPut, "/api/tasks/"+task+"/draft", `{"title":"draft 1"}`); rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	got := findTask(ts.board(t).Tasks, task)
	if got.Draft == nil || got.Draft.Title != "draft 1" || got.Title != "t" {
		t.Fatalf("unexpected draft: %#v", got)
	}
	if rec := ts.do(t, http.MethodDelete, "/api/tasks/"+task+"/draft", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if got := findTask(ts.board(t).Tasks, task); got.Draft != nil {
		t.Fatalf("expected cleared draft: %#v", got.Draft)
	}

	rec := ts.do(t, http.MethodGet, "/api/history", "")
	var history []domain.HistoryEntry
	decodeResponse(t, rec, &history)
	if len(history) != 2 {
		t.Fatalf("draft saves must not record history: %#v", history)
	}
}

func TestDraftSessionDebounces(t *testing.T) {
	ts := newTestServer(t, nil)
	cat := ts.create(t, "/api/categories", `{"title":"A"}`)
	task := ts.create(t, "/api/tasks", `{"title":"t","categoryId":"`+cat+`"}`)
	session := "/api/tasks/" + task + "/draft/session"

	observe := func(body string) bool {
		rec := ts.do(t, http.MethodPost, session, body)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("unexpected status: %d", rec.Code)
		}
		var resp draftSessionResponse
		decodeResponse(t, rec, &resp)
		return resp.Pending
	}

	if observe(`{"title":"t"}`) {
		t.Fatalf("baseline must not schedule a save")
	}
	if !observe(`{"title":"t edited"}`) {
		t.Fatalf("expected pending save")
	}
	ts.clock.Advance(500 * time.Millisecond)
	if !observe(`{"title":"t edited again"}`) {
		t.Fatalf("expected pending save")
	}
	ts.clock.Advance(500 * time.Millisecond)
	if got := findTask(ts.board(t).Tasks, task); got.Draft != nil {
		t.Fatalf("save fired before the delay elapsed: %#v", got.Draft)
	}
	ts.clock.Advance(500 * time.Millisecond)
	if got := findTask(ts.board(t).Tasks, task); got.Draft == nil || got.Draft.Title != "t edited again" {
		t.Fatalf("unexpected draft after debounce: %#v", got.Draft)
	}

	observe(`{"title":"flushed"}`)
	if rec := ts.do(t, http.MethodPost, "/api/tasks/"+task+"/draft/flush", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if got := findTask(ts.board(t).Tasks, task); got.Draft == nil || got.Draft.Title != "flushed" {
		t.Fatalf("unexpected draft after flush: %#v", got.Draft)
	}
}

func TestUserRoutes(t *testing.T) {
	ts := newTestServer(t, nil)

	rec := ts.do(t, http.MethodGet, "/api/me", "")
	var u domain.User
	decodeResponse(t, rec, &u)
	if u.ID != "user" || !u.NotificationSettings.Enabled || u.NotificationSettings.DaysBefore != 1 {
		t.Fatalf("unexpected user: %#v", u)
	}
	if u.Email != "user@example.com" || u.DisplayName != "User" {
		t.Fatalf("first login must seed the profile from the token: %#v", u)
	}

	rec = ts.do(t, http.MethodPut, "/api/me/notification-settings",
		`{"enabled":true,"daysBefore":0,"hoursBefore":6,"methods":["toast","email"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}
	rec = ts.do(t, http.MethodPost, "/api/me", `{"email":"a@example.com","displayName":"Ada"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}

	stored, err := ts.store.GetUser(context.Background(), "user")
	if err != nil || stored == nil {
		t.Fatalf("get user: %#v %v", stored, err)
	}
	if stored.Email != "a@example.com" || stored.NotificationSettings.HoursBefore != 6 ||
		!stored.NotificationSettings.Has(domain.NotifyEmail) {
		t.Fatalf("registration must keep settings: %#v", stored)
	}

	rec = ts.do(t, http.MethodPut, "/api/me/notification-settings", `{"methods":["carrier-pigeon"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	if rec := ts.do(t, http.MethodPost, "/api/logout", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	found := false
	for _, e := range ts.hook.AllEntries() {
		if e.Message == "user.logout" && e.Data["user"] == "user" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected user.logout log entry")
	}
}

func TestUnauthorized(t *testing.T) {
	st, err := sqlitestore.Open(filepath.Join(t.TempDir(), "board.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	auth, err := NewAuth(AuthConfig{SharedSecret: []byte("secret")})
	if err != nil {
		t.Fatalf("new auth: %v", err)
	}
	e := echo.New()
	srv := Register(context.Background(), e, st, auth, nil, subscription.NewHub(st, 0, nil), Config{}, nil)
	t.Cleanup(srv.Close)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/board", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	token, err := SignToken([]byte("secret"), Identity{UserID: "u1"}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/board", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz must not require auth: %d", rec.Code)
	}
}
