package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kanban/internal/auth"
	"kanban/internal/cards"
	"kanban/internal/models"
	"kanban/internal/projects"
	"kanban/internal/realtime"
	"kanban/internal/session"
	"kanban/internal/storage/sqlite"
)

type testEnv struct {
	srv   *Server
	store *sqlite.Store
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "kanban.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	hub := realtime.NewHub(store, nil)
	srv := New(Deps{
		Auth:     auth.NewService(store, "test-secret", time.Hour, nil),
		Cards:    cards.NewService(store, store, hub, nil),
		Projects: projects.NewService(store, hub, nil),
		Hub:      hub,
		Health:   store,
	}, Config{AllowedOrigins: []string{"http://localhost:5173"}}, nil)
	return testEnv{srv: srv, store: store}
}

func (e testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.srv.Engine().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder, key string) T {
	t.Helper()
	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope), rec.Body.String())
	var out T
	require.NoError(t, json.Unmarshal(envelope[key], &out))
	return out
}

func (e testEnv) register(t *testing.T, email, name string) (models.User, string) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/auth/register", "", gin.H{"email": email, "password": "secret123", "name": name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[models.User](t, rec, "user"), decode[string](t, rec, "accessToken")
}

func (e testEnv) project(t *testing.T, token string) models.Project {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/projects", token, gin.H{"name": "Launch"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[models.Project](t, rec, "project")
}

func (e testEnv) card(t *testing.T, token, projectID, title string) models.Card {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/cards", token, gin.H{"projectId": projectID, "title": title})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[models.Card](t, rec, "card")
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, http.MethodGet, "/api/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthFlow(t *testing.T) {
	e := newTestEnv(t)
	user, token := e.register(t, "ada@example.com", "Ada")

	rec := e.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, user.ID, decode[models.User](t, rec, "user").ID)

	rec = e.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "ada@example.com", "password": "secret123"})
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, tokenCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(cookies[0])
	cookieRec := httptest.NewRecorder()
	e.srv.Engine().ServeHTTP(cookieRec, req)
	assert.Equal(t, http.StatusOK, cookieRec.Code)

	rec = e.do(t, http.MethodPost, "/api/auth/login", "", gin.H{"email": "ada@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/auth/register", "", gin.H{"email": "ADA@example.com", "password": "secret123", "name": "Ada"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRegisterValidation(t *testing.T) {
	e := newTestEnv(t)
	tests := []struct {
		name  string
		body  gin.H
		field string
	}{
		{name: "bad email", body: gin.H{"email": "nope", "password": "secret123", "name": "A"}, field: "email"},
		{name: "short password", body: gin.H{"email": "a@example.com", "password": "123", "name": "A"}, field: "password"},
		{name: "missing name", body: gin.H{"email": "a@example.com", "password": "secret123"}, field: "name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPost, "/api/auth/register", "", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.field, errorBody(t, rec)["field"])
		})
	}
}

func TestRoutesRequireAuthentication(t *testing.T) {
	e := newTestEnv(t)
	for _, path := range []string{"/api/projects/my-projects", "/api/cards/project/x", "/api/ws"} {
		rec := e.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
	rec := e.do(t, http.MethodGet, "/api/cards/x", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCardLifecycle(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.register(t, "owner@example.com", "Owner")
	p := e.project(t, token)

	a := e.card(t, token, p.ID, "A")
	b := e.card(t, token, p.ID, "B")
	e.card(t, token, p.ID, "C")
	assert.Equal(t, 1, b.Position)

	rec := e.do(t, http.MethodPut, "/api/cards/"+a.ID+"/status", token, gin.H{"status": "in_progress", "position": 0})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	moved := decode[models.Card](t, rec, "card")
	assert.Equal(t, models.StatusInProgress, moved.Status)

	rec = e.do(t, http.MethodPut, "/api/cards/"+b.ID, token, gin.H{"title": "B2", "link": "https://example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[models.Card](t, rec, "card")
	assert.Equal(t, "B2", updated.Title)
	assert.Equal(t, 0, updated.Position)

	rec = e.do(t, http.MethodGet, "/api/cards/project/"+p.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]models.Card](t, rec, "cards")
	require.Len(t, list, 3)
	var backlog []string
	for _, c := range list {
		if c.Status == models.StatusBacklog {
			backlog = append(backlog, c.Title)
		}
	}
	assert.Equal(t, []string{"B2", "C"}, backlog)

	rec = e.do(t, http.MethodDelete, "/api/cards/"+b.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, http.MethodGet, "/api/cards/"+b.ID, token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMoveValidation(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.register(t, "owner@example.com", "Owner")
	p := e.project(t, token)
	c := e.card(t, token, p.ID, "A")

	tests := []struct {
		name  string
		body  gin.H
		field string
	}{
		{name: "unknown status", body: gin.H{"status": "archived", "position": 0}, field: "status"},
		{name: "negative position", body: gin.H{"status": "backlog", "position": -1}, field: "position"},
		{name: "missing position", body: gin.H{"status": "backlog"}, field: "position"},
		{name: "past end of bucket", body: gin.H{"status": "backlog", "position": 1}, field: "position"},
		{name: "past end of target bucket", body: gin.H{"status": "planned", "position": 1}, field: "position"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := e.do(t, http.MethodPut, "/api/cards/"+c.ID+"/status", token, tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, tt.field, errorBody(t, rec)["field"])
		})
	}

	rec := e.do(t, http.MethodPost, "/api/cards", token, gin.H{"projectId": p.ID})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "title", errorBody(t, rec)["field"])
}

func TestNotFoundAndForbidden(t *testing.T) {
	e := newTestEnv(t)
	_, ownerToken := e.register(t, "owner@example.com", "Owner")
	_, outsiderToken := e.register(t, "outsider@example.com", "Outsider")
	p := e.project(t, ownerToken)
	c := e.card(t, ownerToken, p.ID, "A")

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/cards/"+c.ID, outsiderToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodDelete, "/api/cards/"+c.ID, outsiderToken, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "/api/cards/project/"+p.ID, outsiderToken, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "/api/projects/"+p.ID, outsiderToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/cards/project/nope", ownerToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/unknown", ownerToken, nil).Code)
}

func TestProjectMembership(t *testing.T) {
	e := newTestEnv(t)
	_, ownerToken := e.register(t, "owner@example.com", "Owner")
	guest, guestToken := e.register(t, "guest@example.com", "Guest")
	p := e.project(t, ownerToken)

	rec := e.do(t, http.MethodPost, "/api/projects/"+p.ID+"/members", guestToken, gin.H{"email": "guest@example.com"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = e.do(t, http.MethodPost, "/api/projects/"+p.ID+"/members", ownerToken, gin.H{"email": "guest@example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[models.Project](t, rec, "project").Members, 2)

	rec = e.do(t, http.MethodGet, "/api/projects/invited-projects", guestToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]models.Project](t, rec, "projects"), 1)

	c := e.card(t, guestToken, p.ID, "from guest")
	rec = e.do(t, http.MethodPut, "/api/cards/"+c.ID, ownerToken, gin.H{"title": "assigned", "assigneeIds": []string{guest.ID}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Len(t, decode[models.Card](t, rec, "card").Assignees, 1)

	rec = e.do(t, http.MethodDelete, "/api/projects/"+p.ID+"/members/"+guest.ID, ownerToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/cards/"+c.ID, guestToken, nil).Code)

	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodDelete, "/api/projects/"+p.ID, guestToken, nil).Code)
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, "/api/projects/"+p.ID, ownerToken, nil).Code)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/cards/"+c.ID, ownerToken, nil).Code)
}

func TestCORSPreflight(t *testing.T) {
	e := newTestEnv(t)

	preflight := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodOptions, "/api/cards", nil)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPut)
		rec := httptest.NewRecorder()
		e.srv.Engine().ServeHTTP(rec, req)
		return rec
	}

	rec := preflight("http://localhost:5173")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPut)
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")

	assert.Equal(t, http.StatusForbidden, preflight("http://evil.example").Code)

	req := httptest.NewRequest(http.MethodGet, "/api/healthz", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec = httptest.NewRecorder()
	e.srv.Engine().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestOriginMatcher(t *testing.T) {
	match := originMatcher([]string{"http://localhost:5173"})
	assert.True(t, match("http://localhost:5173"))
	assert.False(t, match("http://evil.example"))
	assert.True(t, originMatcher([]string{"*"})("http://anything.example"))

	req := httptest.NewRequest(http.MethodGet, "/api/ws", nil)
	assert.True(t, originAllowed(nil, req))
	req.Header.Set("Origin", "http://"+req.Host)
	assert.True(t, originAllowed(nil, req))
	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, originAllowed([]string{"http://localhost:5173"}, req))
}

func TestMetricsExposeCardMutations(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.register(t, "owner@example.com", "Owner")
	p := e.project(t, token)
	e.card(t, token, p.ID, "A")

	rec := e.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kanban_card_mutations_total")
}

func dialWS(t *testing.T, ts *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestRealtimeDeliversEventsToMembersOnly(t *testing.T) {
	e := newTestEnv(t)
	_, ownerToken := e.register(t, "owner@example.com", "Owner")
	_, outsiderToken := e.register(t, "outsider@example.com", "Outsider")
	p := e.project(t, ownerToken)

	ts := httptest.NewServer(e.srv.Engine())
	defer ts.Close()

	owner := dialWS(t, ts, ownerToken)
	require.NoError(t, owner.WriteJSON(gin.H{"type": "joinProject", "projectId": p.ID}))
	assert.Equal(t, "joined", readMessage(t, owner)["type"])

	outsider := dialWS(t, ts, outsiderToken)
	require.NoError(t, outsider.WriteJSON(gin.H{"type": "joinProject", "projectId": p.ID}))
	assert.Equal(t, "error", readMessage(t, outsider)["type"])

	c := e.card(t, ownerToken, p.ID, "A")
	rec := e.do(t, http.MethodPut, "/api/cards/"+c.ID+"/status", ownerToken, gin.H{"status": "testing", "position": 0})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, http.StatusOK, e.do(t, http.MethodDelete, "/api/cards/"+c.ID, ownerToken, nil).Code)

	var types []string
	for i := 0; i < 3; i++ {
		msg := readMessage(t, owner)
		assert.Equal(t, p.ID, msg["projectId"])
		types = append(types, msg["type"].(string))
	}
	assert.Equal(t, []string{"cardCreated", "cardMoved", "cardDeleted"}, types)
}

func titles(cards []models.Card) []string {
	out := make([]string, 0, len(cards))
	for _, c := range cards {
		out = append(out, c.Title)
	}
	return out
}

func TestFollowerTracksBoard(t *testing.T) {
	e := newTestEnv(t)
	_, token := e.register(t, "owner@example.com", "Owner")
	p := e.project(t, token)
	a := e.card(t, token, p.ID, "A")

	ts := httptest.NewServer(e.srv.Engine())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	boards := make(chan map[models.Status][]models.Card, 16)
	f := &session.Follower{
		BaseURL:   ts.URL,
		Token:     token,
		ProjectID: p.ID,
		OnChange: func(b *session.Board) {
			select {
			case boards <- b.Columns():
			case <-ctx.Done():
			}
		},
	}
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	waitFor := func(want map[models.Status][]string) map[models.Status][]models.Card {
		t.Helper()
		timeout := time.After(5 * time.Second)
		for {
			select {
			case cols := <-boards:
				match := true
				for _, status := range models.Statuses {
					if !assert.ObjectsAreEqual(append([]string{}, want[status]...), titles(cols[status])) {
						match = false
					}
				}
				if match {
					return cols
				}
			case err := <-done:
				t.Fatalf("follower stopped: %v", err)
			case <-timeout:
				t.Fatalf("board never reached %v", want)
			}
		}
	}

	// Every column the follower shows must match the server's listing,
	// positions included.
	matchesServer := func(cols map[models.Status][]models.Card) {
		t.Helper()
		rec := e.do(t, http.MethodGet, "/api/cards/project/"+p.ID, token, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		server := map[models.Status][]models.Card{}
		for _, c := range decode[[]models.Card](t, rec, "cards") {
			server[c.Status] = append(server[c.Status], c)
		}
		for _, status := range models.Statuses {
			require.Len(t, cols[status], len(server[status]), status)
			for i, c := range server[status] {
				assert.Equal(t, c.ID, cols[status][i].ID, status)
				assert.Equal(t, c.Position, cols[status][i].Position, c.Title)
			}
		}
	}

	waitFor(map[models.Status][]string{models.StatusBacklog: {"A"}})

	e.card(t, token, p.ID, "B")
	c := e.card(t, token, p.ID, "C")
	matchesServer(waitFor(map[models.Status][]string{models.StatusBacklog: {"A", "B", "C"}}))

	rec := e.do(t, http.MethodPut, "/api/cards/"+c.ID+"/status", token, gin.H{"status": "backlog", "position": 0})
	require.Equal(t, http.StatusOK, rec.Code)
	matchesServer(waitFor(map[models.Status][]string{models.StatusBacklog: {"C", "A", "B"}}))

	rec = e.do(t, http.MethodPut, "/api/cards/"+a.ID+"/status", token, gin.H{"status": "finished", "position": 0})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = e.do(t, http.MethodPut, "/api/cards/"+c.ID+"/status", token, gin.H{"status": "finished", "position": 1})
	require.Equal(t, http.StatusOK, rec.Code)
	matchesServer(waitFor(map[models.Status][]string{
		models.StatusBacklog:  {"B"},
		models.StatusFinished: {"A", "C"},
	}))

	rec = e.do(t, http.MethodDelete, "/api/cards/"+a.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	matchesServer(waitFor(map[models.Status][]string{
		models.StatusBacklog:  {"B"},
		models.StatusFinished: {"C"},
	}))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("follower did not stop")
	}
}
