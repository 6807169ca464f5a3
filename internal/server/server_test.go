package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"

	"stepline/internal/config"
	"stepline/internal/db"
	"stepline/internal/domain"
	"stepline/internal/engine"
	"stepline/internal/migrate"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig, devLogin bool) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth, DevLogin: devLogin})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func legacyServer(t *testing.T) (*testServer, func()) {
	return newTestServer(t, AuthConfig{AllowLegacyActorHeader: true}, false)
}

func actor(id string) map[string]string {
	return map[string]string{"X-Actor-Id": id}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

type errorEnvelope struct {
	Error apiErrorBody `json:"error"`
}

func expectError(t *testing.T, res *http.Response, data []byte, status int, code string) apiErrorBody {
	t.Helper()
	if res.StatusCode != status {
		t.Fatalf("expected status %d, got %d: %s", status, res.StatusCode, string(data))
	}
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	if env.Error.Code != code {
		t.Fatalf("expected code %s, got %s: %s", code, env.Error.Code, env.Error.Message)
	}
	return env.Error
}

// importCourse creates Course with Alpha and Beta, Beta waiting on Alpha.
func importCourse(t *testing.T, srv *testServer) engine.ImportResult {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/roots", map[string]any{
		"title": "Course",
		"children": []map[string]any{
			{"key": "a", "title": "Alpha"},
			{"key": "b", "title": "Beta", "blocks_on": []string{"a"}},
		},
	}, actor("admin"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("import status %d: %s", res.StatusCode, string(data))
	}
	var out engine.ImportResult
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal import: %v", err)
	}
	if out.Items != 3 || out.Edges != 1 {
		t.Fatalf("unexpected import result %+v", out)
	}
	return out
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{}, false)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "ok") {
		t.Fatalf("health %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/roots", nil, nil)
	expectError(t, res, data, http.StatusUnauthorized, "unauthorized")
}

func TestProgressFlow(t *testing.T) {
	srv, cleanup := legacyServer(t)
	defer cleanup()
	client := srv.Client()
	imported := importCourse(t, srv)
	rootID, alpha, beta := imported.Root.ID, imported.IDs["a"], imported.IDs["b"]

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/roots/"+rootID+"/ready", nil, actor("x"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("ready status %d: %s", res.StatusCode, string(data))
	}
	var ready ReadyResponse
	if err := json.Unmarshal(data, &ready); err != nil {
		t.Fatal(err)
	}
	if ready.ActorID != "x" || len(ready.Items) != 1 || ready.Items[0].Item.ID != alpha {
		t.Fatalf("only alpha should be ready: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/items/"+beta+"/start", nil, actor("x"))
	apiErr := expectError(t, res, data, http.StatusConflict, "blocked")
	if !strings.Contains(apiErr.Message, `"Alpha"`) {
		t.Fatalf("blocked message should name Alpha: %s", apiErr.Message)
	}
	if blockers, _ := apiErr.Details["blocked_by"].([]any); len(blockers) != 1 || blockers[0] != alpha {
		t.Fatalf("unexpected blocked_by details: %v", apiErr.Details)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/items/"+alpha+"/start", nil, actor("x"))
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"new_status":"IN_PROGRESS"`) {
		t.Fatalf("start alpha %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/items/"+alpha+"/close", map[string]any{"reason": "done"}, actor("x"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("close alpha %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/items/"+rootID+"/start", nil, actor("x"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start root %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/items/"+rootID+"/close", map[string]any{}, actor("x"))
	apiErr = expectError(t, res, data, http.StatusUnprocessableEntity, "closure_refused")
	if apiErr.Details["child_id"] != beta {
		t.Fatalf("refusal should name beta: %v", apiErr.Details)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/items/"+beta+"/start", nil, actor("x"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("start beta %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/items/"+beta+"/close", map[string]any{}, actor("x"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("close beta %d: %s", res.StatusCode, string(data))
	}
	var closed engine.TransitionResult
	if err := json.Unmarshal(data, &closed); err != nil {
		t.Fatal(err)
	}
	if len(closed.AutoClosed) != 1 || closed.AutoClosed[0] != rootID {
		t.Fatalf("root should auto-close: %+v", closed)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/items/"+rootID+"/progress", nil, actor("x"))
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"status":"CLOSED"`) {
		t.Fatalf("root progress %d: %s", res.StatusCode, string(data))
	}
	// another actor is untouched
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/items/"+rootID+"/progress", nil, actor("y"))
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"status":"OPEN"`) {
		t.Fatalf("other actor progress %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/items/"+rootID+"/reopen", map[string]any{"reason": "again"}, actor("x"))
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"new_status":"OPEN"`) {
		t.Fatalf("reopen root %d: %s", res.StatusCode, string(data))
	}
}

func TestErrorMapping(t *testing.T) {
	srv, cleanup := legacyServer(t)
	defer cleanup()
	client := srv.Client()
	imported := importCourse(t, srv)
	alpha, beta := imported.IDs["a"], imported.IDs["b"]

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/edges", map[string]any{"from": alpha, "to": beta}, actor("admin"))
	expectError(t, res, data, http.StatusConflict, "cycle_detected")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/edges", map[string]any{"from": beta, "to": alpha}, actor("admin"))
	expectError(t, res, data, http.StatusConflict, "duplicate")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/edges", map[string]any{"from": alpha, "to": beta, "kind": "related"}, actor("admin"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("related edge %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/items/nope-0000", nil, actor("x"))
	expectError(t, res, data, http.StatusNotFound, "not_found")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/items/"+alpha+"/transition", map[string]any{"status": "done"}, actor("x"))
	expectError(t, res, data, http.StatusBadRequest, "bad_request")

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/items/"+alpha+"/transition", map[string]any{"status": "closed"}, actor("x"))
	apiErr := expectError(t, res, data, http.StatusConflict, "invalid_transition")
	if apiErr.Details["from"] != string(domain.StatusOpen) {
		t.Fatalf("transition details: %v", apiErr.Details)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/roots/"+imported.Root.ID+"/ready?type=WIDGET", nil, actor("x"))
	expectError(t, res, data, http.StatusBadRequest, "bad_request")

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/edges/"+beta+"/"+alpha, nil, actor("admin"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("remove edge %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v0/edges/"+beta+"/"+alpha, nil, actor("admin"))
	expectError(t, res, data, http.StatusNotFound, "not_found")
}

func TestEvidenceEndpoint(t *testing.T) {
	srv, cleanup := legacyServer(t)
	defer cleanup()
	client := srv.Client()
	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/roots", map[string]any{
		"title": "Essays",
		"children": []map[string]any{
			{"key": "essay", "title": "Essay", "criteria": map[string]any{"mode": "evidence", "min_length": 5}},
		},
	}, actor("admin"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("import %d: %s", res.StatusCode, string(data))
	}
	var imported engine.ImportResult
	if err := json.Unmarshal(data, &imported); err != nil {
		t.Fatal(err)
	}
	essay := imported.IDs["essay"]

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/items/"+essay+"/can-close", nil, actor("x"))
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), `"missing_evidence":true`) {
		t.Fatalf("can-close before evidence %d: %s", res.StatusCode, string(data))
	}
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/items/"+essay+"/start", nil, actor("x"))
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/items/"+essay+"/evidence", map[string]any{
		"content":       "long enough",
		"close_on_pass": true,
	}, actor("x"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("submit %d: %s", res.StatusCode, string(data))
	}
	var submitted engine.SubmitResult
	if err := json.Unmarshal(data, &submitted); err != nil {
		t.Fatal(err)
	}
	if !submitted.ValidationPassed || submitted.Closed == nil || submitted.Closed.To != domain.StatusClosed {
		t.Fatalf("evidence should close the essay: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/items/"+essay+"/submissions", nil, actor("x"))
	var subs SubmissionListResponse
	if err := json.Unmarshal(data, &subs); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("submissions %d: %s", res.StatusCode, string(data))
	}
	if len(subs.Items) != 1 || subs.Items[0].Attempt != 1 {
		t.Fatalf("unexpected submissions %+v", subs.Items)
	}
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := legacyServer(t)
	defer cleanup()
	client := srv.Client()
	imported := importCourse(t, srv)

	url := srv.URL + "/v0/roots/" + imported.Root.ID + "/events?limit=2"
	res, data := doJSON(t, client, http.MethodGet, url, nil, actor("x"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events %d: %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatal(err)
	}
	// three item.created events plus one edge.added
	if len(page.Items) != 2 || page.NextCursor == "" || page.Items[0].Type != "edge.added" {
		t.Fatalf("unexpected first page %+v", page)
	}
	res, data = doJSON(t, client, http.MethodGet, url+"&cursor="+page.NextCursor, nil, actor("x"))
	var next paginatedEvents
	if err := json.Unmarshal(data, &next); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("second page %d: %s", res.StatusCode, string(data))
	}
	if len(next.Items) != 2 || next.NextCursor != "" || next.Items[0].ID >= page.Items[1].ID {
		t.Fatalf("unexpected second page %+v", next)
	}

	res, data = doJSON(t, client, http.MethodGet, url+"&cursor=abc", nil, actor("x"))
	expectError(t, res, data, http.StatusBadRequest, "bad_request")
}

func TestJWTAuth(t *testing.T) {
	srv, cleanup := newTestServer(t, AuthConfig{JWTSecret: "s3cret"}, true)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{"actor_id": "learner-1"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil || login.Token == "" {
		t.Fatalf("token: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + login.Token})
	var who WhoAmIResponse
	if err := json.Unmarshal(data, &who); err != nil || res.StatusCode != http.StatusOK {
		t.Fatalf("me %d: %s", res.StatusCode, string(data))
	}
	if who.ActorID != "learner-1" || who.Source != "jwt" {
		t.Fatalf("unexpected principal %+v", who)
	}

	other, err := SignToken("other-secret", "learner-1", 0)
	if err != nil {
		t.Fatal(err)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{"Authorization": "Bearer " + other})
	expectError(t, res, data, http.StatusUnauthorized, "invalid_credentials")

	// the legacy header is refused unless enabled
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, actor("learner-1"))
	expectError(t, res, data, http.StatusUnauthorized, "unauthorized")
}
