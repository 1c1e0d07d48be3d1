package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"reqdesk/api/internal/auth"
	"reqdesk/api/internal/mirror"
	"reqdesk/api/internal/pipeline"
	"reqdesk/api/internal/review"
	"reqdesk/api/internal/search"
	"reqdesk/api/internal/session"
)

type fakeWorkingCopy struct {
	calls []submission
	err   error
}

type submission struct {
	branch  string
	path    string
	content string
	message string
}

func (f *fakeWorkingCopy) CommitAndPush(branch, path, content, message string) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, submission{branch, path, content, message})
	return nil
}

type fakeReviews struct {
	opened []string
	result review.Review
	err    error
}

func (f *fakeReviews) OpenReview(ctx context.Context, head, title, body, base string) (review.Review, error) {
	if f.err != nil {
		return review.Review{}, f.err
	}
	f.opened = append(f.opened, head)
	return f.result, nil
}

func setupMirrorDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := []string{
		`CREATE TABLE requirements (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			type TEXT NOT NULL,
			priority TEXT NOT NULL,
			status TEXT NOT NULL,
			description_md TEXT
		)`,
		`CREATE TABLE relationships (
			source_req_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			relationship_type TEXT NOT NULL
		)`,
		`INSERT INTO requirements VALUES
			('PX-FNC-AUTH-LOGIN-00010', 'Login', 'Functional', 'High', 'Draft', 'User can log in.'),
			('PX-SEC-TLS-00020', 'TLS everywhere', 'SEC', 'Critical', 'Draft', 'All transport uses TLS.')`,
		`INSERT INTO relationships VALUES
			('PX-FNC-AUTH-LOGIN-00010', 'BLK-GATEWAY', 'satisfies')`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("setup schema: %v", err)
		}
	}
	return db
}

type testHarness struct {
	server  *HTTPServer
	service *Service
	wc      *fakeWorkingCopy
	reviews *fakeReviews
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	db := setupMirrorDB(t)

	wc := &fakeWorkingCopy{}
	reviews := &fakeReviews{result: review.Review{URL: "https://github.com/acme/corpus/pull/7", Number: 7}}

	svc := NewService(ServiceOptions{
		Mirror:     mirror.NewStore(db),
		Pipeline:   pipeline.New(wc, reviews, "main"),
		Search:     search.NewService(nil, search.NewSQLSearch(db)),
		Sessions:   session.NewMemoryStore(),
		JWTSecret:  []byte("test-secret"),
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	})
	return &testHarness{
		server:  NewHTTPServer(svc, "*"),
		service: svc,
		wc:      wc,
		reviews: reviews,
	}
}

func (h *testHarness) do(t *testing.T, method, path, body string, authenticated bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if authenticated {
		token, err := auth.IssueToken([]byte("test-secret"), auth.Principal{Login: "octocat"}, "jti-test", time.Hour)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var response map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response %q: %v", rr.Body.String(), err)
	}
	return response
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHarness(t)

	rr := h.do(t, http.MethodGet, "/api/health", "", false)
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	if ok := decodeResponse(t, rr)["ok"]; ok != true {
		t.Errorf("expected ok=true, got %v", ok)
	}
	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("expected CORS origin=*, got %v", origin)
	}
}

func TestReadyEndpoint(t *testing.T) {
	h := newTestHarness(t)

	rr := h.do(t, http.MethodGet, "/api/ready", "", false)
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	response := decodeResponse(t, rr)
	if response["status"] != "ready" {
		t.Errorf("expected status=ready, got %v", response["status"])
	}
}

func TestOptionsRequest(t *testing.T) {
	h := newTestHarness(t)

	rr := h.do(t, http.MethodOptions, "/api/requirements", "", false)
	if rr.Code != http.StatusNoContent {
		t.Errorf("expected status 204 for OPTIONS, got %d", rr.Code)
	}
}

func TestProtectedRoutesRequireBearer(t *testing.T) {
	h := newTestHarness(t)

	for _, path := range []string{"/api/requirements", "/api/relationships/graph", "/api/requirements/search?q=x"} {
		rr := h.do(t, http.MethodGet, path, "", false)
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("GET %s without token: expected 401, got %d", path, rr.Code)
		}
	}

	rr := h.do(t, http.MethodGet, "/api/requirements", "", true)
	if rr.Code != http.StatusOK {
		t.Errorf("GET /api/requirements with token: expected 200, got %d", rr.Code)
	}
}

func TestListRequirements(t *testing.T) {
	h := newTestHarness(t)

	rr := h.do(t, http.MethodGet, "/api/requirements", "", true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var items []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &items); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 requirements, got %d", len(items))
	}
	if items[0]["id"] != "PX-FNC-AUTH-LOGIN-00010" {
		t.Errorf("list not ordered by id: %v", items)
	}
	if _, ok := items[0]["description_md"]; ok {
		t.Errorf("list row should not carry description: %v", items[0])
	}
}

func TestGetRequirement(t *testing.T) {
	h := newTestHarness(t)

	rr := h.do(t, http.MethodGet, "/api/requirements/PX-FNC-AUTH-LOGIN-00010", "", true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	response := decodeResponse(t, rr)
	if response["description_md"] != "User can log in." {
		t.Errorf("expected full row with description, got %v", response)
	}
}

func TestGetRequirementNotFound(t *testing.T) {
	h := newTestHarness(t)

	rr := h.do(t, http.MethodGet, "/api/requirements/PX-NOPE-00000", "", true)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	if code := decodeResponse(t, rr)["code"]; code != "NOT_FOUND" {
		t.Errorf("expected code NOT_FOUND, got %v", code)
	}
}

func TestCreateRequirement(t *testing.T) {
	h := newTestHarness(t)

	body := `{
		"id": "PX-FNC-AUTH-LOGIN-00010",
		"name": "Login",
		"type": "Functional",
		"priority": "High",
		"status": "Draft",
		"description_md": "User can log in.",
		"tags": "auth,login"
	}`
	rr := h.do(t, http.MethodPost, "/api/requirements", body, true)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	response := decodeResponse(t, rr)
	if response["filePath"] != "requirements/functional/PX-FNC-AUTH-LOGIN-00010.md" {
		t.Errorf("filePath = %v", response["filePath"])
	}
	branch, _ := response["branch"].(string)
	if !regexp.MustCompile(`^feat/req-PX-FNC-AUTH-LOGIN-00010-\d+$`).MatchString(branch) {
		t.Errorf("branch = %q", branch)
	}
	if response["pullRequestUrl"] != "https://github.com/acme/corpus/pull/7" {
		t.Errorf("pullRequestUrl = %v", response["pullRequestUrl"])
	}

	if len(h.wc.calls) != 1 {
		t.Fatalf("CommitAndPush calls = %d", len(h.wc.calls))
	}
	content := h.wc.calls[0].content
	if !strings.HasPrefix(content, "---\n") ||
		!strings.Contains(content, "id: PX-FNC-AUTH-LOGIN-00010") ||
		!strings.Contains(content, "tags: [auth, login]") ||
		!strings.Contains(content, "# PX-FNC-AUTH-LOGIN-00010: Login") {
		t.Errorf("committed document not canonical:\n%s", content)
	}
}

func TestCreateRequirementMissingField(t *testing.T) {
	h := newTestHarness(t)

	body := `{
		"id": "PX-FNC-AUTH-LOGIN-00010",
		"name": "Login",
		"type": "Functional",
		"priority": "High",
		"status": "Draft"
	}`
	rr := h.do(t, http.MethodPost, "/api/requirements", body, true)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if code := decodeResponse(t, rr)["code"]; code != "VALIDATION_ERROR" {
		t.Errorf("expected code VALIDATION_ERROR, got %v", code)
	}
	if len(h.wc.calls) != 0 || len(h.reviews.opened) != 0 {
		t.Errorf("side effects after validation failure: %v %v", h.wc.calls, h.reviews.opened)
	}
}

func TestUpdateRequirement(t *testing.T) {
	h := newTestHarness(t)

	body := `{
		"id": "IGNORED-BY-SERVER",
		"name": "Login",
		"type": "Functional",
		"priority": "High",
		"status": "Approved",
		"description_md": "User can log in with GitHub."
	}`
	rr := h.do(t, http.MethodPut, "/api/requirements/PX-FNC-AUTH-LOGIN-00010", body, true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	response := decodeResponse(t, rr)
	branch, _ := response["branch"].(string)
	if !regexp.MustCompile(`^fix/req-PX-FNC-AUTH-LOGIN-00010-\d+$`).MatchString(branch) {
		t.Errorf("branch = %q", branch)
	}
	if !strings.Contains(h.wc.calls[0].content, "id: PX-FNC-AUTH-LOGIN-00010") {
		t.Errorf("path id did not win over payload id:\n%s", h.wc.calls[0].content)
	}
}

func TestGraphEndpoint(t *testing.T) {
	h := newTestHarness(t)

	rr := h.do(t, http.MethodGet, "/api/relationships/graph", "", true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var graph struct {
		Nodes []map[string]any `json:"nodes"`
		Links []map[string]any `json:"links"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &graph); err != nil {
		t.Fatalf("parse graph: %v", err)
	}
	if len(graph.Links) != 1 {
		t.Fatalf("links = %v", graph.Links)
	}

	// The link target is not a mirrored requirement; the closure rule must
	// synthesise a placeholder node for it.
	ids := make(map[string]map[string]any)
	for _, node := range graph.Nodes {
		ids[node["id"].(string)] = node
	}
	placeholder, ok := ids["BLK-GATEWAY"]
	if !ok {
		t.Fatalf("no placeholder node for BLK-GATEWAY: %v", graph.Nodes)
	}
	if placeholder["type"] != "External/Block" || placeholder["status"] != "N/A" {
		t.Errorf("placeholder node = %v", placeholder)
	}
}

func TestSearchEndpoint(t *testing.T) {
	h := newTestHarness(t)

	rr := h.do(t, http.MethodGet, "/api/requirements/search?q=TLS", "", true)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	response := decodeResponse(t, rr)
	if response["total"] != float64(1) {
		t.Errorf("total = %v", response["total"])
	}
	if response["query"] != "TLS" {
		t.Errorf("query echo = %v", response["query"])
	}
}

func TestSearchEndpointRejectsBadLimit(t *testing.T) {
	h := newTestHarness(t)

	rr := h.do(t, http.MethodGet, "/api/requirements/search?q=x&limit=ten", "", true)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestSessionEndpoint(t *testing.T) {
	h := newTestHarness(t)

	rr := h.do(t, http.MethodGet, "/api/session", "", false)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if authenticated := decodeResponse(t, rr)["authenticated"]; authenticated != false {
		t.Errorf("expected authenticated=false, got %v", authenticated)
	}

	rr = h.do(t, http.MethodGet, "/api/session", "", true)
	response := decodeResponse(t, rr)
	if response["authenticated"] != true {
		t.Errorf("expected authenticated=true, got %v", response)
	}
	user, _ := response["user"].(map[string]any)
	if user["login"] != "octocat" {
		t.Errorf("user = %v", user)
	}
}

func TestRefreshRotation(t *testing.T) {
	h := newTestHarness(t)

	sess, err := h.service.issueSession(context.Background(), auth.Principal{Login: "octocat"})
	if err != nil {
		t.Fatalf("issueSession: %v", err)
	}

	body := `{"refreshToken": "` + sess.RefreshToken + `"}`
	rr := h.do(t, http.MethodPost, "/api/auth/refresh", body, false)
	if rr.Code != http.StatusOK {
		t.Fatalf("refresh: expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	response := decodeResponse(t, rr)
	if response["refreshToken"] == sess.RefreshToken {
		t.Error("refresh token was not rotated")
	}

	// The old token is revoked on rotation; replaying it must fail.
	rr = h.do(t, http.MethodPost, "/api/auth/refresh", body, false)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("replayed refresh: expected 401, got %d", rr.Code)
	}
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	h := newTestHarness(t)

	sess, err := h.service.issueSession(context.Background(), auth.Principal{Login: "octocat"})
	if err != nil {
		t.Fatalf("issueSession: %v", err)
	}

	body := `{"refreshToken": "` + sess.RefreshToken + `"}`
	rr := h.do(t, http.MethodPost, "/api/auth/logout", body, false)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout: expected status 200, got %d", rr.Code)
	}

	rr = h.do(t, http.MethodPost, "/api/auth/refresh", body, false)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("refresh after logout: expected 401, got %d", rr.Code)
	}
}

func TestOAuthCallbackUnavailableWithoutConfig(t *testing.T) {
	h := newTestHarness(t)

	rr := h.do(t, http.MethodPost, "/api/auth/github/callback", `{"code": "abc"}`, false)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
	if code := decodeResponse(t, rr)["code"]; code != "AUTH_UNAVAILABLE" {
		t.Errorf("expected code AUTH_UNAVAILABLE, got %v", code)
	}
}

func TestUnknownRoute(t *testing.T) {
	h := newTestHarness(t)

	rr := h.do(t, http.MethodGet, "/api/nope", "", true)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
}
