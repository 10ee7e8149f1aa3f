package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fentz26/agora/internal/audit"
	"github.com/fentz26/agora/internal/connectors"
	"github.com/fentz26/agora/internal/metrics"
	"github.com/fentz26/agora/internal/models"
	"github.com/fentz26/agora/internal/store"
)

func newTestServer(t *testing.T, cfg ServerConfig) (*Server, *store.Store) {
	t.Helper()
	exec := &fakeExecutor{outcome: connectors.Outcome{OverallScore: 90, TagScores: map[string]int{"go": 95}}}
	svc, st := newTestService(t, exec, nil)
	m := metrics.NewCollector()
	svc.SetMetrics(m)
	server := NewServer(svc, cfg)
	server.SetMetrics(m)
	return server, st
}

func do(t *testing.T, h http.Handler, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint_OK(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{})

	w := do(t, s.Handler(), http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var health HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if !health.OK {
		t.Error("Expected health.OK to be true")
	}
	if health.DB != "ok" {
		t.Errorf("Expected DB status 'ok', got '%s'", health.DB)
	}
	if health.Version == "" || health.Time == "" {
		t.Error("Expected version and time to be set")
	}
}

func TestHealthEndpoint_DBError(t *testing.T) {
	s, st := newTestServer(t, ServerConfig{})

	// Close the store to simulate DB error
	st.Close()

	w := do(t, s.Handler(), http.MethodGet, "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
	var health HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if health.OK || health.DB == "ok" {
		t.Errorf("Expected unhealthy response, got %+v", health)
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{})
	h := s.Handler()

	w := do(t, h, http.MethodPost, "/agents", map[string]any{
		"id":               "a1",
		"capabilities":     map[string]int{"go": 90},
		"exploration_rate": 0,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 registering agent, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodPost, "/tasks", map[string]any{
		"title":                 "Write handler",
		"required_capabilities": []string{"Go"},
		"reward":                50,
		"min_bid":               10,
		"max_bid":               100,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201 creating task, got %d: %s", w.Code, w.Body.String())
	}
	var task models.Task
	if err := json.NewDecoder(w.Body).Decode(&task); err != nil {
		t.Fatalf("Failed to decode task: %v", err)
	}

	w = do(t, h, http.MethodGet, "/tasks/"+task.ID+"/bids", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 evaluating bids, got %d", w.Code)
	}

	w = do(t, h, http.MethodPost, "/tasks/"+task.ID+"/award", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 awarding, got %d: %s", w.Code, w.Body.String())
	}
	w = do(t, h, http.MethodPost, "/tasks/"+task.ID+"/award", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 on second award, got %d", w.Code)
	}

	w = do(t, h, http.MethodPost, "/tasks/"+task.ID+"/execute", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 executing, got %d: %s", w.Code, w.Body.String())
	}
	var result ExecutionResult
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if result.Task.Status != models.TaskStatusCompleted || len(result.Learning) != 1 {
		t.Errorf("Unexpected execution result: %+v", result)
	}

	w = do(t, h, http.MethodGet, "/tasks/"+task.ID+"/runs", nil)
	var runs []models.Run
	if err := json.NewDecoder(w.Body).Decode(&runs); err != nil {
		t.Fatalf("Failed to decode runs: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("Expected 1 run, got %d", len(runs))
	}

	w = do(t, h, http.MethodPost, "/learning", models.LearningEvent{AgentID: "a1", TaskID: task.ID, Score: 10})
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate learning event, got %d", w.Code)
	}

	w = do(t, h, http.MethodGet, "/metrics", nil)
	if !strings.Contains(w.Body.String(), "agora_") {
		t.Error("Expected agora metrics to be exposed")
	}
}

func TestErrorMapping(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{})
	h := s.Handler()

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		kind   models.ErrorKind
	}{
		{"unknown task", http.MethodGet, "/tasks/missing", nil, http.StatusNotFound, models.KindNotFound},
		{"empty capabilities", http.MethodPost, "/tasks", map[string]any{"title": "x"}, http.StatusBadRequest, models.KindValidation},
		{"bad status filter", http.MethodGet, "/tasks?status=bogus", nil, http.StatusBadRequest, models.KindValidation},
		{"bad max size", http.MethodGet, "/tasks/any/team?max_size=-1", nil, http.StatusBadRequest, models.KindValidation},
		{"unknown agent", http.MethodPost, "/agents/ghost/deactivate", nil, http.StatusNotFound, models.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.method, tt.path, tt.body)
			if w.Code != tt.status {
				t.Fatalf("Expected status %d, got %d: %s", tt.status, w.Code, w.Body.String())
			}
			var body map[string]any
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("Failed to decode error: %v", err)
			}
			if body["kind"] != string(tt.kind) {
				t.Errorf("Expected kind %s, got %v", tt.kind, body["kind"])
			}
		})
	}
}

func TestDecideTeam_CapacityReturnsEmptyTeam(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{})
	h := s.Handler()

	w := do(t, h, http.MethodPost, "/tasks", map[string]any{"title": "x", "required_capabilities": []string{"rust"}})
	var task models.Task
	if err := json.NewDecoder(w.Body).Decode(&task); err != nil {
		t.Fatalf("Failed to decode task: %v", err)
	}

	w = do(t, h, http.MethodGet, "/tasks/"+task.ID+"/team", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var ta models.TeamAssignment
	if err := json.NewDecoder(w.Body).Decode(&ta); err != nil {
		t.Fatalf("Failed to decode team: %v", err)
	}
	if len(ta.Members) != 0 || ta.Reason == "" {
		t.Errorf("Expected empty team with a reason, got %+v", ta)
	}
}

func TestAuthMiddleware(t *testing.T) {
	const secret = "test-secret"
	s, _ := newTestServer(t, ServerConfig{JWTSecret: secret})
	h := s.Handler()

	if w := do(t, h, http.MethodGet, "/tasks", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without token, got %d", w.Code)
	}
	if w := do(t, h, http.MethodGet, "/tasks", nil, "Authorization", "Bearer garbage"); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with bad token, got %d", w.Code)
	}

	token, err := IssueToken(secret, "cli", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	if w := do(t, h, http.MethodGet, "/tasks", nil, "Authorization", "Bearer "+token); w.Code != http.StatusOK {
		t.Errorf("Expected 200 with valid token, got %d", w.Code)
	}

	other, _ := IssueToken("other-secret", "cli", time.Minute)
	if w := do(t, h, http.MethodGet, "/tasks", nil, "Authorization", "Bearer "+other); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 with foreign token, got %d", w.Code)
	}

	if w := do(t, h, http.MethodGet, "/health", nil); w.Code != http.StatusOK {
		t.Errorf("Expected /health to stay public, got %d", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	s, _ := newTestServer(t, ServerConfig{RateLimit: 1, RateBurst: 2})
	h := s.Handler()

	var got429 bool
	for i := 0; i < 5; i++ {
		if w := do(t, h, http.MethodGet, "/tasks", nil); w.Code == http.StatusTooManyRequests {
			got429 = true
			break
		}
	}
	if !got429 {
		t.Error("expected 429 Too Many Requests after rapid-fire requests")
	}
}

func TestLedgerEndpoint(t *testing.T) {
	s, st := newTestServer(t, ServerConfig{})
	h := s.Handler()
	if _, err := audit.NewSQLWriter(st).RecordEvent(context.Background(), audit.Event{Type: audit.EventTaskCreated, TaskID: "t1"}); err != nil {
		t.Fatalf("RecordEvent failed: %v", err)
	}

	w := do(t, h, http.MethodGet, "/audit?task_id=t1&limit=5", nil)
	var entries []models.AuditEntry
	if err := json.NewDecoder(w.Body).Decode(&entries); err != nil {
		t.Fatalf("Failed to decode audit: %v", err)
	}
	if len(entries) != 1 || entries[0].EventType != audit.EventTaskCreated {
		t.Errorf("Unexpected audit entries: %+v", entries)
	}
}
