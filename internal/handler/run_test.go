package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/solagent/solagent/internal/agent"
	"github.com/solagent/solagent/internal/handler"
	"github.com/solagent/solagent/internal/llm"
	"github.com/solagent/solagent/internal/memory"
	"github.com/solagent/solagent/internal/models"
	"github.com/solagent/solagent/internal/pipeline"
	"github.com/solagent/solagent/internal/tools"
)

// fixedClient always answers with the same text and never requests tools.
type fixedClient struct {
	reply string
}

func (c *fixedClient) Complete(ctx context.Context, system string, history []models.Message, specs []tools.Spec) (*llm.Completion, error) {
	return &llm.Completion{Content: c.reply, StopReason: "end_turn"}, nil
}

func (c *fixedClient) Model() string { return "test-model" }

func newTestRouter(t *testing.T, store memory.Store) http.Handler {
	t.Helper()
	reg := tools.NewRegistry()
	loop := agent.NewLoop(agent.Config{}, &fixedClient{reply: "hello"},
		pipeline.NewExecutor(reg, nil), reg, store, nil)
	h := handler.NewRunHandler(loop, store)

	r := chi.NewRouter()
	r.Post("/api/v1/agent/run", h.Run)
	r.Route("/api/v1/sessions/{session_id}", func(r chi.Router) {
		r.Get("/history", h.History)
		r.Post("/compact", h.Compact)
		r.Delete("/", h.Delete)
	})
	return r
}

func doJSON(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRunEndpoint(t *testing.T) {
	store := memory.NewInMemoryStore()
	router := newTestRouter(t, store)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/agent/run",
		`{"session_id":"s1","message":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp models.RunResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != agent.StatusDone || resp.Reply != "hello" || resp.SessionID != "s1" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestRunGeneratesSessionID(t *testing.T) {
	router := newTestRouter(t, memory.NewInMemoryStore())

	rec := doJSON(t, router, http.MethodPost, "/api/v1/agent/run", `{"message":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	var resp models.RunResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.SessionID == "" {
		t.Error("expected a generated session id")
	}
}

func TestRunRejectsBadRequests(t *testing.T) {
	router := newTestRouter(t, memory.NewInMemoryStore())

	for name, body := range map[string]string{
		"empty message": `{"session_id":"s1"}`,
		"invalid json":  `{not json`,
	} {
		rec := doJSON(t, router, http.MethodPost, "/api/v1/agent/run", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, rec.Code)
		}
	}
}

func TestHistoryEndpoint(t *testing.T) {
	store := memory.NewInMemoryStore()
	router := newTestRouter(t, store)

	doJSON(t, router, http.MethodPost, "/api/v1/agent/run", `{"session_id":"s1","message":"hi"}`)

	rec := doJSON(t, router, http.MethodGet, "/api/v1/sessions/s1/history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp models.HistoryResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("messages = %+v", resp.Messages)
	}
}

func TestHistoryUnknownSessionIsEmpty(t *testing.T) {
	router := newTestRouter(t, memory.NewInMemoryStore())

	rec := doJSON(t, router, http.MethodGet, "/api/v1/sessions/nope/history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"messages":[]`) {
		t.Errorf("body = %s", rec.Body)
	}
}

func TestDeleteEndpoint(t *testing.T) {
	store := memory.NewInMemoryStore()
	router := newTestRouter(t, store)

	doJSON(t, router, http.MethodPost, "/api/v1/agent/run", `{"session_id":"s1","message":"hi"}`)
	rec := doJSON(t, router, http.MethodDelete, "/api/v1/sessions/s1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	history, _ := store.History(context.Background(), "s1")
	if len(history) != 0 {
		t.Errorf("history survived delete: %+v", history)
	}
}

func TestCompactEndpointShortHistoryIsNoop(t *testing.T) {
	store := memory.NewInMemoryStore()
	router := newTestRouter(t, store)

	doJSON(t, router, http.MethodPost, "/api/v1/agent/run", `{"session_id":"s1","message":"hi"}`)

	rec := doJSON(t, router, http.MethodPost, "/api/v1/sessions/s1/compact", `{"keep_recent":4}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	history, _ := store.History(context.Background(), "s1")
	if len(history) != 2 {
		t.Errorf("short history must survive compaction untouched, got %+v", history)
	}
}
