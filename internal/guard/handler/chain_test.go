package handler_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestChainOverview_200(t *testing.T) {
	router, _ := setupGuardRouter(t)

	for i := uint64(1); i <= 3; i++ {
		if w := postAction(t, router, actionBody(i, 50)); w.Code != http.StatusCreated {
			t.Fatalf("submit %d: %d", i, w.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chain/agent-1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if int(resp["events"].(float64)) != 3 {
		t.Errorf("events = %v, want 3", resp["events"])
	}
	if resp["root"] == "" {
		t.Error("missing root hash")
	}
}

func TestChainOverview_emptyScope(t *testing.T) {
	router, _ := setupGuardRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chain/nobody", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if int(resp["events"].(float64)) != 0 {
		t.Errorf("events = %v, want 0", resp["events"])
	}
	// An empty chain reports the genesis root.
	if resp["root"] != "0000000000000000000000000000000000000000000000000000000000000000" {
		t.Errorf("root = %v, want genesis", resp["root"])
	}
}

func TestChainVerify_200(t *testing.T) {
	router, _ := setupGuardRouter(t)
	postAction(t, router, actionBody(1, 50))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chain/agent-1/verify", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["valid"] != true {
		t.Errorf("expected valid=true, got %v", resp["valid"])
	}
}

func TestChainGetEvent_200(t *testing.T) {
	router, _ := setupGuardRouter(t)
	postAction(t, router, actionBody(1, 50))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chain/agent-1/events/0", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["agent_id"] != "agent-1" {
		t.Errorf("agent_id = %v, want agent-1", resp["agent_id"])
	}
}

func TestChainGetEvent_404(t *testing.T) {
	router, _ := setupGuardRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chain/agent-1/events/999", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestChainGetEvent_400_invalidIdx(t *testing.T) {
	router, _ := setupGuardRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chain/agent-1/events/abc", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestChainTailEvents_limit(t *testing.T) {
	router, _ := setupGuardRouter(t)
	for i := uint64(1); i <= 5; i++ {
		postAction(t, router, actionBody(i, 50))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chain/agent-1/events?limit=2", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Events []map[string]any `json:"events"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Events) != 2 {
		t.Fatalf("events = %d, want 2", len(resp.Events))
	}
	// Tail keeps append order: the last event carries the highest nonce.
	if int(resp.Events[1]["nonce"].(float64)) != 5 {
		t.Errorf("last nonce = %v, want 5", resp.Events[1]["nonce"])
	}
}

func TestChainListScopes(t *testing.T) {
	router, _ := setupGuardRouter(t)
	postAction(t, router, actionBody(1, 50))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chain", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Scopes []string `json:"scopes"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Scopes) != 1 || resp.Scopes[0] != "agent-1" {
		t.Errorf("scopes = %v, want [agent-1]", resp.Scopes)
	}
}
