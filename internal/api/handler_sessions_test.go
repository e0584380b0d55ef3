package api

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/pitchforge/pitchforge/pkg/types"
)

const salesContext = `{"customer_name": "Acme Corp",
	"customer_persona": "Skeptical CTO", "deal_stage": "DISCOVERY"}`

const evaluationJSON = `{
	"dimension_scores": {
		"product_knowledge": 80, "customer_understanding": 70,
		"objection_handling": 60, "value_communication": 75,
		"question_quality": 65, "confidence_delivery": 72
	},
	"sales_specific": {
		"knowledge_base_usage": "GOOD",
		"stage_appropriateness": "EXCELLENT",
		"personalization": "FAIR"
	},
	"overall_score": 70,
	"strengths": ["clear framing"],
	"improvement_areas": ["probe deeper"],
	"summary": "Solid run."
}`

// createSession opens a SALES session and returns its ID.
func createSession(t *testing.T, f *fixture) string {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/sessions", map[string]any{
		"preparation_type": "SALES",
		"context_payload":  json.RawMessage(salesContext),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create session status = %d, body %s", rec.Code, rec.Body.String())
	}
	sess := decodeBody[types.Session](t, rec)
	return sess.ID
}

// exchange posts one user message.
func exchange(t *testing.T, f *fixture, sessionID, text string) {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/messages",
		map[string]string{"message": text})
	if rec.Code != http.StatusOK {
		t.Fatalf("message status = %d, body %s", rec.Code, rec.Body.String())
	}
}

// ── lifecycle ─────────────────────────────────────────────────────────────

// TestSessionLifecycle walks create → chat → complete → evaluate → archive
// through the HTTP surface.
func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	f.completer.jsonBody = evaluationJSON

	sessionID := createSession(t, f)

	exchange(t, f, sessionID, "Our platform halves prep time.")

	rec := f.do(t, http.MethodGet, "/api/v1/sessions/"+sessionID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	sess := decodeBody[types.Session](t, rec)
	if len(sess.Transcript) != 2 {
		t.Errorf("transcript length = %d, want 2", len(sess.Transcript))
	}
	if sess.Transcript[1].Text != "Tell me more." {
		t.Errorf("assistant text = %q", sess.Transcript[1].Text)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/complete", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("complete status = %d, body %s", rec.Code, rec.Body.String())
	}
	sess = decodeBody[types.Session](t, rec)
	if sess.Status != types.SessionCompleted {
		t.Errorf("status = %s, want COMPLETED", sess.Status)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/evaluate", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("evaluate status = %d, body %s", rec.Code, rec.Body.String())
	}
	eval := decodeBody[types.Evaluation](t, rec)
	if eval.OverallScore != 70 || eval.SalesSpecific == nil {
		t.Errorf("evaluation = %+v", eval)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/sessions/"+sessionID+"/evaluate", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get evaluation status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/api/v1/sessions/"+sessionID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("archive status = %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/api/v1/sessions/"+sessionID, nil)
	sess = decodeBody[types.Session](t, rec)
	if sess.Status != types.SessionArchived {
		t.Errorf("status after archive = %s", sess.Status)
	}
}

// TestCreateSession_Validation verifies bad payloads map to 400.
func TestCreateSession_Validation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/sessions", map[string]any{
		"preparation_type": "INTERVIEW",
		"context_payload":  json.RawMessage(salesContext),
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unknown type status = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/sessions", map[string]any{
		"preparation_type": "SALES",
		"context_payload":  json.RawMessage(`{"customer_name": "x", "customer_persona": "y", "deal_stage": "DISCOVER"}`),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad stage status = %d, want 400", rec.Code)
	}
	env := decodeBody[errorEnvelope](t, rec)
	if env.Error.Kind != "VALIDATION" {
		t.Errorf("kind = %q", env.Error.Kind)
	}
}

// TestCompleteSession_TooFewExchanges verifies the minimum-exchange rule
// surfaces as 400.
func TestCompleteSession_TooFewExchanges(t *testing.T) {
	f := newFixture(t)
	sessionID := createSession(t, f)

	rec := f.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/complete", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// TestEvaluateSession_RequiresCompleted verifies 400 for in-progress
// sessions.
func TestEvaluateSession_RequiresCompleted(t *testing.T) {
	f := newFixture(t)
	sessionID := createSession(t, f)

	rec := f.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/evaluate", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

// TestMessageAfterComplete verifies turns on a finished session conflict.
func TestMessageAfterComplete(t *testing.T) {
	f := newFixture(t)
	sessionID := createSession(t, f)
	exchange(t, f, sessionID, "hello")
	if rec := f.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/complete", nil); rec.Code != http.StatusOK {
		t.Fatalf("complete status = %d", rec.Code)
	}

	rec := f.do(t, http.MethodPost, "/api/v1/sessions/"+sessionID+"/messages",
		map[string]string{"message": "one more"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", rec.Code)
	}
	env := decodeBody[errorEnvelope](t, rec)
	if env.Error.Kind != "STATE_CONFLICT" {
		t.Errorf("kind = %q", env.Error.Kind)
	}
}

// TestArchiveSession_Idempotent verifies repeating a session delete
// succeeds instead of conflicting.
func TestArchiveSession_Idempotent(t *testing.T) {
	f := newFixture(t)
	sessionID := createSession(t, f)

	for range 2 {
		rec := f.do(t, http.MethodDelete, "/api/v1/sessions/"+sessionID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("archive status = %d, body %s", rec.Code, rec.Body.String())
		}
	}
}

// TestListSessions_StatusFilter verifies the status query parameter.
func TestListSessions_StatusFilter(t *testing.T) {
	f := newFixture(t)
	first := createSession(t, f)
	createSession(t, f)
	exchange(t, f, first, "hi")
	if rec := f.do(t, http.MethodPost, "/api/v1/sessions/"+first+"/complete", nil); rec.Code != http.StatusOK {
		t.Fatalf("complete status = %d", rec.Code)
	}

	rec := f.do(t, http.MethodGet, "/api/v1/sessions?status=IN_PROGRESS", nil)
	resp := decodeBody[map[string][]types.Session](t, rec)
	if len(resp["sessions"]) != 1 {
		t.Errorf("in-progress sessions = %d, want 1", len(resp["sessions"]))
	}

	rec = f.do(t, http.MethodGet, "/api/v1/sessions", nil)
	resp = decodeBody[map[string][]types.Session](t, rec)
	if len(resp["sessions"]) != 2 {
		t.Errorf("all sessions = %d, want 2", len(resp["sessions"]))
	}
}
