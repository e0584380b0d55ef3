package api

import (
	"net/http"
	"testing"

	"github.com/pitchforge/pitchforge/pkg/types"
)

// TestGenerateTalkPoints verifies the 201 path and artifact retrieval.
func TestGenerateTalkPoints(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/talk-points/generate", map[string]string{
		"topic":            "security posture",
		"deal_stage":       "DISCOVERY",
		"customer_context": "skeptical CTO",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	artifact := decodeBody[types.TalkPointArtifact](t, rec)
	if artifact.ID == "" || artifact.Content.OpeningHook == "" {
		t.Errorf("artifact = %+v", artifact)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/talk-points/"+artifact.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/api/v1/talk-points", nil)
	resp := decodeBody[map[string][]types.TalkPointArtifact](t, rec)
	if len(resp["talk_points"]) != 1 {
		t.Errorf("listed %d artifacts, want 1", len(resp["talk_points"]))
	}

	rec = f.do(t, http.MethodDelete, "/api/v1/talk-points/"+artifact.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/api/v1/talk-points/"+artifact.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

// TestGenerateTalkPoints_Validation verifies topic and stage checks reach
// the client as 400.
func TestGenerateTalkPoints_Validation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/talk-points/generate", map[string]string{
		"topic": "   ",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank topic status = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/api/v1/talk-points/generate", map[string]string{
		"topic":      "pricing",
		"deal_stage": "SHIPPING",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad stage status = %d, want 400", rec.Code)
	}
}
