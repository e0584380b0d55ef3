package talkpoints

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pitchforge/pitchforge/internal/retrieval"
	"github.com/pitchforge/pitchforge/pkg/fault"
	"github.com/pitchforge/pitchforge/pkg/provider/llm"
	storemem "github.com/pitchforge/pitchforge/pkg/store/memory"
	"github.com/pitchforge/pitchforge/pkg/types"
)

const tenantA = "tenant-a"

// ── test doubles ──────────────────────────────────────────────────────────

type stubRetriever struct {
	chunks    []retrieval.RetrievedChunk
	err       error
	lastQuery string
}

func (s *stubRetriever) Retrieve(_ context.Context, _, queryText string, _ int) ([]retrieval.RetrievedChunk, error) {
	s.lastQuery = queryText
	return s.chunks, s.err
}

type stubCompleter struct {
	content types.TalkPointContent
	err     error
	lastReq llm.CompletionRequest
	calls   int
}

func (s *stubCompleter) CompleteJSON(_ context.Context, req llm.CompletionRequest, _ []byte, out any) error {
	s.calls++
	s.lastReq = req
	if s.err != nil {
		return s.err
	}
	raw, err := json.Marshal(s.content)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func sampleContent() types.TalkPointContent {
	return types.TalkPointContent{
		OpeningHook:      "Your renewal costs doubled last year.",
		ProblemStatement: "Manual call prep eats selling time.",
		SolutionOverview: "PitchForge rehearses the call before it happens.",
		KeyBenefits:      "Shorter prep, sharper objection handling.",
		ProofPoints:      "Teams report 30% faster ramp.",
		ObjectionHandling: []types.ObjectionPair{
			{Objection: "We already use a playbook.", Response: "Playbooks do not talk back."},
		},
		CallToAction: "Book a pilot for one team this quarter.",
	}
}

func newSynthesizer(t *testing.T, r Retriever, c Completer) (*Synthesizer, *storemem.Store) {
	t.Helper()
	st := storemem.New()
	return New(c, r, st.TalkPoints(), st.Profiles()), st
}

// ── Generate ──────────────────────────────────────────────────────────────

// TestGenerate_PersistsArtifact verifies the happy path end to end.
func TestGenerate_PersistsArtifact(t *testing.T) {
	r := &stubRetriever{chunks: []retrieval.RetrievedChunk{
		{ChunkID: "c1", Text: "AES-256 at rest"},
		{ChunkID: "c2", Text: "SOC 2 Type II"},
	}}
	c := &stubCompleter{content: sampleContent()}
	s, st := newSynthesizer(t, r, c)

	artifact, err := s.Generate(context.Background(), tenantA, Request{
		Topic:     "security posture",
		DealStage: types.StageDiscovery,
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if artifact.SourcesUsed != 2 {
		t.Errorf("sources_used = %d, want 2", artifact.SourcesUsed)
	}
	if artifact.Content.OpeningHook == "" || len(artifact.Content.ObjectionHandling) == 0 {
		t.Errorf("content = %+v", artifact.Content)
	}

	stored, err := st.TalkPoints().Get(context.Background(), tenantA, artifact.ID)
	if err != nil {
		t.Fatalf("Get stored artifact: %v", err)
	}
	if stored.Topic != "security posture" || stored.DealStage != types.StageDiscovery {
		t.Errorf("stored = %+v", stored)
	}

	if !strings.Contains(c.lastReq.Messages[0].Content, "AES-256") {
		t.Error("prompt missing retrieved excerpt")
	}
}

// TestGenerate_QueryUsesProfile verifies the retrieval query picks up the
// company profile's value proposition and industry.
func TestGenerate_QueryUsesProfile(t *testing.T) {
	r := &stubRetriever{}
	c := &stubCompleter{content: sampleContent()}
	s, st := newSynthesizer(t, r, c)

	err := st.Profiles().Upsert(context.Background(), &types.CompanyProfile{
		TenantID:         tenantA,
		Name:             "PitchForge",
		ValueProposition: "rehearse the call before it happens",
		Industry:         "sales software",
		UpdatedAt:        time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Upsert profile: %v", err)
	}

	_, err = s.Generate(context.Background(), tenantA, Request{
		Topic:           "pricing",
		DealStage:       types.StageNegotiation,
		CustomerContext: "skeptical CFO",
	})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	for _, want := range []string{"pricing", "NEGOTIATION", "skeptical CFO", "rehearse the call", "sales software"} {
		if !strings.Contains(r.lastQuery, want) {
			t.Errorf("retrieval query %q missing %q", r.lastQuery, want)
		}
	}
}

// TestGenerate_ZeroChunks verifies synthesis proceeds without documents and
// tells the model so.
func TestGenerate_ZeroChunks(t *testing.T) {
	c := &stubCompleter{content: sampleContent()}
	s, _ := newSynthesizer(t, &stubRetriever{}, c)

	artifact, err := s.Generate(context.Background(), tenantA, Request{Topic: "discounts"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if artifact.SourcesUsed != 0 {
		t.Errorf("sources_used = %d, want 0", artifact.SourcesUsed)
	}
	if !strings.Contains(c.lastReq.Messages[0].Content, "No reference documents") {
		t.Error("prompt does not state that no documents were available")
	}
}

// TestGenerate_Validation covers input rejection.
func TestGenerate_Validation(t *testing.T) {
	c := &stubCompleter{content: sampleContent()}
	s, _ := newSynthesizer(t, &stubRetriever{}, c)
	ctx := context.Background()

	if _, err := s.Generate(ctx, tenantA, Request{Topic: "  "}); !fault.IsKind(err, fault.Validation) {
		t.Errorf("empty topic error = %v, want VALIDATION", err)
	}
	if _, err := s.Generate(ctx, tenantA, Request{Topic: "x", DealStage: "SHIPPING"}); !fault.IsKind(err, fault.Validation) {
		t.Errorf("bad stage error = %v, want VALIDATION", err)
	}
	if c.calls != 0 {
		t.Error("completer called despite validation failure")
	}
}

// TestGenerate_CompleterErrorPropagates verifies provider faults surface
// without persisting anything.
func TestGenerate_CompleterErrorPropagates(t *testing.T) {
	c := &stubCompleter{err: fault.New(fault.ProviderInvalid, "model returned invalid JSON")}
	s, st := newSynthesizer(t, &stubRetriever{}, c)

	_, err := s.Generate(context.Background(), tenantA, Request{Topic: "pricing"})
	if !fault.IsKind(err, fault.ProviderInvalid) {
		t.Fatalf("error kind = %v, want PROVIDER_INVALID", err)
	}

	artifacts, err := st.TalkPoints().List(context.Background(), tenantA, 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(artifacts) != 0 {
		t.Error("artifact persisted despite synthesis failure")
	}
}

// ── List / Get / Delete ───────────────────────────────────────────────────

// TestListGetDelete verifies the pass-through surface against the store.
func TestListGetDelete(t *testing.T) {
	c := &stubCompleter{content: sampleContent()}
	s, _ := newSynthesizer(t, &stubRetriever{}, c)
	ctx := context.Background()

	a, err := s.Generate(ctx, tenantA, Request{Topic: "one"})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if _, err := s.Generate(ctx, tenantA, Request{Topic: "two"}); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	all, err := s.List(ctx, tenantA, 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("listed %d artifacts, want 2", len(all))
	}

	got, err := s.Get(ctx, tenantA, a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Topic != "one" {
		t.Errorf("topic = %q", got.Topic)
	}

	if err := s.Delete(ctx, tenantA, a.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, tenantA, a.ID); !fault.IsKind(err, fault.NotFound) {
		t.Errorf("Get after delete error = %v, want NOT_FOUND", err)
	}
	if err := s.Delete(ctx, tenantA, a.ID); !fault.IsKind(err, fault.NotFound) {
		t.Errorf("second delete error = %v, want NOT_FOUND", err)
	}
}
