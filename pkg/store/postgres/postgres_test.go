package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pitchforge/pitchforge/pkg/fault"
	"github.com/pitchforge/pitchforge/pkg/store"
	"github.com/pitchforge/pitchforge/pkg/store/postgres"
	"github.com/pitchforge/pitchforge/pkg/types"
)

const (
	docA = "11111111-1111-1111-1111-111111111111"
	docB = "22222222-2222-2222-2222-222222222222"
	tpA  = "44444444-4444-4444-4444-444444444444"
)

// newTestStore connects to the test database, or skips the test when
// PITCHFORGE_TEST_POSTGRES_DSN is not set. Rows written by earlier runs for
// the test tenants are removed.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := os.Getenv("PITCHFORGE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PITCHFORGE_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	ctx := context.Background()

	s, err := postgres.New(ctx, dsn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)

	for _, tenant := range []string{"t1", "t2"} {
		for _, id := range []string{docA, docB} {
			if err := s.Documents().Delete(ctx, tenant, id); err != nil {
				t.Fatalf("clean document %s: %v", id, err)
			}
		}
		if err := s.TalkPoints().Delete(ctx, tenant, tpA); err != nil {
			t.Fatalf("clean talk point: %v", err)
		}
	}
	return s
}

func TestDocumentCASFlow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	docs := s.Documents()

	doc := &types.Document{
		ID: docA, TenantID: "t1", Filename: "deck.md", MIME: "text/markdown",
		ByteSize: 128, Status: types.DocUploading, UploadedAt: time.Now().UTC(),
	}
	if err := docs.Create(ctx, doc); err != nil {
		t.Fatalf("Create: %v", err)
	}

	now := time.Now().UTC()
	if err := docs.Transition(ctx, "t1", docA, types.DocUploading, types.DocProcessing,
		&store.TransitionFields{ClaimedAt: &now}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	err := docs.Transition(ctx, "t1", docA, types.DocUploading, types.DocProcessing, nil)
	if !fault.IsKind(err, fault.StateConflict) {
		t.Fatalf("double claim: got %v, want STATE_CONFLICT", err)
	}

	chunks := []types.Chunk{
		{ID: types.ChunkID(docA, 0), DocumentID: docA, TenantID: "t1", Ordinal: 0, Text: "alpha", Page: 1},
		{ID: types.ChunkID(docA, 1), DocumentID: docA, TenantID: "t1", Ordinal: 1, Text: "beta", Page: 2},
	}
	if err := docs.PutChunks(ctx, "t1", docA, chunks); err != nil {
		t.Fatalf("PutChunks: %v", err)
	}

	count := len(chunks)
	indexedAt := time.Now().UTC()
	if err := docs.Transition(ctx, "t1", docA, types.DocProcessing, types.DocIndexed,
		&store.TransitionFields{IndexedAt: &indexedAt, ChunkCount: &count}); err != nil {
		t.Fatalf("index: %v", err)
	}

	got, err := docs.Get(ctx, "t1", docA)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != types.DocIndexed || got.ChunkCount != 2 || got.IndexedAt == nil {
		t.Fatalf("unexpected document: %+v", got)
	}

	// Requested order wins, missing IDs are dropped.
	back, err := docs.GetChunks(ctx, "t1", []string{chunks[1].ID, types.ChunkID(docB, 0), chunks[0].ID})
	if err != nil {
		t.Fatalf("GetChunks: %v", err)
	}
	if len(back) != 2 || back[0].Text != "beta" || back[1].Text != "alpha" {
		t.Fatalf("unexpected chunks: %+v", back)
	}

	if _, err := docs.Get(ctx, "t2", docA); !fault.IsKind(err, fault.NotFound) {
		t.Fatalf("cross-tenant Get: got %v, want NOT_FOUND", err)
	}
}

func TestDocumentOrphanFlow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	docs := s.Documents()

	doc := &types.Document{ID: docA, TenantID: "t1", Status: types.DocUploading, UploadedAt: time.Now().UTC()}
	if err := docs.Create(ctx, doc); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := docs.PutChunks(ctx, "t1", docA, []types.Chunk{
		{ID: types.ChunkID(docA, 0), DocumentID: docA, TenantID: "t1", Ordinal: 0, Text: "x"},
	}); err != nil {
		t.Fatalf("PutChunks: %v", err)
	}

	if err := docs.MarkOrphan(ctx, "t1", docA); err != nil {
		t.Fatalf("MarkOrphan: %v", err)
	}
	listed, err := docs.List(ctx, "t1", 10, 0)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, d := range listed {
		if d.ID == docA {
			t.Fatal("orphan leaked into List")
		}
	}
	orphans, err := docs.ListOrphans(ctx, 100)
	if err != nil {
		t.Fatalf("ListOrphans: %v", err)
	}
	found := false
	for _, d := range orphans {
		if d.ID == docA {
			found = true
		}
	}
	if !found {
		t.Fatal("orphan missing from ListOrphans")
	}

	if err := docs.Delete(ctx, "t1", docA); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := docs.Delete(ctx, "t1", docA); err != nil {
		t.Fatalf("repeat Delete: %v", err)
	}
}

func TestSessionTranscriptCAS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sessions := s.Sessions()

	// Sessions have no delete, so each run writes a fresh row.
	sessID := uuid.NewString()
	sess := &types.Session{
		ID: sessID, TenantID: "t1",
		PreparationType: types.PrepSales,
		ContextPayload:  []byte(`{"customer_name":"Initech","customer_persona":"CTO","deal_stage":"DISCOVERY"}`),
		Status:          types.SessionInProgress,
		CreatedAt:       time.Now().UTC(),
	}
	if err := sessions.Create(ctx, sess); err != nil {
		t.Fatalf("Create: %v", err)
	}

	pair := []types.TranscriptTurn{
		{Role: types.RoleUser, Text: "hello", Timestamp: time.Now().UTC()},
		{Role: types.RoleAssistant, Text: "hi there", Timestamp: time.Now().UTC(), RetrievedChunkIDs: []string{types.ChunkID(docA, 0)}},
	}
	if err := sessions.AppendTurns(ctx, "t1", sessID, 0, pair); err != nil {
		t.Fatalf("AppendTurns: %v", err)
	}
	err := sessions.AppendTurns(ctx, "t1", sessID, 0, pair)
	if !fault.IsKind(err, fault.StateConflict) {
		t.Fatalf("stale append: got %v, want STATE_CONFLICT", err)
	}

	got, err := sessions.Get(ctx, "t1", sessID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Transcript) != 2 {
		t.Fatalf("transcript length = %d, want 2", len(got.Transcript))
	}
	if got.Transcript[1].RetrievedChunkIDs[0] != types.ChunkID(docA, 0) {
		t.Fatalf("retrieved chunk IDs lost: %+v", got.Transcript[1])
	}
	if len(got.ContextPayload) == 0 {
		t.Fatal("context payload lost")
	}

	done := time.Now().UTC()
	if err := sessions.SetStatus(ctx, "t1", sessID, types.SessionInProgress, types.SessionCompleted, &done); err != nil {
		t.Fatalf("complete: %v", err)
	}
	err = sessions.AppendTurns(ctx, "t1", sessID, 2, pair)
	if !fault.IsKind(err, fault.StateConflict) {
		t.Fatalf("append after complete: got %v, want STATE_CONFLICT", err)
	}
	if err := sessions.SetStatus(ctx, "t1", sessID, "", types.SessionArchived, nil); err != nil {
		t.Fatalf("archive: %v", err)
	}
	if err := sessions.SetStatus(ctx, "t1", sessID, "", types.SessionArchived, nil); err != nil {
		t.Fatalf("second archive: %v", err)
	}
	err = sessions.SetStatus(ctx, "t1", sessID, "", types.SessionCompleted, nil)
	if !fault.IsKind(err, fault.StateConflict) {
		t.Fatalf("backwards move: got %v, want STATE_CONFLICT", err)
	}
}

func TestTalkPointRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tps := s.TalkPoints()

	a := &types.TalkPointArtifact{
		ID: tpA, TenantID: "t1", Topic: "pricing objections",
		CustomerContext: "mid-market CFO", DealStage: types.StageNegotiation,
		Content: types.TalkPointContent{
			OpeningHook:      "hook",
			ProblemStatement: "problem",
			SolutionOverview: "solution",
			KeyBenefits:      "benefits",
			ProofPoints:      "proof",
			ObjectionHandling: []types.ObjectionPair{
				{Objection: "too expensive", Response: "total cost of ownership"},
			},
			CallToAction: "schedule a pilot",
		},
		SourcesUsed: 4,
		CreatedAt:   time.Now().UTC(),
	}
	if err := tps.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := tps.Get(ctx, "t1", tpA)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content.OpeningHook != "hook" || len(got.Content.ObjectionHandling) != 1 {
		t.Fatalf("content did not round-trip: %+v", got.Content)
	}
	if got.DealStage != types.StageNegotiation || got.SourcesUsed != 4 {
		t.Fatalf("unexpected artifact: %+v", got)
	}
	if err := tps.Delete(ctx, "t1", tpA); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := tps.Get(ctx, "t1", tpA); !fault.IsKind(err, fault.NotFound) {
		t.Fatalf("Get after delete: got %v, want NOT_FOUND", err)
	}
}

func TestEvaluationAndProfileUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sessID := uuid.NewString()
	ev := &types.Evaluation{
		SessionID: sessID, TenantID: "t1",
		DimensionScores: types.DimensionScores{
			ProductKnowledge: 70, CustomerUnderstanding: 65, ObjectionHandling: 60,
			ValueCommunication: 75, QuestionQuality: 55, ConfidenceDelivery: 80,
		},
		SalesSpecific: &types.SalesFlags{
			KnowledgeBaseUsage:   types.FlagGood,
			StageAppropriateness: types.FlagFair,
			Personalization:      types.FlagGood,
		},
		OverallScore: 68,
		Strengths:    []string{"clear value framing"},
		Summary:      "solid run",
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.Evaluations().Upsert(ctx, ev); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	ev.OverallScore = 72
	if err := s.Evaluations().Upsert(ctx, ev); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	got, err := s.Evaluations().Get(ctx, "t1", sessID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.OverallScore != 72 || got.SalesSpecific == nil || got.SalesSpecific.KnowledgeBaseUsage != types.FlagGood {
		t.Fatalf("evaluation did not round-trip: %+v", got)
	}

	p := &types.CompanyProfile{
		TenantID: "t1", Name: "PitchForge", Industry: "software", UpdatedAt: time.Now().UTC(),
	}
	if err := s.Profiles().Upsert(ctx, p); err != nil {
		t.Fatalf("profile Upsert: %v", err)
	}
	p.Industry = "sales software"
	if err := s.Profiles().Upsert(ctx, p); err != nil {
		t.Fatalf("second profile Upsert: %v", err)
	}
	gotP, err := s.Profiles().Get(ctx, "t1")
	if err != nil {
		t.Fatalf("profile Get: %v", err)
	}
	if gotP.Industry != "sales software" {
		t.Fatalf("profile did not upsert: %+v", gotP)
	}
}
