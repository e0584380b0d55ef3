package evaluate

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/pitchforge/pitchforge/pkg/fault"
	"github.com/pitchforge/pitchforge/pkg/provider/llm"
	storemem "github.com/pitchforge/pitchforge/pkg/store/memory"
	"github.com/pitchforge/pitchforge/pkg/types"
)

const tenantA = "tenant-a"

// ── test doubles ──────────────────────────────────────────────────────────

type stubCompleter struct {
	card    scorecard
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
	raw, err := json.Marshal(s.card)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func sampleCard() scorecard {
	return scorecard{
		DimensionScores: types.DimensionScores{
			ProductKnowledge:      80,
			CustomerUnderstanding: 72,
			ObjectionHandling:     65,
			ValueCommunication:    78,
			QuestionQuality:       70,
			ConfidenceDelivery:    82,
		},
		SalesSpecific: &types.SalesFlags{
			KnowledgeBaseUsage:   types.FlagGood,
			StageAppropriateness: types.FlagExcellent,
			Personalization:      types.FlagFair,
		},
		OverallScore:     75,
		Strengths:        []string{"clear value framing"},
		ImprovementAreas: []string{"ask more discovery questions"},
		Summary:          "Solid run with room to probe deeper.",
	}
}

func seedSession(t *testing.T, st *storemem.Store, status types.SessionStatus) *types.Session {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	sess := &types.Session{
		ID:              "sess-1",
		TenantID:        tenantA,
		PreparationType: types.PrepSales,
		ContextPayload: []byte(`{"customer_name": "Acme Corp",
			"customer_persona": "Skeptical CTO", "deal_stage": "DISCOVERY"}`),
		Status:    types.SessionInProgress,
		CreatedAt: now,
	}
	if err := st.Sessions().Create(ctx, sess); err != nil {
		t.Fatalf("Create session: %v", err)
	}
	turns := []types.TranscriptTurn{
		{Role: types.RoleUser, Text: "Our platform cuts prep time in half.", Timestamp: now},
		{Role: types.RoleAssistant, Text: "Half sounds optimistic. Prove it.", Timestamp: now},
		{Role: types.RoleUser, Text: "Happy to walk through the benchmark.", Timestamp: now},
		{Role: types.RoleAssistant, Text: "Go on.", Timestamp: now},
	}
	if err := st.Sessions().AppendTurns(ctx, tenantA, sess.ID, 0, turns); err != nil {
		t.Fatalf("AppendTurns: %v", err)
	}
	if status != types.SessionInProgress {
		if err := st.Sessions().SetStatus(ctx, tenantA, sess.ID, types.SessionInProgress, status, &now); err != nil {
			t.Fatalf("SetStatus: %v", err)
		}
	}
	got, err := st.Sessions().Get(ctx, tenantA, sess.ID)
	if err != nil {
		t.Fatalf("Get session: %v", err)
	}
	return got
}

// ── Evaluate ──────────────────────────────────────────────────────────────

// TestEvaluate_ScoresCompletedSession verifies the happy path: the
// scorecard is persisted and the prompt carries the transcript.
func TestEvaluate_ScoresCompletedSession(t *testing.T) {
	st := storemem.New()
	sess := seedSession(t, st, types.SessionCompleted)
	c := &stubCompleter{card: sampleCard()}
	ev := New(c, st.Sessions(), st.Evaluations())

	eval, err := ev.Evaluate(context.Background(), tenantA, sess.ID)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if eval.OverallScore != 75 {
		t.Errorf("overall_score = %d, want 75", eval.OverallScore)
	}
	if eval.SalesSpecific == nil || eval.SalesSpecific.Personalization != types.FlagFair {
		t.Errorf("sales_specific = %+v", eval.SalesSpecific)
	}
	if eval.Summary == "" || len(eval.Strengths) == 0 {
		t.Errorf("narrative sections missing: %+v", eval)
	}

	prompt := c.lastReq.Messages[0].Content
	for _, want := range []string{"Acme Corp", "Skeptical CTO", "DISCOVERY", "SELLER: Our platform", "CUSTOMER: Half sounds"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	stored, err := ev.Get(context.Background(), tenantA, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.OverallScore != eval.OverallScore || stored.SessionID != sess.ID {
		t.Errorf("stored = %+v", stored)
	}
}

// TestEvaluate_RequiresCompleted verifies that only COMPLETED sessions can
// be scored.
func TestEvaluate_RequiresCompleted(t *testing.T) {
	st := storemem.New()
	sess := seedSession(t, st, types.SessionInProgress)
	c := &stubCompleter{card: sampleCard()}
	ev := New(c, st.Sessions(), st.Evaluations())

	_, err := ev.Evaluate(context.Background(), tenantA, sess.ID)
	if !fault.IsKind(err, fault.Validation) {
		t.Fatalf("error = %v, want VALIDATION", err)
	}
	if c.calls != 0 {
		t.Error("completer called for an unfinished session")
	}
}

// TestEvaluate_UnknownSession verifies NOT_FOUND pass-through.
func TestEvaluate_UnknownSession(t *testing.T) {
	st := storemem.New()
	ev := New(&stubCompleter{card: sampleCard()}, st.Sessions(), st.Evaluations())

	_, err := ev.Evaluate(context.Background(), tenantA, "missing")
	if !fault.IsKind(err, fault.NotFound) {
		t.Fatalf("error = %v, want NOT_FOUND", err)
	}
}

// TestEvaluate_ClampsInconsistentOverall verifies that an overall score
// outside the dimension bounds is replaced with the rounded mean.
func TestEvaluate_ClampsInconsistentOverall(t *testing.T) {
	st := storemem.New()
	sess := seedSession(t, st, types.SessionCompleted)
	card := sampleCard()
	card.OverallScore = 99 // above the 82 max across dimensions
	c := &stubCompleter{card: card}
	ev := New(c, st.Sessions(), st.Evaluations())

	eval, err := ev.Evaluate(context.Background(), tenantA, sess.ID)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	// mean of 80,72,65,78,70,82 is 74.5, rounded to 75
	if eval.OverallScore != 75 {
		t.Errorf("overall_score = %d, want rounded mean 75", eval.OverallScore)
	}
}

// TestEvaluate_ReplacesPriorEvaluation verifies upsert semantics on
// re-evaluation.
func TestEvaluate_ReplacesPriorEvaluation(t *testing.T) {
	st := storemem.New()
	sess := seedSession(t, st, types.SessionCompleted)
	c := &stubCompleter{card: sampleCard()}
	ev := New(c, st.Sessions(), st.Evaluations())
	ctx := context.Background()

	if _, err := ev.Evaluate(ctx, tenantA, sess.ID); err != nil {
		t.Fatalf("first Evaluate: %v", err)
	}
	c.card.Summary = "Second pass."
	c.card.DimensionScores.ProductKnowledge = 90
	c.card.OverallScore = 80
	if _, err := ev.Evaluate(ctx, tenantA, sess.ID); err != nil {
		t.Fatalf("second Evaluate: %v", err)
	}

	stored, err := ev.Get(ctx, tenantA, sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Summary != "Second pass." || stored.OverallScore != 80 {
		t.Errorf("stored = %+v, want the replacement", stored)
	}
}

// TestEvaluate_CompleterErrorPropagates verifies provider faults surface
// without persisting anything.
func TestEvaluate_CompleterErrorPropagates(t *testing.T) {
	st := storemem.New()
	sess := seedSession(t, st, types.SessionCompleted)
	c := &stubCompleter{err: fault.New(fault.ProviderUnavailable, "model offline")}
	ev := New(c, st.Sessions(), st.Evaluations())

	_, err := ev.Evaluate(context.Background(), tenantA, sess.ID)
	if !fault.IsKind(err, fault.ProviderUnavailable) {
		t.Fatalf("error = %v, want PROVIDER_UNAVAILABLE", err)
	}
	if _, err := ev.Get(context.Background(), tenantA, sess.ID); !fault.IsKind(err, fault.NotFound) {
		t.Errorf("evaluation persisted despite failure: %v", err)
	}
}

// ── scorecard schema ──────────────────────────────────────────────────────

// compileSalesSchema compiles the scorecard schema the evaluator hands to
// the gateway.
func compileSalesSchema(t *testing.T) *jsonschema.Schema {
	t.Helper()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(salesSchema))
	if err != nil {
		t.Fatalf("parse schema: %v", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("sales.json", doc); err != nil {
		t.Fatalf("add schema resource: %v", err)
	}
	schema, err := compiler.Compile("sales.json")
	if err != nil {
		t.Fatalf("compile schema: %v", err)
	}
	return schema
}

// TestSalesSchema_RequiresFindings verifies the schema itself forces at
// least one strength and one improvement area, so an empty-handed model
// response is retried rather than stored.
func TestSalesSchema_RequiresFindings(t *testing.T) {
	schema := compileSalesSchema(t)

	validate := func(card scorecard) error {
		raw, err := json.Marshal(card)
		if err != nil {
			t.Fatalf("marshal card: %v", err)
		}
		inst, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
		if err != nil {
			t.Fatalf("parse instance: %v", err)
		}
		return schema.Validate(inst)
	}

	if err := validate(sampleCard()); err != nil {
		t.Fatalf("complete card rejected: %v", err)
	}

	empty := sampleCard()
	empty.Strengths = []string{}
	if err := validate(empty); err == nil {
		t.Error("card with no strengths validated, want rejection")
	}

	empty = sampleCard()
	empty.ImprovementAreas = []string{}
	if err := validate(empty); err == nil {
		t.Error("card with no improvement areas validated, want rejection")
	}
}

// ── overall-score reconciliation ──────────────────────────────────────────

// TestReconcileOverallProperty checks that the reconciled overall score
// always lands within the dimension bounds, whatever the model returned.
func TestReconcileOverallProperty(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200

	properties := gopter.NewProperties(params)
	score := gen.IntRange(0, 100)

	properties.Property("overall stays within dimension bounds", prop.ForAll(
		func(overall, a, b, c, d, e, f int) bool {
			dims := types.DimensionScores{
				ProductKnowledge:      a,
				CustomerUnderstanding: b,
				ObjectionHandling:     c,
				ValueCommunication:    d,
				QuestionQuality:       e,
				ConfidenceDelivery:    f,
			}
			got := reconcileOverall(overall, dims)
			lo, hi := dims.Bounds()
			return got >= lo && got <= hi
		},
		score, score, score, score, score, score, score,
	))

	properties.TestingRun(t)
}
