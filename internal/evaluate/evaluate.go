// Package evaluate scores completed practice sessions. The evaluator hands
// the full transcript to the LLM, validates the returned scorecard against a
// fixed JSON schema, reconciles the overall score with the per-dimension
// scores, and upserts the result so re-evaluating a session replaces the
// prior scorecard.
package evaluate

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/pitchforge/pitchforge/pkg/fault"
	"github.com/pitchforge/pitchforge/pkg/provider/llm"
	"github.com/pitchforge/pitchforge/pkg/store"
	"github.com/pitchforge/pitchforge/pkg/types"
)

// Completer is the slice of the LLM gateway the evaluator needs.
type Completer interface {
	CompleteJSON(ctx context.Context, req llm.CompletionRequest, schema []byte, out any) error
}

// salesSchema is the scorecard shape for SALES sessions: six numeric
// dimensions, three qualitative flags, and the narrative sections.
const salesSchema = `{
	"type": "object",
	"required": [
		"dimension_scores", "sales_specific", "overall_score",
		"strengths", "improvement_areas", "summary"
	],
	"additionalProperties": false,
	"properties": {
		"dimension_scores": {
			"type": "object",
			"required": [
				"product_knowledge", "customer_understanding", "objection_handling",
				"value_communication", "question_quality", "confidence_delivery"
			],
			"additionalProperties": false,
			"properties": {
				"product_knowledge":      {"type": "integer", "minimum": 0, "maximum": 100},
				"customer_understanding": {"type": "integer", "minimum": 0, "maximum": 100},
				"objection_handling":     {"type": "integer", "minimum": 0, "maximum": 100},
				"value_communication":    {"type": "integer", "minimum": 0, "maximum": 100},
				"question_quality":       {"type": "integer", "minimum": 0, "maximum": 100},
				"confidence_delivery":    {"type": "integer", "minimum": 0, "maximum": 100}
			}
		},
		"sales_specific": {
			"type": "object",
			"required": ["knowledge_base_usage", "stage_appropriateness", "personalization"],
			"additionalProperties": false,
			"properties": {
				"knowledge_base_usage":  {"enum": ["EXCELLENT", "GOOD", "FAIR", "POOR"]},
				"stage_appropriateness": {"enum": ["EXCELLENT", "GOOD", "FAIR", "POOR"]},
				"personalization":       {"enum": ["EXCELLENT", "GOOD", "FAIR", "POOR"]}
			}
		},
		"overall_score":     {"type": "integer", "minimum": 0, "maximum": 100},
		"strengths":         {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}},
		"improvement_areas": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}},
		"summary":           {"type": "string", "minLength": 1}
	}
}`

// scorecard is the wire shape the model returns. It matches the Evaluation
// JSON fields minus the identifiers the evaluator fills in itself.
type scorecard struct {
	DimensionScores  types.DimensionScores `json:"dimension_scores"`
	SalesSpecific    *types.SalesFlags     `json:"sales_specific"`
	OverallScore     int                   `json:"overall_score"`
	Strengths        []string              `json:"strengths"`
	ImprovementAreas []string              `json:"improvement_areas"`
	Summary          string                `json:"summary"`
}

// Evaluator scores completed sessions. Safe for concurrent use.
type Evaluator struct {
	completer   Completer
	sessions    store.SessionStore
	evaluations store.EvaluationStore
}

// New builds an Evaluator.
func New(completer Completer, sessions store.SessionStore, evaluations store.EvaluationStore) *Evaluator {
	return &Evaluator{completer: completer, sessions: sessions, evaluations: evaluations}
}

// Evaluate scores the session and persists the result. The session must be
// COMPLETED. Re-evaluating a session replaces its prior evaluation.
func (e *Evaluator) Evaluate(ctx context.Context, tenantID, sessionID string) (*types.Evaluation, error) {
	sess, err := e.sessions.Get(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != types.SessionCompleted {
		return nil, fault.Newf(fault.Validation, "session is %s, only COMPLETED sessions can be evaluated", sess.Status)
	}

	var card scorecard
	if err := e.completer.CompleteJSON(ctx, buildRequest(sess), []byte(salesSchema), &card); err != nil {
		return nil, err
	}

	eval := &types.Evaluation{
		SessionID:        sessionID,
		TenantID:         tenantID,
		DimensionScores:  card.DimensionScores,
		SalesSpecific:    card.SalesSpecific,
		OverallScore:     reconcileOverall(card.OverallScore, card.DimensionScores),
		Strengths:        card.Strengths,
		ImprovementAreas: card.ImprovementAreas,
		Summary:          card.Summary,
		CreatedAt:        time.Now().UTC(),
	}
	if sess.PreparationType != types.PrepSales {
		eval.SalesSpecific = nil
	}
	if err := e.evaluations.Upsert(ctx, eval); err != nil {
		return nil, err
	}
	return eval, nil
}

// Get returns the stored evaluation for the session.
func (e *Evaluator) Get(ctx context.Context, tenantID, sessionID string) (*types.Evaluation, error) {
	return e.evaluations.Get(ctx, tenantID, sessionID)
}

// reconcileOverall keeps the overall score consistent with the dimensions.
// A value outside [min, max] of the dimension scores is replaced with the
// rounded mean of the dimensions.
func reconcileOverall(overall int, d types.DimensionScores) int {
	lo, hi := d.Bounds()
	if overall >= lo && overall <= hi {
		return overall
	}
	sum := 0
	for _, v := range d.All() {
		sum += v
	}
	return int(math.Round(float64(sum) / 6))
}

// buildRequest assembles the scoring prompt from the session's context
// payload and full transcript.
func buildRequest(sess *types.Session) llm.CompletionRequest {
	var sys strings.Builder
	sys.WriteString("You are an expert sales coach evaluating a practice sales " +
		"conversation. The SELLER speaks in the user turns and the simulated " +
		"CUSTOMER in the assistant turns. Score the seller only. Return a JSON " +
		"object with dimension_scores (product_knowledge, customer_understanding, " +
		"objection_handling, value_communication, question_quality, " +
		"confidence_delivery, each 0-100), sales_specific (knowledge_base_usage, " +
		"stage_appropriateness, personalization, each EXCELLENT/GOOD/FAIR/POOR), " +
		"overall_score, strengths, improvement_areas, and summary.\n")

	var user strings.Builder
	if sctx, err := decodeSalesContext(sess); err == nil {
		fmt.Fprintf(&user, "Customer: %s\nPersona: %s\nDeal stage: %s\n\n",
			sctx.CustomerName, sctx.CustomerPersona, sctx.DealStage)
	}
	user.WriteString("Transcript:\n")
	for _, turn := range sess.Transcript {
		role := "SELLER"
		if turn.Role == types.RoleAssistant {
			role = "CUSTOMER"
		}
		fmt.Fprintf(&user, "%s: %s\n", role, turn.Text)
	}

	return llm.CompletionRequest{
		Messages:     []types.Message{{Role: "user", Content: user.String()}},
		SystemPrompt: sys.String(),
	}
}

func decodeSalesContext(sess *types.Session) (*types.SalesContext, error) {
	if sess.PreparationType != types.PrepSales {
		return nil, fmt.Errorf("evaluate: session has no sales context")
	}
	var sctx types.SalesContext
	if err := json.Unmarshal(sess.ContextPayload, &sctx); err != nil {
		return nil, fmt.Errorf("evaluate: decoding sales context: %w", err)
	}
	return &sctx, nil
}
