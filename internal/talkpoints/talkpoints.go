// Package talkpoints synthesizes structured preparation documents from the
// tenant's indexed reference material. One Generate call retrieves the most
// relevant chunks for a topic, asks the LLM for the fixed seven-section
// talk-point structure as schema-validated JSON, and persists the result as
// an immutable artifact.
package talkpoints

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pitchforge/pitchforge/internal/retrieval"
	"github.com/pitchforge/pitchforge/pkg/fault"
	"github.com/pitchforge/pitchforge/pkg/provider/llm"
	"github.com/pitchforge/pitchforge/pkg/store"
	"github.com/pitchforge/pitchforge/pkg/types"
)

// Retriever is the slice of internal/retrieval the synthesizer needs.
type Retriever interface {
	Retrieve(ctx context.Context, tenantID, queryText string, k int) ([]retrieval.RetrievedChunk, error)
}

// Completer is the slice of the LLM gateway the synthesizer needs.
type Completer interface {
	CompleteJSON(ctx context.Context, req llm.CompletionRequest, schema []byte, out any) error
}

// contentSchema fixes the seven-section talk-point shape the model must
// return. Every string is non-empty and objection handling carries at least
// one pair.
const contentSchema = `{
	"type": "object",
	"required": [
		"opening_hook", "problem_statement", "solution_overview",
		"key_benefits", "proof_points", "objection_handling", "call_to_action"
	],
	"additionalProperties": false,
	"properties": {
		"opening_hook":      {"type": "string", "minLength": 1},
		"problem_statement": {"type": "string", "minLength": 1},
		"solution_overview": {"type": "string", "minLength": 1},
		"key_benefits":      {"type": "string", "minLength": 1},
		"proof_points":      {"type": "string", "minLength": 1},
		"call_to_action":    {"type": "string", "minLength": 1},
		"objection_handling": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["objection", "response"],
				"properties": {
					"objection": {"type": "string", "minLength": 1},
					"response":  {"type": "string", "minLength": 1}
				}
			}
		}
	}
}`

// Request describes one synthesis.
type Request struct {
	// Topic is what the talk points should cover. Required.
	Topic string

	// DealStage optionally positions the pitch.
	DealStage types.DealStage

	// CustomerContext optionally describes who the pitch targets.
	CustomerContext string
}

// Synthesizer generates and stores talk-point artifacts. Safe for
// concurrent use.
type Synthesizer struct {
	completer Completer
	retriever Retriever
	artifacts store.TalkPointStore
	profiles  store.ProfileStore
	k         int
}

// Option tunes a Synthesizer.
type Option func(*Synthesizer)

// WithK overrides the retrieval chunk budget per generation.
func WithK(k int) Option {
	return func(s *Synthesizer) {
		if k > 0 {
			s.k = k
		}
	}
}

// New builds a Synthesizer. profiles may be nil when company profiles are
// not used for query enrichment.
func New(completer Completer, retriever Retriever, artifacts store.TalkPointStore, profiles store.ProfileStore, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		completer: completer,
		retriever: retriever,
		artifacts: artifacts,
		profiles:  profiles,
		k:         retrieval.DefaultSynthesisK,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Generate synthesizes talk points for the request and persists the
// artifact. Retrieval yielding zero chunks is not an error: the synthesis
// proceeds with the prompt stating that no reference documents exist, and
// the artifact records sources_used = 0.
func (s *Synthesizer) Generate(ctx context.Context, tenantID string, req Request) (*types.TalkPointArtifact, error) {
	if strings.TrimSpace(req.Topic) == "" {
		return nil, fault.New(fault.Validation, "topic is required")
	}
	if req.DealStage != "" && !req.DealStage.Valid() {
		return nil, fault.Newf(fault.Validation, "unknown deal_stage %q", req.DealStage)
	}

	chunks, err := s.retriever.Retrieve(ctx, tenantID, s.buildQuery(ctx, tenantID, req), s.k)
	if err != nil {
		return nil, err
	}

	var content types.TalkPointContent
	if err := s.completer.CompleteJSON(ctx, s.buildRequest(req, chunks), []byte(contentSchema), &content); err != nil {
		return nil, err
	}

	artifact := &types.TalkPointArtifact{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		Topic:           req.Topic,
		CustomerContext: req.CustomerContext,
		DealStage:       req.DealStage,
		Content:         content,
		SourcesUsed:     len(chunks),
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.artifacts.Create(ctx, artifact); err != nil {
		return nil, err
	}
	return artifact, nil
}

// buildQuery combines topic, stage and persona hints, and the company
// profile's value proposition and industry when one exists.
func (s *Synthesizer) buildQuery(ctx context.Context, tenantID string, req Request) string {
	parts := []string{req.Topic}
	if req.DealStage != "" {
		parts = append(parts, "deal stage "+string(req.DealStage))
	}
	if req.CustomerContext != "" {
		parts = append(parts, req.CustomerContext)
	}
	if s.profiles != nil {
		if profile, err := s.profiles.Get(ctx, tenantID); err == nil {
			if profile.ValueProposition != "" {
				parts = append(parts, profile.ValueProposition)
			}
			if profile.Industry != "" {
				parts = append(parts, profile.Industry)
			}
		}
	}
	return strings.Join(parts, " ")
}

// buildRequest assembles the synthesis prompt around the retrieved chunks.
func (s *Synthesizer) buildRequest(req Request, chunks []retrieval.RetrievedChunk) llm.CompletionRequest {
	var sys strings.Builder
	sys.WriteString("You are a sales-enablement assistant. Produce talk points for an " +
		"upcoming sales conversation as a JSON object with exactly these fields: " +
		"opening_hook, problem_statement, solution_overview, key_benefits, " +
		"proof_points, objection_handling (array of {objection, response}), " +
		"call_to_action. Ground every claim in the reference excerpts when they " +
		"are available.\n")

	var user strings.Builder
	fmt.Fprintf(&user, "Topic: %s\n", req.Topic)
	if req.DealStage != "" {
		fmt.Fprintf(&user, "Deal stage: %s\n", req.DealStage)
	}
	if req.CustomerContext != "" {
		fmt.Fprintf(&user, "Customer context: %s\n", req.CustomerContext)
	}
	if len(chunks) == 0 {
		user.WriteString("\nNo reference documents are available. Produce talk points " +
			"from general sales best practice and say nothing that pretends to cite a document.\n")
	} else {
		user.WriteString("\nReference excerpts:\n")
		for i, c := range chunks {
			fmt.Fprintf(&user, "[%d] %s\n", i+1, c.Text)
		}
	}

	return llm.CompletionRequest{
		Messages:     []types.Message{{Role: "user", Content: user.String()}},
		SystemPrompt: sys.String(),
	}
}

// Get returns one artifact.
func (s *Synthesizer) Get(ctx context.Context, tenantID, talkPointID string) (*types.TalkPointArtifact, error) {
	return s.artifacts.Get(ctx, tenantID, talkPointID)
}

// List returns artifacts newest first.
func (s *Synthesizer) List(ctx context.Context, tenantID string, limit, skip int) ([]types.TalkPointArtifact, error) {
	return s.artifacts.List(ctx, tenantID, limit, skip)
}

// Delete removes an artifact. Deleting a missing artifact is NOT_FOUND.
func (s *Synthesizer) Delete(ctx context.Context, tenantID, talkPointID string) error {
	return s.artifacts.Delete(ctx, tenantID, talkPointID)
}
