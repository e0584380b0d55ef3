// Package types defines the shared types used across all PitchForge packages.
//
// These types form the lingua franca between the document store, the vector
// index, the ingestion pipeline, and the session engine. They are intentionally
// minimal — each package defines its own domain types, but cross-cutting data
// structures live here to avoid circular imports.
package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DocumentStatus is the lifecycle state of an uploaded document.
//
// Transitions are strictly forward: UPLOADING → PROCESSING → (INDEXED | FAILED).
// The only same-state transition is the janitor's PROCESSING → PROCESSING
// reclaim, which refreshes the claim timestamp without moving the status.
type DocumentStatus string

const (
	// DocUploading means the row exists and bytes are persisted, but no
	// ingestion worker has claimed the document yet.
	DocUploading DocumentStatus = "UPLOADING"

	// DocProcessing means an ingestion worker holds the claim and is running
	// extract → chunk → embed → index.
	DocProcessing DocumentStatus = "PROCESSING"

	// DocIndexed is the successful terminal state: chunks are stored and
	// every embedding is queryable.
	DocIndexed DocumentStatus = "INDEXED"

	// DocFailed is the failed terminal state; Document.Error carries the cause.
	DocFailed DocumentStatus = "FAILED"
)

// Document is the primary record of an uploaded reference document.
type Document struct {
	// ID is the document UUID, assigned at intake.
	ID string `json:"document_id"`

	// TenantID scopes the document; no cross-tenant read is ever legal.
	TenantID string `json:"-"`

	// Filename is the client-supplied name, used for display only.
	Filename string `json:"filename"`

	// MIME is the detected or declared content type.
	MIME string `json:"mime"`

	// ByteSize is the stored payload size.
	ByteSize int64 `json:"bytes"`

	// Source is the opaque blob URI where the raw bytes live
	// (e.g. "fs:///var/lib/pitchforge/blobs/ab/abcd" or "s3://bucket/key").
	Source string `json:"-"`

	// Status is the lifecycle state.
	Status DocumentStatus `json:"status"`

	// PageCount is set once extraction succeeds, when the extractor reports pages.
	PageCount int `json:"page_count,omitempty"`

	// ChunkCount is set on successful indexing.
	ChunkCount int `json:"chunk_count,omitempty"`

	// UploadedAt is the intake timestamp.
	UploadedAt time.Time `json:"uploaded_at"`

	// IndexedAt is set when the document reaches INDEXED.
	IndexedAt *time.Time `json:"indexed_at,omitempty"`

	// ClaimedAt is the ingestion claim timestamp; stale claims are reclaimed
	// by the janitor.
	ClaimedAt *time.Time `json:"-"`

	// Error holds the failure kind and detail for FAILED documents
	// (e.g. "EXTRACTION_ERROR: unsupported mime").
	Error string `json:"error,omitempty"`

	// VectorOrphan marks a deleted document whose vector entries could not be
	// removed; the janitor retries until the index delete succeeds.
	VectorOrphan bool `json:"-"`
}

// Chunk is a contiguous, size-bounded slice of a document's text — the
// retrieval unit. Its ID is deterministic from (document ID, ordinal) so
// re-ingestion overwrites instead of duplicating.
type Chunk struct {
	ID         string `json:"chunk_id"`
	DocumentID string `json:"document_id"`
	TenantID   string `json:"-"`

	// Ordinal is the zero-based position in document reading order.
	// Ordinals are contiguous from 0.
	Ordinal int `json:"ordinal"`

	Text string `json:"text"`

	// Page is the 1-based source page, 0 when the extractor did not
	// report per-page text.
	Page int `json:"page,omitempty"`
}

// ChunkID derives the deterministic chunk UUID for (documentID, ordinal).
// The derivation is a v5 (SHA-1) UUID in the document's namespace, so the
// same document and ordinal always map to the same ID across runs.
func ChunkID(documentID string, ordinal int) string {
	ns, err := uuid.Parse(documentID)
	if err != nil {
		// Non-UUID document IDs still get a stable derivation.
		ns = uuid.NewSHA1(uuid.NameSpaceOID, []byte(documentID))
	}
	return uuid.NewSHA1(ns, fmt.Appendf(nil, "chunk:%d", ordinal)).String()
}

// PreparationType selects the session flavor and its context payload schema.
type PreparationType string

// PrepSales is the sales-call preparation type; its context payload is a
// SalesContext. Further preparation types can be added without schema
// changes because the payload is stored as free-form JSON.
const PrepSales PreparationType = "SALES"

// DealStage is the fixed sales-opportunity lifecycle enum.
type DealStage string

const (
	StageProspecting   DealStage = "PROSPECTING"
	StageDiscovery     DealStage = "DISCOVERY"
	StageQualification DealStage = "QUALIFICATION"
	StageProposal      DealStage = "PROPOSAL"
	StageNegotiation   DealStage = "NEGOTIATION"
	StageClosing       DealStage = "CLOSING"
	StageFollowUp      DealStage = "FOLLOW_UP"
)

// DealStages lists every valid stage in lifecycle order.
var DealStages = []DealStage{
	StageProspecting,
	StageDiscovery,
	StageQualification,
	StageProposal,
	StageNegotiation,
	StageClosing,
	StageFollowUp,
}

// Valid reports whether s is one of the recognized deal stages.
func (s DealStage) Valid() bool {
	for _, v := range DealStages {
		if s == v {
			return true
		}
	}
	return false
}

// SalesContext is the context payload for SALES sessions.
type SalesContext struct {
	// CustomerName is the prospective customer or account name.
	CustomerName string `json:"customer_name"`

	// CustomerPersona is a free-text description used to bias the assistant
	// into the customer role ("Skeptical CTO at a mid-size fintech").
	CustomerPersona string `json:"customer_persona"`

	// DealStage positions the opportunity; must be one of DealStages.
	DealStage DealStage `json:"deal_stage"`
}

// SessionStatus is the session lifecycle state. It advances monotonically:
// IN_PROGRESS → COMPLETED → ARCHIVED. ARCHIVED is a soft-delete terminal.
type SessionStatus string

const (
	SessionInProgress SessionStatus = "IN_PROGRESS"
	SessionCompleted  SessionStatus = "COMPLETED"
	SessionArchived   SessionStatus = "ARCHIVED"
)

// rank orders statuses for monotonicity checks.
func (s SessionStatus) rank() int {
	switch s {
	case SessionInProgress:
		return 0
	case SessionCompleted:
		return 1
	case SessionArchived:
		return 2
	default:
		return -1
	}
}

// CanAdvanceTo reports whether moving from s to next respects the
// monotonic lifecycle.
func (s SessionStatus) CanAdvanceTo(next SessionStatus) bool {
	return s.rank() >= 0 && next.rank() > s.rank()
}

// TurnRole identifies the author of a transcript turn.
type TurnRole string

const (
	RoleUser      TurnRole = "USER"
	RoleAssistant TurnRole = "ASSISTANT"
)

// TranscriptTurn is one entry in a session transcript. Within a session,
// roles strictly alternate and timestamps are non-decreasing.
type TranscriptTurn struct {
	Role TurnRole `json:"role"`
	Text string   `json:"text"`

	// Timestamp is the server-side append time.
	Timestamp time.Time `json:"timestamp"`

	// RetrievedChunkIDs records the chunks an ASSISTANT turn consumed.
	// Empty for USER turns and for turns produced without retrieval.
	RetrievedChunkIDs []string `json:"retrieved_chunk_ids,omitempty"`
}

// Session is a turn-based persona chat grounded by the tenant's index.
type Session struct {
	ID       string `json:"session_id"`
	TenantID string `json:"-"`

	PreparationType PreparationType `json:"preparation_type"`

	// ContextPayload is the raw JSON payload for the preparation type.
	// For SALES it decodes into SalesContext.
	ContextPayload []byte `json:"-"`

	Transcript []TranscriptTurn `json:"transcript"`
	Status     SessionStatus    `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Exchanges counts complete USER/ASSISTANT pairs in the transcript.
func (s *Session) Exchanges() int {
	pairs := 0
	for i := 0; i+1 < len(s.Transcript); i += 2 {
		if s.Transcript[i].Role == RoleUser && s.Transcript[i+1].Role == RoleAssistant {
			pairs++
		}
	}
	return pairs
}

// ObjectionPair is one objection/response entry in the Objection Handling
// section of a talk-point artifact.
type ObjectionPair struct {
	Objection string `json:"objection"`
	Response  string `json:"response"`
}

// TalkPointContent is the fixed seven-section structure of a synthesized
// talk-point artifact. Every string section is non-empty; ObjectionHandling
// carries at least one pair.
type TalkPointContent struct {
	OpeningHook       string          `json:"opening_hook"`
	ProblemStatement  string          `json:"problem_statement"`
	SolutionOverview  string          `json:"solution_overview"`
	KeyBenefits       string          `json:"key_benefits"`
	ProofPoints       string          `json:"proof_points"`
	ObjectionHandling []ObjectionPair `json:"objection_handling"`
	CallToAction      string          `json:"call_to_action"`
}

// TalkPointArtifact is an immutable synthesized preparation document.
type TalkPointArtifact struct {
	ID       string `json:"talk_point_id"`
	TenantID string `json:"-"`

	Topic string `json:"topic"`

	// CustomerContext optionally describes who the pitch targets.
	CustomerContext string `json:"customer_context,omitempty"`

	// DealStage optionally positions the pitch; empty means stage-agnostic.
	DealStage DealStage `json:"deal_stage,omitempty"`

	Content TalkPointContent `json:"content"`

	// SourcesUsed is the number of retrieved chunks that grounded the
	// synthesis. Zero means the artifact was produced without documents.
	SourcesUsed int `json:"sources_used"`

	CreatedAt time.Time `json:"created_at"`
}

// QualityFlag is the qualitative rating scale for sales-specific
// evaluation aspects.
type QualityFlag string

const (
	FlagExcellent QualityFlag = "EXCELLENT"
	FlagGood      QualityFlag = "GOOD"
	FlagFair      QualityFlag = "FAIR"
	FlagPoor      QualityFlag = "POOR"
)

// Valid reports whether f is one of the recognized quality flags.
func (f QualityFlag) Valid() bool {
	switch f {
	case FlagExcellent, FlagGood, FlagFair, FlagPoor:
		return true
	}
	return false
}

// DimensionScores holds the six numeric evaluation dimensions, each in [0..100].
type DimensionScores struct {
	ProductKnowledge      int `json:"product_knowledge"`
	CustomerUnderstanding int `json:"customer_understanding"`
	ObjectionHandling     int `json:"objection_handling"`
	ValueCommunication    int `json:"value_communication"`
	QuestionQuality       int `json:"question_quality"`
	ConfidenceDelivery    int `json:"confidence_delivery"`
}

// All returns the dimensions as a slice, in declaration order.
func (d DimensionScores) All() []int {
	return []int{
		d.ProductKnowledge,
		d.CustomerUnderstanding,
		d.ObjectionHandling,
		d.ValueCommunication,
		d.QuestionQuality,
		d.ConfidenceDelivery,
	}
}

// Bounds returns the min and max across the six dimensions.
func (d DimensionScores) Bounds() (min, max int) {
	all := d.All()
	min, max = all[0], all[0]
	for _, v := range all[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	return min, max
}

// SalesFlags are the three qualitative sales-specific ratings. Only present
// on evaluations of SALES sessions.
type SalesFlags struct {
	KnowledgeBaseUsage   QualityFlag `json:"knowledge_base_usage"`
	StageAppropriateness QualityFlag `json:"stage_appropriateness"`
	Personalization      QualityFlag `json:"personalization"`
}

// Evaluation is the structured post-session scoring. One per session;
// regenerating replaces the prior evaluation.
type Evaluation struct {
	SessionID string `json:"session_id"`
	TenantID  string `json:"-"`

	DimensionScores DimensionScores `json:"dimension_scores"`

	// SalesSpecific is nil for non-SALES sessions.
	SalesSpecific *SalesFlags `json:"sales_specific,omitempty"`

	// OverallScore lies within [min, max] of the dimension scores.
	OverallScore int `json:"overall_score"`

	Strengths        []string `json:"strengths"`
	ImprovementAreas []string `json:"improvement_areas"`
	Summary          string   `json:"summary"`

	CreatedAt time.Time `json:"created_at"`
}

// CompanyProfile is the optional per-tenant company description used as
// synthesis context. It is never chunked or indexed.
type CompanyProfile struct {
	TenantID         string    `json:"-"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	ValueProposition string    `json:"value_proposition"`
	Industry         string    `json:"industry"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Message represents a single message in an LLM conversation.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string
}

// Usage reports provider token consumption for one completion call.
// Recorded for observability only; no budgeting decisions hang off it.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
