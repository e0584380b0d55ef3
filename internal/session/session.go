// Package session runs turn-based customer-persona chat sessions. A session
// carries a typed context payload (for SALES: customer name, persona, deal
// stage), a strictly alternating USER/ASSISTANT transcript, and a monotonic
// lifecycle IN_PROGRESS → COMPLETED → ARCHIVED.
//
// Turns on one session are strictly serialized: a concurrent turn is
// rejected with SESSION_BUSY instead of interleaving, and no lock is held
// across the LLM call for any other session.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/antzucaro/matchr"
	"github.com/google/uuid"

	"github.com/pitchforge/pitchforge/internal/retrieval"
	"github.com/pitchforge/pitchforge/pkg/fault"
	"github.com/pitchforge/pitchforge/pkg/provider/llm"
	"github.com/pitchforge/pitchforge/pkg/store"
	"github.com/pitchforge/pitchforge/pkg/types"
)

// Retriever is the slice of internal/retrieval the engine needs.
type Retriever interface {
	Retrieve(ctx context.Context, tenantID, queryText string, k int) ([]retrieval.RetrievedChunk, error)
}

// Completer is the slice of the LLM gateway the engine needs.
type Completer interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (string, types.Usage, error)
}

// Config tunes the engine. The zero value is usable.
type Config struct {
	// HistoryTurns is how many trailing transcript turns enter the prompt.
	// Default: 10.
	HistoryTurns int

	// RetrievalK is the chunk budget per turn. Default: retrieval.DefaultChatK.
	RetrievalK int

	// MaxTokens bounds the assistant reply. Default: 1024.
	MaxTokens int

	// TurnDeadline bounds one turn end to end. Default: 30s.
	TurnDeadline time.Duration

	// MinExchanges is the number of complete USER/ASSISTANT pairs required
	// before a session may be completed. Default: 3.
	MinExchanges int
}

func (c Config) withDefaults() Config {
	if c.HistoryTurns <= 0 {
		c.HistoryTurns = 10
	}
	if c.RetrievalK <= 0 {
		c.RetrievalK = retrieval.DefaultChatK
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1024
	}
	if c.TurnDeadline <= 0 {
		c.TurnDeadline = 30 * time.Second
	}
	if c.MinExchanges <= 0 {
		c.MinExchanges = 3
	}
	return c
}

// TurnResult is the outcome of one completed turn.
type TurnResult struct {
	// AssistantText is the persona's reply.
	AssistantText string `json:"assistant_text"`

	// RetrievedChunkIDs lists the chunks that grounded the reply.
	RetrievedChunkIDs []string `json:"retrieved_chunk_ids"`

	// TurnIndex is the zero-based transcript index of the new ASSISTANT
	// turn.
	TurnIndex int `json:"turn_index"`
}

// Engine owns session lifecycle and turn execution. Safe for concurrent
// use; turns on the same session are mutually exclusive.
type Engine struct {
	sessions  store.SessionStore
	retriever Retriever
	completer Completer
	cfg       Config
	locks     *keyedLocks
}

// New builds an Engine. retriever may be nil when no index is configured;
// turns then run without grounding context.
func New(sessions store.SessionStore, retriever Retriever, completer Completer, cfg Config) *Engine {
	return &Engine{
		sessions:  sessions,
		retriever: retriever,
		completer: completer,
		cfg:       cfg.withDefaults(),
		locks:     newKeyedLocks(),
	}
}

// Create validates the context payload for the preparation type and opens a
// new IN_PROGRESS session.
func (e *Engine) Create(ctx context.Context, tenantID string, prepType types.PreparationType, payload []byte) (*types.Session, error) {
	if prepType != types.PrepSales {
		return nil, fault.Newf(fault.Validation, "unsupported preparation type %q", prepType)
	}
	if err := validateSalesContext(payload); err != nil {
		return nil, err
	}

	sess := &types.Session{
		ID:              uuid.NewString(),
		TenantID:        tenantID,
		PreparationType: prepType,
		ContextPayload:  payload,
		Status:          types.SessionInProgress,
		CreatedAt:       time.Now().UTC(),
	}
	if err := e.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// validateSalesContext decodes and checks a SALES payload. An unknown deal
// stage gets a closest-match suggestion in the error message.
func validateSalesContext(payload []byte) error {
	var sc types.SalesContext
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sc); err != nil {
		return fault.Wrap(fault.Validation, "invalid SALES context payload", err)
	}
	if strings.TrimSpace(sc.CustomerName) == "" {
		return fault.New(fault.Validation, "customer_name is required")
	}
	if strings.TrimSpace(sc.CustomerPersona) == "" {
		return fault.New(fault.Validation, "customer_persona is required")
	}
	if !sc.DealStage.Valid() {
		if suggestion := closestStage(string(sc.DealStage)); suggestion != "" {
			return fault.Newf(fault.Validation,
				"unknown deal_stage %q (did you mean %q?)", sc.DealStage, suggestion)
		}
		return fault.Newf(fault.Validation, "unknown deal_stage %q", sc.DealStage)
	}
	return nil
}

// closestStage returns the most similar valid stage, or "" when nothing
// comes close enough to be a plausible typo.
func closestStage(input string) string {
	input = strings.ToUpper(strings.TrimSpace(input))
	best, bestScore := "", 0.0
	for _, stage := range types.DealStages {
		if score := matchr.JaroWinkler(input, string(stage), false); score > bestScore {
			best, bestScore = string(stage), score
		}
	}
	if bestScore < 0.8 {
		return ""
	}
	return best
}

// Turn runs one exchange: retrieve grounding context, complete as the
// customer persona, and append both turns atomically. Concurrent turns on
// the same session fail with SESSION_BUSY.
func (e *Engine) Turn(ctx context.Context, tenantID, sessionID, userText string) (*TurnResult, error) {
	if strings.TrimSpace(userText) == "" {
		return nil, fault.New(fault.Validation, "message text is required")
	}

	if !e.locks.tryLock(tenantID + "/" + sessionID) {
		return nil, fault.Newf(fault.SessionBusy, "session %s has a turn in flight", sessionID)
	}
	defer e.locks.unlock(tenantID + "/" + sessionID)

	ctx, cancel := context.WithTimeout(ctx, e.cfg.TurnDeadline)
	defer cancel()

	sess, err := e.sessions.Get(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != types.SessionInProgress {
		return nil, fault.Newf(fault.StateConflict, "session %s is %s, not IN_PROGRESS", sessionID, sess.Status)
	}

	var chunks []retrieval.RetrievedChunk
	if sess.PreparationType == types.PrepSales && e.retriever != nil {
		chunks, err = e.retriever.Retrieve(ctx, tenantID, userText, e.cfg.RetrievalK)
		if err != nil {
			// The turn still completes, just ungrounded.
			slog.WarnContext(ctx, "RETRIEVAL_DEGRADED",
				"tenant_id", tenantID,
				"session_id", sessionID,
				"error", err)
			chunks = nil
		}
	}

	req, err := e.buildTurnRequest(sess, chunks, userText)
	if err != nil {
		return nil, err
	}

	// A completion failure leaves the transcript untouched so the user can
	// retry the same message.
	reply, _, err := e.completer.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	chunkIDs := make([]string, len(chunks))
	for i, c := range chunks {
		chunkIDs[i] = c.ChunkID
	}
	now := time.Now().UTC()
	turns := []types.TranscriptTurn{
		{Role: types.RoleUser, Text: userText, Timestamp: now},
		{Role: types.RoleAssistant, Text: reply, Timestamp: now, RetrievedChunkIDs: chunkIDs},
	}
	if err := e.sessions.AppendTurns(ctx, tenantID, sessionID, len(sess.Transcript), turns); err != nil {
		return nil, err
	}

	return &TurnResult{
		AssistantText:     reply,
		RetrievedChunkIDs: chunkIDs,
		TurnIndex:         len(sess.Transcript) + 1,
	}, nil
}

// buildTurnRequest assembles the persona prompt: system contract plus
// enumerated sources, trailing transcript history, then the new user turn.
func (e *Engine) buildTurnRequest(sess *types.Session, chunks []retrieval.RetrievedChunk, userText string) (llm.CompletionRequest, error) {
	var sc types.SalesContext
	if err := json.Unmarshal(sess.ContextPayload, &sc); err != nil {
		return llm.CompletionRequest{}, fault.Wrap(fault.Internal, "decoding session context", err)
	}

	var sys strings.Builder
	fmt.Fprintf(&sys, "You are role-playing a prospective customer in a sales conversation.\n")
	fmt.Fprintf(&sys, "Customer: %s\nPersona: %s\nDeal stage: %s\n\n", sc.CustomerName, sc.CustomerPersona, sc.DealStage)
	sys.WriteString("Act as this customer. Ask realistic, evidence-aware questions, raise " +
		"plausible objections, and stay in character. Use the reference excerpts below " +
		"only where a customer plausibly would.\n")

	if len(chunks) > 0 {
		sys.WriteString("\nReference excerpts:\n")
		for i, c := range chunks {
			fmt.Fprintf(&sys, "[%d] %s\n", i+1, c.Text)
		}
	} else {
		sys.WriteString("\nNo reference excerpts are available for this turn.\n")
	}

	history := sess.Transcript
	if len(history) > e.cfg.HistoryTurns {
		history = history[len(history)-e.cfg.HistoryTurns:]
	}
	messages := make([]types.Message, 0, len(history)+1)
	for _, turn := range history {
		role := "user"
		if turn.Role == types.RoleAssistant {
			role = "assistant"
		}
		messages = append(messages, types.Message{Role: role, Content: turn.Text})
	}
	messages = append(messages, types.Message{Role: "user", Content: userText})

	return llm.CompletionRequest{
		Messages:     messages,
		SystemPrompt: sys.String(),
		MaxTokens:    e.cfg.MaxTokens,
	}, nil
}

// Complete closes an IN_PROGRESS session. Requires at least MinExchanges
// complete USER/ASSISTANT pairs.
func (e *Engine) Complete(ctx context.Context, tenantID, sessionID string) (*types.Session, error) {
	sess, err := e.sessions.Get(ctx, tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	if got := sess.Exchanges(); got < e.cfg.MinExchanges {
		return nil, fault.Newf(fault.Validation,
			"session has %d exchanges, needs %d to complete", got, e.cfg.MinExchanges)
	}

	now := time.Now().UTC()
	err = e.sessions.SetStatus(ctx, tenantID, sessionID, types.SessionInProgress, types.SessionCompleted, &now)
	if err != nil {
		return nil, err
	}
	return e.sessions.Get(ctx, tenantID, sessionID)
}

// Archive soft-deletes a session from any earlier state.
func (e *Engine) Archive(ctx context.Context, tenantID, sessionID string) error {
	return e.sessions.SetStatus(ctx, tenantID, sessionID, "", types.SessionArchived, nil)
}

// Get returns one session with its full transcript.
func (e *Engine) Get(ctx context.Context, tenantID, sessionID string) (*types.Session, error) {
	return e.sessions.Get(ctx, tenantID, sessionID)
}

// List returns sessions newest first, optionally filtered by status.
func (e *Engine) List(ctx context.Context, tenantID string, status types.SessionStatus, limit, skip int) ([]types.Session, error) {
	return e.sessions.List(ctx, tenantID, status, limit, skip)
}
