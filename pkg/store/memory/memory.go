// Package memory provides an in-memory implementation of the PitchForge
// record stores. It backs tests and the "memory" storage backend; all data
// is lost on process exit.
//
// Every store is safe for concurrent use. CAS operations hold the write
// lock across the check and the write, which gives them the same atomicity
// the Postgres implementation gets from conditional UPDATEs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pitchforge/pitchforge/pkg/fault"
	"github.com/pitchforge/pitchforge/pkg/store"
	"github.com/pitchforge/pitchforge/pkg/types"
)

// Store bundles the in-memory sub-stores behind one constructor.
type Store struct {
	documents   *DocumentStore
	sessions    *SessionStore
	talkPoints  *TalkPointStore
	evaluations *EvaluationStore
	profiles    *ProfileStore
}

// New creates an empty in-memory store bundle.
func New() *Store {
	return &Store{
		documents: &DocumentStore{
			docs:   make(map[string]map[string]*types.Document),
			chunks: make(map[string]map[string][]types.Chunk),
		},
		sessions:    &SessionStore{sessions: make(map[string]map[string]*types.Session)},
		talkPoints:  &TalkPointStore{artifacts: make(map[string]map[string]*types.TalkPointArtifact)},
		evaluations: &EvaluationStore{evals: make(map[string]map[string]*types.Evaluation)},
		profiles:    &ProfileStore{profiles: make(map[string]*types.CompanyProfile)},
	}
}

// Documents returns the document sub-store.
func (s *Store) Documents() store.DocumentStore { return s.documents }

// Sessions returns the session sub-store.
func (s *Store) Sessions() store.SessionStore { return s.sessions }

// TalkPoints returns the talk-point sub-store.
func (s *Store) TalkPoints() store.TalkPointStore { return s.talkPoints }

// Evaluations returns the evaluation sub-store.
func (s *Store) Evaluations() store.EvaluationStore { return s.evaluations }

// Profiles returns the company-profile sub-store.
func (s *Store) Profiles() store.ProfileStore { return s.profiles }

// DocumentStore is the in-memory document and chunk store.
type DocumentStore struct {
	mu sync.RWMutex

	// docs is tenant → document ID → row.
	docs map[string]map[string]*types.Document

	// chunks is tenant → document ID → chunks in ordinal order.
	chunks map[string]map[string][]types.Chunk
}

var _ store.DocumentStore = (*DocumentStore)(nil)

func (d *DocumentStore) Create(_ context.Context, doc *types.Document) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tenant := d.docs[doc.TenantID]
	if tenant == nil {
		tenant = make(map[string]*types.Document)
		d.docs[doc.TenantID] = tenant
	}
	if _, ok := tenant[doc.ID]; ok {
		return fault.New(fault.StateConflict, fmt.Sprintf("document %s already exists", doc.ID))
	}
	cp := *doc
	tenant[doc.ID] = &cp
	return nil
}

func (d *DocumentStore) Get(_ context.Context, tenantID, documentID string) (*types.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	doc, ok := d.docs[tenantID][documentID]
	if !ok {
		return nil, notFound("document", documentID)
	}
	cp := *doc
	return &cp, nil
}

func (d *DocumentStore) List(_ context.Context, tenantID string, limit, skip int) ([]types.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	all := make([]types.Document, 0, len(d.docs[tenantID]))
	for _, doc := range d.docs[tenantID] {
		if doc.VectorOrphan {
			continue
		}
		all = append(all, *doc)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].UploadedAt.Equal(all[j].UploadedAt) {
			return all[i].UploadedAt.After(all[j].UploadedAt)
		}
		return all[i].ID < all[j].ID
	})
	return page(all, limit, skip), nil
}

func (d *DocumentStore) Transition(_ context.Context, tenantID, documentID string, from, to types.DocumentStatus, fields *store.TransitionFields) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc, ok := d.docs[tenantID][documentID]
	if !ok {
		return notFound("document", documentID)
	}
	if doc.Status != from {
		return fault.New(fault.StateConflict,
			fmt.Sprintf("document %s is %s, expected %s", documentID, doc.Status, from))
	}
	doc.Status = to
	if fields != nil {
		if fields.IndexedAt != nil {
			t := *fields.IndexedAt
			doc.IndexedAt = &t
		}
		if fields.ClaimedAt != nil {
			t := *fields.ClaimedAt
			doc.ClaimedAt = &t
		}
		if fields.ChunkCount != nil {
			doc.ChunkCount = *fields.ChunkCount
		}
		if fields.PageCount != nil {
			doc.PageCount = *fields.PageCount
		}
	}
	return nil
}

func (d *DocumentStore) SetFailed(_ context.Context, tenantID, documentID string, kind fault.Kind, detail string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc, ok := d.docs[tenantID][documentID]
	if !ok {
		return notFound("document", documentID)
	}
	if doc.Status == types.DocFailed {
		return nil
	}
	doc.Status = types.DocFailed
	doc.Error = fmt.Sprintf("%s: %s", kind, detail)
	return nil
}

func (d *DocumentStore) PutChunks(_ context.Context, tenantID, documentID string, chunks []types.Chunk) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.docs[tenantID][documentID]; !ok {
		return notFound("document", documentID)
	}
	tenant := d.chunks[tenantID]
	if tenant == nil {
		tenant = make(map[string][]types.Chunk)
		d.chunks[tenantID] = tenant
	}
	tenant[documentID] = append([]types.Chunk(nil), chunks...)
	return nil
}

func (d *DocumentStore) DeleteChunks(_ context.Context, tenantID, documentID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.chunks[tenantID], documentID)
	return nil
}

func (d *DocumentStore) GetChunks(_ context.Context, tenantID string, chunkIDs []string) ([]types.Chunk, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	byID := make(map[string]types.Chunk)
	for _, doc := range d.chunks[tenantID] {
		for _, c := range doc {
			byID[c.ID] = c
		}
	}
	out := make([]types.Chunk, 0, len(chunkIDs))
	for _, id := range chunkIDs {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (d *DocumentStore) Delete(_ context.Context, tenantID, documentID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.docs[tenantID], documentID)
	delete(d.chunks[tenantID], documentID)
	return nil
}

func (d *DocumentStore) MarkOrphan(_ context.Context, tenantID, documentID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	doc, ok := d.docs[tenantID][documentID]
	if !ok {
		return notFound("document", documentID)
	}
	doc.VectorOrphan = true
	delete(d.chunks[tenantID], documentID)
	return nil
}

func (d *DocumentStore) ListOrphans(_ context.Context, limit int) ([]types.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []types.Document
	for _, tenant := range d.docs {
		for _, doc := range tenant {
			if doc.VectorOrphan {
				out = append(out, *doc)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.Before(out[j].UploadedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (d *DocumentStore) ListStale(_ context.Context, cutoff time.Time) ([]types.Document, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []types.Document
	for _, tenant := range d.docs {
		for _, doc := range tenant {
			if doc.Status == types.DocProcessing && doc.ClaimedAt != nil && doc.ClaimedAt.Before(cutoff) {
				out = append(out, *doc)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ClaimedAt.Before(*out[j].ClaimedAt) })
	return out, nil
}

// SessionStore is the in-memory session store.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*types.Session
}

var _ store.SessionStore = (*SessionStore)(nil)

func (s *SessionStore) Create(_ context.Context, sess *types.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tenant := s.sessions[sess.TenantID]
	if tenant == nil {
		tenant = make(map[string]*types.Session)
		s.sessions[sess.TenantID] = tenant
	}
	if _, ok := tenant[sess.ID]; ok {
		return fault.New(fault.StateConflict, fmt.Sprintf("session %s already exists", sess.ID))
	}
	cp := copySession(sess)
	tenant[sess.ID] = cp
	return nil
}

func (s *SessionStore) Get(_ context.Context, tenantID, sessionID string) (*types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[tenantID][sessionID]
	if !ok {
		return nil, notFound("session", sessionID)
	}
	return copySession(sess), nil
}

func (s *SessionStore) List(_ context.Context, tenantID string, status types.SessionStatus, limit, skip int) ([]types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]types.Session, 0, len(s.sessions[tenantID]))
	for _, sess := range s.sessions[tenantID] {
		if status != "" && sess.Status != status {
			continue
		}
		all = append(all, *copySession(sess))
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	return page(all, limit, skip), nil
}

func (s *SessionStore) AppendTurns(_ context.Context, tenantID, sessionID string, expectedLen int, turns []types.TranscriptTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[tenantID][sessionID]
	if !ok {
		return notFound("session", sessionID)
	}
	if sess.Status != types.SessionInProgress {
		return fault.New(fault.StateConflict,
			fmt.Sprintf("session %s is %s, transcript is frozen", sessionID, sess.Status))
	}
	if len(sess.Transcript) != expectedLen {
		return fault.New(fault.StateConflict,
			fmt.Sprintf("session %s transcript moved: have %d turns, expected %d", sessionID, len(sess.Transcript), expectedLen))
	}
	sess.Transcript = append(sess.Transcript, turns...)
	return nil
}

func (s *SessionStore) SetStatus(_ context.Context, tenantID, sessionID string, from, to types.SessionStatus, completedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[tenantID][sessionID]
	if !ok {
		return notFound("session", sessionID)
	}
	if from != "" && sess.Status != from {
		return fault.New(fault.StateConflict,
			fmt.Sprintf("session %s is %s, expected %s", sessionID, sess.Status, from))
	}
	// Re-archiving is a no-op, not a conflict.
	if to == types.SessionArchived && sess.Status == types.SessionArchived {
		return nil
	}
	if !sess.Status.CanAdvanceTo(to) {
		return fault.New(fault.StateConflict,
			fmt.Sprintf("session %s cannot move from %s to %s", sessionID, sess.Status, to))
	}
	sess.Status = to
	if completedAt != nil {
		t := *completedAt
		sess.CompletedAt = &t
	}
	return nil
}

// TalkPointStore is the in-memory talk-point store.
type TalkPointStore struct {
	mu        sync.RWMutex
	artifacts map[string]map[string]*types.TalkPointArtifact
}

var _ store.TalkPointStore = (*TalkPointStore)(nil)

func (t *TalkPointStore) Create(_ context.Context, a *types.TalkPointArtifact) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	tenant := t.artifacts[a.TenantID]
	if tenant == nil {
		tenant = make(map[string]*types.TalkPointArtifact)
		t.artifacts[a.TenantID] = tenant
	}
	cp := *a
	tenant[a.ID] = &cp
	return nil
}

func (t *TalkPointStore) Get(_ context.Context, tenantID, talkPointID string) (*types.TalkPointArtifact, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	a, ok := t.artifacts[tenantID][talkPointID]
	if !ok {
		return nil, notFound("talk point", talkPointID)
	}
	cp := *a
	return &cp, nil
}

func (t *TalkPointStore) List(_ context.Context, tenantID string, limit, skip int) ([]types.TalkPointArtifact, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	all := make([]types.TalkPointArtifact, 0, len(t.artifacts[tenantID]))
	for _, a := range t.artifacts[tenantID] {
		all = append(all, *a)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	return page(all, limit, skip), nil
}

func (t *TalkPointStore) Delete(_ context.Context, tenantID, talkPointID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.artifacts[tenantID], talkPointID)
	return nil
}

// EvaluationStore is the in-memory evaluation store, keyed by session ID.
type EvaluationStore struct {
	mu    sync.RWMutex
	evals map[string]map[string]*types.Evaluation
}

var _ store.EvaluationStore = (*EvaluationStore)(nil)

func (e *EvaluationStore) Upsert(_ context.Context, ev *types.Evaluation) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	tenant := e.evals[ev.TenantID]
	if tenant == nil {
		tenant = make(map[string]*types.Evaluation)
		e.evals[ev.TenantID] = tenant
	}
	cp := *ev
	tenant[ev.SessionID] = &cp
	return nil
}

func (e *EvaluationStore) Get(_ context.Context, tenantID, sessionID string) (*types.Evaluation, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	ev, ok := e.evals[tenantID][sessionID]
	if !ok {
		return nil, notFound("evaluation", sessionID)
	}
	cp := *ev
	return &cp, nil
}

// ProfileStore is the in-memory company-profile store, one row per tenant.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]*types.CompanyProfile
}

var _ store.ProfileStore = (*ProfileStore)(nil)

func (p *ProfileStore) Upsert(_ context.Context, profile *types.CompanyProfile) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp := *profile
	p.profiles[profile.TenantID] = &cp
	return nil
}

func (p *ProfileStore) Get(_ context.Context, tenantID string) (*types.CompanyProfile, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	profile, ok := p.profiles[tenantID]
	if !ok {
		return nil, notFound("company profile", tenantID)
	}
	cp := *profile
	return &cp, nil
}

func notFound(entity, id string) error {
	return fault.New(fault.NotFound, fmt.Sprintf("%s %s not found", entity, id))
}

func page[T any](all []T, limit, skip int) []T {
	if skip >= len(all) {
		return []T{}
	}
	all = all[skip:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all
}

func copySession(s *types.Session) *types.Session {
	cp := *s
	cp.Transcript = append([]types.TranscriptTurn(nil), s.Transcript...)
	cp.ContextPayload = append([]byte(nil), s.ContextPayload...)
	return &cp
}
