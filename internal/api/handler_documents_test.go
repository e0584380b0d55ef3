package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/pitchforge/pitchforge/pkg/fault"
	"github.com/pitchforge/pitchforge/pkg/types"
	"github.com/pitchforge/pitchforge/pkg/vecindex"
	vecmem "github.com/pitchforge/pitchforge/pkg/vecindex/memory"
)

// ── upload ────────────────────────────────────────────────────────────────

// TestUploadDocument verifies the 202 path: blob stored, row created in
// UPLOADING, job enqueued.
func TestUploadDocument(t *testing.T) {
	f := newFixture(t)

	docID := f.upload(t, "pricing.txt", "Enterprise tier starts at 50 seats.")

	doc, err := f.store.Documents().Get(context.Background(), tenantA, docID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if doc.Status != types.DocUploading {
		t.Errorf("status = %s, want UPLOADING", doc.Status)
	}
	if doc.Filename != "pricing.txt" || doc.ByteSize == 0 {
		t.Errorf("doc = %+v", doc)
	}
	if f.enqueuer.count() != 1 {
		t.Errorf("enqueued %d jobs, want 1", f.enqueuer.count())
	}
}

// TestUploadDocument_Rejections covers the validation surface.
func TestUploadDocument_Rejections(t *testing.T) {
	f := newFixture(t)

	t.Run("unsupported mime", func(t *testing.T) {
		rec := f.uploadRaw(t, "slides.pdf", "application/pdf", "%PDF-1.4")
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
		env := decodeBody[errorEnvelope](t, rec)
		if env.Error.Kind != "VALIDATION" {
			t.Errorf("kind = %q", env.Error.Kind)
		}
	})

	t.Run("oversized payload", func(t *testing.T) {
		rec := f.uploadRaw(t, "big.txt", "text/plain", strings.Repeat("x", (1<<20)+1))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("missing file field", func(t *testing.T) {
		rec := f.do(t, http.MethodPost, "/api/v1/documents", map[string]string{"not": "a file"})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", rec.Code)
		}
	})

	if f.enqueuer.count() != 0 {
		t.Errorf("rejected uploads enqueued %d jobs", f.enqueuer.count())
	}
}

// ── list / get / delete ───────────────────────────────────────────────────

// TestListDocuments verifies listing and the pagination guard rails.
func TestListDocuments(t *testing.T) {
	f := newFixture(t)
	f.upload(t, "a.txt", "alpha")
	f.upload(t, "b.txt", "bravo")

	rec := f.do(t, http.MethodGet, "/api/v1/documents", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	resp := decodeBody[map[string][]types.Document](t, rec)
	if len(resp["documents"]) != 2 {
		t.Errorf("listed %d documents, want 2", len(resp["documents"]))
	}

	rec = f.do(t, http.MethodGet, "/api/v1/documents?limit=0", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("limit=0 status = %d, want 400", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/api/v1/documents?skip=-1", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("skip=-1 status = %d, want 400", rec.Code)
	}
}

// TestDeleteDocument verifies vectors and row go away and the operation is
// idempotent.
func TestDeleteDocument(t *testing.T) {
	f := newFixture(t)
	docID := f.upload(t, "a.txt", "alpha")

	rec := f.do(t, http.MethodDelete, "/api/v1/documents/"+docID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[map[string]bool](t, rec)
	if !resp["deleted"] {
		t.Error("deleted = false")
	}

	rec = f.do(t, http.MethodGet, "/api/v1/documents/"+docID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}

	// Second delete is still success.
	rec = f.do(t, http.MethodDelete, "/api/v1/documents/"+docID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("second delete status = %d, want 200", rec.Code)
	}
}

// ── delete retries ────────────────────────────────────────────────────────

// flakyIndex fails DeleteByDocument a fixed number of times before
// delegating.
type flakyIndex struct {
	vecindex.Index
	mu    sync.Mutex
	fail  int
	calls int
}

func (f *flakyIndex) DeleteByDocument(ctx context.Context, tenantID, documentID string) (int, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	if n <= f.fail {
		return 0, fault.New(fault.IndexUnavailable, "index offline")
	}
	return f.Index.DeleteByDocument(ctx, tenantID, documentID)
}

func (f *flakyIndex) deleteCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// TestDeleteDocument_RetriesTransientIndexFailure verifies a delete rides
// out a brief index outage instead of parking the row as an orphan.
func TestDeleteDocument_RetriesTransientIndexFailure(t *testing.T) {
	idx := &flakyIndex{Index: vecmem.New(4), fail: 2}
	f := newFixtureWithIndex(t, idx)
	docID := f.upload(t, "a.txt", "alpha")

	rec := f.do(t, http.MethodDelete, "/api/v1/documents/"+docID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := idx.deleteCalls(); got != 3 {
		t.Errorf("index delete attempts = %d, want 3", got)
	}

	if rec = f.do(t, http.MethodGet, "/api/v1/documents/"+docID, nil); rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
	orphans, err := f.store.Documents().ListOrphans(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListOrphans: %v", err)
	}
	if len(orphans) != 0 {
		t.Errorf("orphans = %d, want 0 after a recovered delete", len(orphans))
	}
}

// TestDeleteDocument_OrphansWhenIndexStaysDown verifies an extended outage
// still reports success to the client and leaves the row for the janitor.
func TestDeleteDocument_OrphansWhenIndexStaysDown(t *testing.T) {
	idx := &flakyIndex{Index: vecmem.New(4), fail: 100}
	f := newFixtureWithIndex(t, idx)
	docID := f.upload(t, "a.txt", "alpha")

	rec := f.do(t, http.MethodDelete, "/api/v1/documents/"+docID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[map[string]bool](t, rec)
	if !resp["deleted"] {
		t.Error("deleted = false")
	}

	orphans, err := f.store.Documents().ListOrphans(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListOrphans: %v", err)
	}
	if len(orphans) != 1 || orphans[0].ID != docID {
		t.Errorf("orphans = %+v, want exactly the deleted document", orphans)
	}
}

// TestDocumentTenantIsolation verifies one tenant cannot read another's
// documents.
func TestDocumentTenantIsolation(t *testing.T) {
	f := newFixture(t)
	docID := f.upload(t, "a.txt", "alpha")

	if rec := f.do(t, http.MethodGet, "/api/v1/documents/"+docID, nil); rec.Code != http.StatusOK {
		t.Fatalf("owner read status = %d", rec.Code)
	}
	if rec := f.doAs(t, "tenant-b", http.MethodGet, "/api/v1/documents/"+docID); rec.Code != http.StatusNotFound {
		t.Errorf("cross-tenant read status = %d, want 404", rec.Code)
	}
}
