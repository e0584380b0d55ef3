package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/pitchforge/pitchforge/internal/observe"
	"github.com/pitchforge/pitchforge/internal/resilience"
	"github.com/pitchforge/pitchforge/pkg/fault"
	"github.com/pitchforge/pitchforge/pkg/types"
)

// uploadDocumentHandler accepts a multipart document, stores the payload,
// and queues it for indexing. Responds 202: indexing is asynchronous and
// progress is visible via GET /documents/:id or the event feed.
func (s *Server) uploadDocumentHandler(c *echo.Context) error {
	tenant := tenantID(c)

	fh, err := c.FormFile("file")
	if err != nil {
		return writeFault(c, fault.New(fault.Validation, `multipart "file" field is required`))
	}
	if fh.Size > s.cfg.MaxUploadBytes {
		return writeFault(c, fault.Newf(fault.Validation,
			"file is %d bytes, limit is %d", fh.Size, s.cfg.MaxUploadBytes))
	}

	mime := fh.Header.Get("Content-Type")
	if mime == "" {
		mime = "application/octet-stream"
	}
	if !s.d.Extractor.Supports(mime) {
		return writeFault(c, fault.Newf(fault.Validation, "unsupported content type %q", mime))
	}

	f, err := fh.Open()
	if err != nil {
		return writeFault(c, fault.Wrap(fault.Internal, "reading upload", err))
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return writeFault(c, fault.Wrap(fault.Internal, "reading upload", err))
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return writeFault(c, fault.Newf(fault.Validation,
			"file exceeds the %d byte limit", s.cfg.MaxUploadBytes))
	}

	ctx := c.Request().Context()
	docID := uuid.NewString()
	uri, err := s.d.Blobs.Put(ctx, tenant+"/"+docID, data)
	if err != nil {
		return writeFault(c, fault.Wrap(fault.Internal, "storing payload", err))
	}

	doc := &types.Document{
		ID:         docID,
		TenantID:   tenant,
		Filename:   fh.Filename,
		MIME:       mime,
		ByteSize:   int64(len(data)),
		Source:     uri,
		Status:     types.DocUploading,
		UploadedAt: time.Now().UTC(),
	}
	if err := s.d.Docs.Create(ctx, doc); err != nil {
		return writeFault(c, err)
	}
	if err := s.d.Pipeline.Enqueue(ctx, tenant, docID); err != nil {
		return writeFault(c, err)
	}

	return c.JSON(http.StatusAccepted, map[string]string{
		"document_id": docID,
		"status":      "processing",
	})
}

func (s *Server) listDocumentsHandler(c *echo.Context) error {
	limit, skip, err := pagination(c)
	if err != nil {
		return writeFault(c, err)
	}
	docs, err := s.d.Docs.List(c.Request().Context(), tenantID(c), limit, skip)
	if err != nil {
		return writeFault(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"documents": docs})
}

func (s *Server) getDocumentHandler(c *echo.Context) error {
	doc, err := s.d.Docs.Get(c.Request().Context(), tenantID(c), c.Param("id"))
	if err != nil {
		return writeFault(c, err)
	}
	return c.JSON(http.StatusOK, doc)
}

// deleteDocumentHandler removes a document. Vector entries go first; when
// the index delete still fails after retries the row is parked as an orphan
// for the janitor and the client still sees success. Deleting a missing
// document is a no-op.
func (s *Server) deleteDocumentHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	tenant, docID := tenantID(c), c.Param("id")

	doc, err := s.d.Docs.Get(ctx, tenant, docID)
	if err != nil {
		if fault.IsKind(err, fault.NotFound) {
			return c.JSON(http.StatusOK, map[string]bool{"deleted": true})
		}
		return writeFault(c, err)
	}

	err = resilience.Retry(ctx, resilience.RetryConfig{Name: "document vector delete"},
		func(ctx context.Context) error {
			_, err := s.d.Index.DeleteByDocument(ctx, tenant, docID)
			return err
		})
	if err != nil {
		if err := s.d.Docs.MarkOrphan(ctx, tenant, docID); err != nil {
			return writeFault(c, err)
		}
		return c.JSON(http.StatusOK, map[string]bool{"deleted": true})
	}
	if err := s.d.Blobs.Delete(ctx, doc.Source); err != nil {
		observe.Logger(ctx).Warn("leaving unreferenced blob behind",
			"document_id", docID, "uri", doc.Source, "error", err)
	}
	if err := s.d.Docs.Delete(ctx, tenant, docID); err != nil {
		return writeFault(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"deleted": true})
}

// pagination reads limit and skip query parameters with sane bounds.
func pagination(c *echo.Context) (limit, skip int, err error) {
	limit, skip = 50, 0
	if v := c.QueryParam("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit <= 0 || limit > 500 {
			return 0, 0, fault.Newf(fault.Validation, "limit %q must be in [1, 500]", v)
		}
	}
	if v := c.QueryParam("skip"); v != "" {
		skip, err = strconv.Atoi(v)
		if err != nil || skip < 0 {
			return 0, 0, fault.Newf(fault.Validation, "skip %q must not be negative", v)
		}
	}
	return limit, skip, nil
}
