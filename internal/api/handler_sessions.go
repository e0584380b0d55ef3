package api

import (
	"encoding/json"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/pitchforge/pitchforge/pkg/fault"
	"github.com/pitchforge/pitchforge/pkg/types"
)

type createSessionRequest struct {
	PreparationType types.PreparationType `json:"preparation_type"`
	Context         json.RawMessage       `json:"context_payload"`
}

type sessionMessageRequest struct {
	Text string `json:"message"`
}

func (s *Server) createSessionHandler(c *echo.Context) error {
	var req createSessionRequest
	if err := c.Bind(&req); err != nil {
		return writeFault(c, fault.New(fault.Validation, "malformed request body"))
	}

	ctx := c.Request().Context()
	sess, err := s.d.Sessions.Create(ctx, tenantID(c), req.PreparationType, req.Context)
	if err != nil {
		return writeFault(c, err)
	}
	s.d.Metrics.ActiveSessions.Add(ctx, 1)
	return c.JSON(http.StatusCreated, sess)
}

func (s *Server) listSessionsHandler(c *echo.Context) error {
	limit, skip, err := pagination(c)
	if err != nil {
		return writeFault(c, err)
	}
	status := types.SessionStatus(c.QueryParam("status"))
	sessions, err := s.d.Sessions.List(c.Request().Context(), tenantID(c), status, limit, skip)
	if err != nil {
		return writeFault(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) getSessionHandler(c *echo.Context) error {
	sess, err := s.d.Sessions.Get(c.Request().Context(), tenantID(c), c.Param("id"))
	if err != nil {
		return writeFault(c, err)
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) sessionMessageHandler(c *echo.Context) error {
	var req sessionMessageRequest
	if err := c.Bind(&req); err != nil {
		return writeFault(c, fault.New(fault.Validation, "malformed request body"))
	}
	result, err := s.d.Sessions.Turn(c.Request().Context(), tenantID(c), c.Param("id"), req.Text)
	if err != nil {
		return writeFault(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) completeSessionHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	sess, err := s.d.Sessions.Complete(ctx, tenantID(c), c.Param("id"))
	if err != nil {
		return writeFault(c, err)
	}
	s.d.Metrics.ActiveSessions.Add(ctx, -1)
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) evaluateSessionHandler(c *echo.Context) error {
	eval, err := s.d.Evaluator.Evaluate(c.Request().Context(), tenantID(c), c.Param("id"))
	if err != nil {
		return writeFault(c, err)
	}
	return c.JSON(http.StatusOK, eval)
}

func (s *Server) getEvaluationHandler(c *echo.Context) error {
	eval, err := s.d.Evaluator.Get(c.Request().Context(), tenantID(c), c.Param("id"))
	if err != nil {
		return writeFault(c, err)
	}
	return c.JSON(http.StatusOK, eval)
}

// archiveSessionHandler soft-deletes a session. The transcript stays
// readable via GET until retention removes it.
func (s *Server) archiveSessionHandler(c *echo.Context) error {
	ctx := c.Request().Context()
	tenant, sessionID := tenantID(c), c.Param("id")

	sess, err := s.d.Sessions.Get(ctx, tenant, sessionID)
	if err != nil {
		return writeFault(c, err)
	}
	if err := s.d.Sessions.Archive(ctx, tenant, sessionID); err != nil {
		return writeFault(c, err)
	}
	if sess.Status == types.SessionInProgress {
		s.d.Metrics.ActiveSessions.Add(ctx, -1)
	}
	return c.JSON(http.StatusOK, map[string]bool{"archived": true})
}
