package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/pitchforge/pitchforge/internal/talkpoints"
	"github.com/pitchforge/pitchforge/pkg/fault"
	"github.com/pitchforge/pitchforge/pkg/types"
)

type generateTalkPointsRequest struct {
	Topic           string          `json:"topic"`
	DealStage       types.DealStage `json:"deal_stage"`
	CustomerContext string          `json:"customer_context"`
}

func (s *Server) generateTalkPointsHandler(c *echo.Context) error {
	var req generateTalkPointsRequest
	if err := c.Bind(&req); err != nil {
		return writeFault(c, fault.New(fault.Validation, "malformed request body"))
	}
	artifact, err := s.d.TalkPts.Generate(c.Request().Context(), tenantID(c), talkpoints.Request{
		Topic:           req.Topic,
		DealStage:       req.DealStage,
		CustomerContext: req.CustomerContext,
	})
	if err != nil {
		return writeFault(c, err)
	}
	return c.JSON(http.StatusCreated, artifact)
}

func (s *Server) listTalkPointsHandler(c *echo.Context) error {
	limit, skip, err := pagination(c)
	if err != nil {
		return writeFault(c, err)
	}
	artifacts, err := s.d.TalkPts.List(c.Request().Context(), tenantID(c), limit, skip)
	if err != nil {
		return writeFault(c, err)
	}
	return c.JSON(http.StatusOK, map[string]any{"talk_points": artifacts})
}

func (s *Server) getTalkPointsHandler(c *echo.Context) error {
	artifact, err := s.d.TalkPts.Get(c.Request().Context(), tenantID(c), c.Param("id"))
	if err != nil {
		return writeFault(c, err)
	}
	return c.JSON(http.StatusOK, artifact)
}

func (s *Server) deleteTalkPointsHandler(c *echo.Context) error {
	if err := s.d.TalkPts.Delete(c.Request().Context(), tenantID(c), c.Param("id")); err != nil {
		return writeFault(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"deleted": true})
}
