package api

import (
	"net/http"
	"strings"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/pitchforge/pitchforge/pkg/fault"
	"github.com/pitchforge/pitchforge/pkg/types"
)

type putProfileRequest struct {
	Name             string `json:"name"`
	Description      string `json:"description"`
	ValueProposition string `json:"value_proposition"`
	Industry         string `json:"industry"`
}

// putProfileHandler replaces the tenant's company profile. The profile is
// a single row per tenant; PUT is a full replace.
func (s *Server) putProfileHandler(c *echo.Context) error {
	var req putProfileRequest
	if err := c.Bind(&req); err != nil {
		return writeFault(c, fault.New(fault.Validation, "malformed request body"))
	}
	if strings.TrimSpace(req.Name) == "" {
		return writeFault(c, fault.New(fault.Validation, "name is required"))
	}

	profile := &types.CompanyProfile{
		TenantID:         tenantID(c),
		Name:             req.Name,
		Description:      req.Description,
		ValueProposition: req.ValueProposition,
		Industry:         req.Industry,
		UpdatedAt:        time.Now().UTC(),
	}
	if err := s.d.Profiles.Upsert(c.Request().Context(), profile); err != nil {
		return writeFault(c, err)
	}
	return c.JSON(http.StatusOK, profile)
}

func (s *Server) getProfileHandler(c *echo.Context) error {
	profile, err := s.d.Profiles.Get(c.Request().Context(), tenantID(c))
	if err != nil {
		return writeFault(c, err)
	}
	return c.JSON(http.StatusOK, profile)
}
