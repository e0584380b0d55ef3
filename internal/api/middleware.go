package api

import (
	"log/slog"

	echo "github.com/labstack/echo/v5"

	"github.com/pitchforge/pitchforge/pkg/fault"
)

// tenantHeader carries the authenticated principal. Upstream auth
// (gateway, oauth proxy) is responsible for setting it; this core trusts
// the value as-is.
const tenantHeader = "X-Tenant-ID"

// requireTenant rejects requests without a tenant principal. Every /api/v1
// route runs behind it.
func requireTenant() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if c.Request().Header.Get(tenantHeader) == "" {
				return writeFault(c, fault.New(fault.Unauthorized, "missing "+tenantHeader+" header"))
			}
			return next(c)
		}
	}
}

// tenantID returns the principal requireTenant verified.
func tenantID(c *echo.Context) string {
	return c.Request().Header.Get(tenantHeader)
}

// recoverPanics converts handler panics into a 500 envelope instead of
// tearing down the connection.
func recoverPanics() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) (err error) {
			defer func() {
				if r := recover(); r != nil {
					slog.ErrorContext(c.Request().Context(), "handler panicked",
						"method", c.Request().Method,
						"path", c.Request().URL.Path,
						"panic", r,
					)
					err = writeFault(c, fault.Newf(fault.Internal, "internal error"))
				}
			}()
			return next(c)
		}
	}
}
