package api

import (
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/pitchforge/pitchforge/pkg/fault"
)

// errorBody is the JSON error envelope every failing response carries.
type errorBody struct {
	Kind      fault.Kind `json:"kind"`
	Message   string     `json:"message"`
	Retryable bool       `json:"retryable"`
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

// httpStatus maps a fault kind to its response status.
func httpStatus(kind fault.Kind) int {
	switch kind {
	case fault.Validation:
		return http.StatusBadRequest
	case fault.Unauthorized:
		return http.StatusUnauthorized
	case fault.NotFound:
		return http.StatusNotFound
	case fault.StateConflict, fault.SessionBusy:
		return http.StatusConflict
	case fault.ProviderUnavailable, fault.IndexUnavailable:
		return http.StatusServiceUnavailable
	case fault.ProviderInvalid:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeFault renders err as the error envelope. Unclassified errors become
// INTERNAL with a generic message so internals never leak to clients.
func writeFault(c *echo.Context, err error) error {
	kind := fault.KindOf(err)
	body := errorBody{
		Kind:      kind,
		Message:   fault.Message(err),
		Retryable: fault.Retryable(err),
	}
	status := httpStatus(kind)
	if status == http.StatusInternalServerError {
		slog.ErrorContext(c.Request().Context(), "request failed",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"error", err,
		)
		body = errorBody{Kind: fault.Internal, Message: "internal error"}
	}
	return c.JSON(status, errorEnvelope{Error: body})
}
