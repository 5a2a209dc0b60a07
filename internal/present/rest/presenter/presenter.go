package presenter

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/yasushisakai/ornot-server/internal/domain"
)

type errorResponse struct {
	Error string `json:"error"`
}

// OK wraps a successful response.
func OK(c echo.Context, payload any) error {
	return c.JSON(http.StatusOK, payload)
}

func BadRequest(c echo.Context, err error) error {
	slog.DebugContext(c.Request().Context(), "bad request", slog.String("error", err.Error()), slog.String("module", "rest"))
	return c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
}

func BadRequestMessage(c echo.Context, msg string) error {
	slog.DebugContext(c.Request().Context(), "bad request", slog.String("error", msg), slog.String("module", "rest"))
	return c.JSON(http.StatusBadRequest, errorResponse{Error: msg})
}

func Unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
}

func NotFound(c echo.Context, msg string) error {
	return c.JSON(http.StatusNotFound, errorResponse{Error: msg})
}

func InternalError(c echo.Context, err error) error {
	ctx := c.Request().Context()
	slog.ErrorContext(
		ctx, "internal error",
		slog.String("error", err.Error()),
		slog.String("traceId", trace.SpanContextFromContext(ctx).TraceID().String()),
		slog.String("module", "rest"),
	)
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

// Error maps the domain error taxonomy onto status codes.
func Error(c echo.Context, err error) error {
	var notFound domain.NotFoundError
	switch {
	case errors.As(err, &notFound):
		return NotFound(c, notFound.Error())
	case errors.Is(err, domain.ErrValidation):
		return BadRequest(c, err)
	case errors.Is(err, domain.ErrUnauthorized):
		return Unauthorized(c)
	case errors.Is(err, domain.ErrTimeout):
		slog.WarnContext(c.Request().Context(), "store timeout", slog.String("error", err.Error()), slog.String("module", "rest"))
		return c.JSON(http.StatusGatewayTimeout, errorResponse{Error: "store timeout"})
	case errors.Is(err, domain.ErrStoreUnavailable):
		slog.ErrorContext(c.Request().Context(), "store unavailable", slog.String("error", err.Error()), slog.String("module", "rest"))
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "store unavailable"})
	case errors.Is(err, domain.ErrNotSupported):
		return c.JSON(http.StatusNotImplemented, errorResponse{Error: err.Error()})
	default:
		return InternalError(c, err)
	}
}
