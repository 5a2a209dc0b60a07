package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yasushisakai/ornot-server/internal/domain"
	"github.com/yasushisakai/ornot-server/internal/service"
)

var tracer = otel.Tracer("auth")

// Authenticator proves that a bearer token belongs to a user.
type Authenticator interface {
	CheckAuth(ctx context.Context, userID string, header http.Header) bool
}

type AuthMiddleware struct {
	identity Authenticator
	admin    *service.AuthService
}

func NewAuthMiddleware(
	identity Authenticator,
	admin *service.AuthService,
) *AuthMiddleware {
	return &AuthMiddleware{
		identity: identity,
		admin:    admin,
	}
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

// RequesterID returns the user proven by RequireUser.
func RequesterID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(domain.RequesterIdCtxKey).(string)
	return id, ok && id != ""
}

// RequireUser admits the request only if its bearer token belongs to the :userId path parameter.
func (s *AuthMiddleware) RequireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, span := tracer.Start(c.Request().Context(), "Auth.Middleware.RequireUser")
		defer span.End()

		userID := c.Param("userId")
		if userID == "" || !s.identity.CheckAuth(ctx, userID, c.Request().Header) {
			span.RecordError(fmt.Errorf("check auth failed for %q", userID))
			return unauthorized(c)
		}

		ctx = context.WithValue(ctx, domain.RequesterIdCtxKey, userID)
		span.SetAttributes(attribute.String("RequesterId", userID))

		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// RequireAdmin admits the request only with the configured admin token.
func (s *AuthMiddleware) RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, span := tracer.Start(c.Request().Context(), "Auth.Middleware.RequireAdmin")
		defer span.End()

		split := strings.Split(c.Request().Header.Get("authorization"), " ")
		if len(split) != 2 || split[0] != "Bearer" {
			span.RecordError(fmt.Errorf("invalid authentication header"))
			return unauthorized(c)
		}

		if err := s.admin.AuthAdmin(ctx, split[1]); err != nil {
			span.RecordError(errors.Wrap(err, "AuthMiddleware.RequireAdmin: s.admin.AuthAdmin failed"))
			return unauthorized(c)
		}

		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}
