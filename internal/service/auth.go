package service

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("auth")

// AuthService guards the operator endpoints with a static bearer token.
type AuthService struct {
	adminToken string
}

func NewAuthService(adminToken string) *AuthService {
	return &AuthService{
		adminToken: adminToken,
	}
}

func (s *AuthService) AuthAdmin(ctx context.Context, token string) error {
	_, span := tracer.Start(ctx, "Auth.Service.AuthAdmin")
	defer span.End()

	if s.adminToken == "" {
		err := fmt.Errorf("admin token is not configured")
		span.RecordError(err)
		return errors.Wrap(err, "admin endpoints disabled")
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
		err := fmt.Errorf("admin token mismatch")
		span.RecordError(err)
		return err
	}

	return nil
}
