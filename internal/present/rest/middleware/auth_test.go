package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/yasushisakai/ornot-server/internal/service"
)

type mockAuthenticator struct {
	userID string
	token  string
}

func (m mockAuthenticator) CheckAuth(ctx context.Context, userID string, header http.Header) bool {
	return userID == m.userID && header.Get("Authorization") == "Bearer "+m.token
}

func TestRequireUserSetsRequester(t *testing.T) {
	mw := NewAuthMiddleware(mockAuthenticator{userID: "alice", token: "secret"}, service.NewAuthService("admin"))

	e := echo.New()
	e.GET("/user/:userId", func(c echo.Context) error {
		id, ok := RequesterID(c.Request().Context())
		if !ok {
			return c.NoContent(http.StatusInternalServerError)
		}
		return c.String(http.StatusOK, id)
	}, mw.RequireUser)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
		body   string
	}{
		{"own token", "/user/alice", "Bearer secret", http.StatusOK, "alice"},
		{"no token", "/user/alice", "", http.StatusUnauthorized, ""},
		{"token of another user", "/user/bob", "Bearer secret", http.StatusUnauthorized, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.body != "" && rec.Body.String() != tt.body {
				t.Fatalf("requester = %q, want %q", rec.Body.String(), tt.body)
			}
		})
	}
}

func TestRequesterIDMissing(t *testing.T) {
	if _, ok := RequesterID(context.Background()); ok {
		t.Fatalf("expected no requester on a bare context")
	}
}
