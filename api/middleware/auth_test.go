package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	pkgAuth "github.com/pro-cess/subscriptions-backend/pkg/auth"
	"github.com/pro-cess/subscriptions-backend/pkg/config"
	"github.com/pro-cess/subscriptions-backend/pkg/enums"
	"github.com/pro-cess/subscriptions-backend/pkg/logger"
)

func authTestConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "auth-middleware-test-secret",
		Issuer:            "procsubs-test",
		ExpirationMinutes: 5,
	}
}

func authTestLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func TestAuthSeedsContextFromToken(t *testing.T) {
	cfg := authTestConfig()
	userID := uuid.New()
	token, err := pkgAuth.MintAccessToken(cfg, time.Now().UTC(), pkgAuth.AccessTokenPayload{
		UserID: userID,
		Role:   enums.UserRoleAdmin,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	var gotUser, gotRole string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotRole = RoleFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	Auth(cfg, authTestLogger())(next).ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", resp.Code, resp.Body.String())
	}
	if gotUser != userID.String() {
		t.Fatalf("expected user %s in context, got %q", userID, gotUser)
	}
	if gotRole != "admin" {
		t.Fatalf("expected role admin in context, got %q", gotRole)
	}
}

func TestAuthRejectsMissingHeader(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run without credentials")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions", nil)
	resp := httptest.NewRecorder()
	Auth(authTestConfig(), authTestLogger())(next).ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestAuthRejectsTamperedToken(t *testing.T) {
	cfg := authTestConfig()
	token, err := pkgAuth.MintAccessToken(cfg, time.Now().UTC(), pkgAuth.AccessTokenPayload{
		UserID: uuid.New(),
		Role:   enums.UserRoleCustomer,
	})
	if err != nil {
		t.Fatalf("mint token: %v", err)
	}

	wrong := cfg
	wrong.Secret = "a-different-secret-entirely"

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run with a bad signature")
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/subscriptions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	Auth(wrong, authTestLogger())(next).ServeHTTP(resp, req)

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestRequireRoleBlocksOtherRoles(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	handler := RequireRole("admin", authTestLogger())(next)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/v1/subscriptions", nil)
	req = req.WithContext(WithRole(req.Context(), "customer"))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for customer, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/admin/v1/subscriptions", nil)
	req = req.WithContext(WithRole(req.Context(), "admin"))
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for admin, got %d", resp.Code)
	}
}
