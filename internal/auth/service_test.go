package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newJWTService(t *testing.T, seeds []Seed) *Service {
	t.Helper()
	store, err := NewMemoryStore(seeds)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	svc, err := NewService(context.Background(), Config{
		Mode: ModeJWT,
		JWT: JWTOptions{
			Secret:    "test-secret",
			Issuer:    "hyvbase",
			AccessTTL: 60,
		},
	}, store)
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	return svc
}

func TestAuthenticateIssuesVerifiableToken(t *testing.T) {
	svc := newJWTService(t, []Seed{{
		Username:    "operator",
		Password:    "s3cret",
		Roles:       []string{"admin"},
		Permissions: []string{"commands:write", "commands:read"},
	}})

	pair, err := svc.Authenticate(context.Background(), TokenRequest{Username: "operator", Password: "s3cret"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if pair.AccessToken == "" || pair.TokenType != "Bearer" {
		t.Fatalf("unexpected token pair: %+v", pair)
	}

	subject, err := svc.AuthenticateRequest(context.Background(), "Bearer "+pair.AccessToken)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if subject.Username != "operator" {
		t.Fatalf("unexpected subject: %+v", subject)
	}
	if err := subject.Authorize("commands:write"); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	if err := subject.Authorize("admin:delete"); err == nil {
		t.Fatalf("expected permission denied")
	}
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	svc := newJWTService(t, []Seed{{Username: "operator", Password: "s3cret"}})

	if _, err := svc.Authenticate(context.Background(), TokenRequest{Username: "operator", Password: "wrong"}); err != ErrInvalidCredentials {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.AuthenticateRequest(context.Background(), "Bearer not-a-token"); err != ErrInvalidToken {
		t.Fatalf("expected invalid token, got %v", err)
	}
	if _, err := svc.AuthenticateRequest(context.Background(), ""); err != ErrMissingToken {
		t.Fatalf("expected missing token, got %v", err)
	}
}

func TestAuthenticateRejectsDisabledUser(t *testing.T) {
	svc := newJWTService(t, []Seed{{Username: "ghost", Password: "s3cret", Disabled: true}})

	if _, err := svc.Authenticate(context.Background(), TokenRequest{Username: "ghost", Password: "s3cret"}); err != ErrSubjectRevoked {
		t.Fatalf("expected revoked subject, got %v", err)
	}
}

func TestMiddlewareEnforcesPermissions(t *testing.T) {
	svc := newJWTService(t, []Seed{{
		Username:    "reader",
		Password:    "s3cret",
		Permissions: []string{"commands:read"},
	}})

	pair, err := svc.Authenticate(context.Background(), TokenRequest{Username: "reader", Password: "s3cret"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	handler := svc.Middleware(MiddlewareConfig{
		RequiredPermissions: map[string][]string{
			http.MethodGet:  {"commands:read"},
			http.MethodPost: {"commands:write"},
		},
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if SubjectFromContext(r.Context()) == nil {
			t.Errorf("subject missing from context")
		}
		w.WriteHeader(http.StatusOK)
	}))

	get := httptest.NewRequest(http.MethodGet, "/api/v1/commands", nil)
	get.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, get)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected read access, got %d", rec.Code)
	}

	post := httptest.NewRequest(http.MethodPost, "/api/v1/commands", nil)
	post.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, post)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected forbidden, got %d", rec.Code)
	}

	anonymous := httptest.NewRequest(http.MethodGet, "/api/v1/commands", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, anonymous)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected unauthorized, got %d", rec.Code)
	}
}
