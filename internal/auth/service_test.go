package auth

import (
	"context"
	"testing"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	store, err := NewMemoryStore([]Seed{
		{Username: "operator", Password: "secret", Roles: []string{"operator"}, Permissions: []string{"runs:read", "runs:write"}},
		{Username: "viewer", Password: "readonly", Roles: []string{"viewer"}, Permissions: []string{"runs:read"}},
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	svc, err := NewService(context.Background(), Config{
		Mode: ModeJWT,
		JWT:  JWTOptions{Secret: "test-secret", Issuer: "openagent", AccessTTL: 60},
	}, store)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestAuthenticateIssuesVerifiableToken(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	pair, err := svc.Authenticate(ctx, TokenRequest{Username: "operator", Password: "secret"})
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if pair.AccessToken == "" || pair.TokenType != "Bearer" {
		t.Fatalf("unexpected token pair: %+v", pair)
	}

	subject, err := svc.AuthenticateRequest(ctx, "Bearer "+pair.AccessToken)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if subject.Username != "operator" {
		t.Fatalf("unexpected subject: %+v", subject)
	}
	if !subject.HasPermission("runs:write") {
		t.Fatal("expected operator to hold runs:write")
	}
}

func TestAuthenticateRejectsBadCredentials(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Authenticate(ctx, TokenRequest{Username: "operator", Password: "wrong"}); err != ErrInvalidCredentials {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.AuthenticateRequest(ctx, ""); err != ErrMissingToken {
		t.Fatalf("expected missing token, got %v", err)
	}
	if _, err := svc.AuthenticateRequest(ctx, "Bearer not-a-token"); err != ErrInvalidToken {
		t.Fatalf("expected invalid token, got %v", err)
	}
}

func TestAuthorizeEnforcesPermissions(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	pair, err := svc.Authenticate(ctx, TokenRequest{Username: "viewer", Password: "readonly"})
	if err != nil {
		t.Fatalf("authenticate viewer: %v", err)
	}
	subject, err := svc.AuthenticateRequest(ctx, "Bearer "+pair.AccessToken)
	if err != nil {
		t.Fatalf("verify viewer token: %v", err)
	}
	if err := subject.Authorize("runs:read"); err != nil {
		t.Fatalf("viewer should read runs: %v", err)
	}
	if err := subject.Authorize("runs:write"); err == nil {
		t.Fatal("viewer must not write runs")
	}
}
