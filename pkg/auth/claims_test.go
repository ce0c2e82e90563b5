package auth

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestGetClaims_Success(t *testing.T) {
	claims := &Claims{TenantID: "11111111-1111-1111-1111-111111111111", Role: "consultant"}
	claims.Subject = "user-123"

	ctx := WithClaims(context.Background(), claims)

	got, ok := GetClaims(ctx)
	if !ok {
		t.Fatal("expected claims to be found")
	}
	if got.Subject != "user-123" {
		t.Errorf("expected subject 'user-123', got %q", got.Subject)
	}
	if got.Role != "consultant" {
		t.Errorf("expected role 'consultant', got %q", got.Role)
	}
}

func TestGetClaims_WrongType(t *testing.T) {
	ctx := context.WithValue(context.Background(), ClaimsKey, "not-a-claims-struct")

	if _, ok := GetClaims(ctx); ok {
		t.Error("expected claims with wrong type to not be found")
	}
}

func TestExtractClaimsFromContext(t *testing.T) {
	tenantID := uuid.New()

	tests := []struct {
		name    string
		claims  *Claims
		wantErr bool
	}{
		{"valid", &Claims{TenantID: tenantID.String()}, false},
		{"missing tenant", &Claims{}, true},
		{"malformed tenant", &Claims{TenantID: "not-a-uuid"}, true},
		{"missing subject", &Claims{TenantID: tenantID.String()}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.name != "missing subject" {
				tt.claims.Subject = "user-1"
			}
			gotTenant, gotUser, err := ExtractClaimsFromContext(WithClaims(context.Background(), tt.claims))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if gotTenant != tenantID || gotUser != "user-1" {
				t.Errorf("got (%s, %s)", gotTenant, gotUser)
			}
		})
	}

	if _, _, err := ExtractClaimsFromContext(context.Background()); err == nil {
		t.Error("expected error without claims")
	}
}
