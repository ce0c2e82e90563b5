// Package testhelpers provides utilities for testing r2ready components.
package testhelpers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// GenerateTestJWT creates a test JWT token for use when verification is disabled.
// The token has a valid structure but no signature (alg: none).
// homeTenantID may be empty for callers acting inside their own organization.
func GenerateTestJWT(sub, tenantID, role, homeTenantID string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))

	claims := map[string]any{
		"sub":  sub,
		"exp":  time.Now().Add(time.Hour).Unix(),
		"tid":  tenantID,
		"role": role,
	}
	if homeTenantID != "" {
		claims["htid"] = homeTenantID
	}
	payload, _ := json.Marshal(claims)

	return fmt.Sprintf("%s.%s.", header, base64.RawURLEncoding.EncodeToString(payload))
}

// GenerateTestJWTWithBearer returns token with "Bearer " prefix for Authorization header.
func GenerateTestJWTWithBearer(sub, tenantID, role, homeTenantID string) string {
	return "Bearer " + GenerateTestJWT(sub, tenantID, role, homeTenantID)
}
