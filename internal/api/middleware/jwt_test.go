package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func authProbe(t *testing.T) (http.Handler, *string, *string) {
	t.Helper()
	var user, tenant string
	h := RequireMobileAuth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user = MobileUserFromContext(r.Context())
		tenant = MobileTenantFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	return h, &user, &tenant
}

func TestRequireMobileAuth_Valid(t *testing.T) {
	handler, user, tenant := authProbe(t)

	token, _, err := IssueMobileToken(testSecret, "u-1", "t-1", time.Hour)
	if err != nil {
		t.Fatalf("IssueMobileToken() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodPut, "/api/v1/mobile/push-token", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d: %s", rr.Code, rr.Body.String())
	}
	if *user != "u-1" || *tenant != "t-1" {
		t.Errorf("context user/tenant = %q/%q", *user, *tenant)
	}
}

func TestRequireMobileAuth_Rejects(t *testing.T) {
	expired, _, _ := IssueMobileToken(testSecret, "u-1", "t-1", -time.Minute)
	otherKey, _, _ := IssueMobileToken([]byte("another-secret-another-secret-xx"), "u-1", "t-1", time.Hour)
	noSubject, _, _ := IssueMobileToken(testSecret, "", "t-1", time.Hour)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, MobileClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-1",
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	foreignIssuer, _ := foreign.SignedString(testSecret)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic dXNlcjpwYXNz"},
		{"empty token", "Bearer "},
		{"garbage", "Bearer not-a-jwt"},
		{"expired", "Bearer " + expired},
		{"wrong key", "Bearer " + otherKey},
		{"no subject", "Bearer " + noSubject},
		{"foreign issuer", "Bearer " + foreignIssuer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, user, _ := authProbe(t)
			req := httptest.NewRequest(http.MethodPut, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Errorf("expected 401, got %d", rr.Code)
			}
			if *user != "" {
				t.Error("handler must not run")
			}
		})
	}
}
