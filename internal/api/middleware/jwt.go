package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

type mobileContextKey string

const (
	mobileUserKey   mobileContextKey = "mobile_user_uuid"
	mobileTenantKey mobileContextKey = "mobile_tenant_uuid"
)

// mobileTokenIssuer is the issuer expected on mobile app tokens.
const mobileTokenIssuer = "dialmobile"

// MobileClaims holds the JWT claims carried by mobile app requests. The
// subject is the user uuid.
type MobileClaims struct {
	TenantUUID string `json:"tenant_uuid,omitempty"`
	jwt.RegisteredClaims
}

// IssueMobileToken creates a signed HS256 token for a user's mobile app.
func IssueMobileToken(secret []byte, userUUID, tenantUUID string, ttl time.Duration) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(ttl)

	claims := MobileClaims{
		TenantUUID: tenantUUID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Issuer:    mobileTokenIssuer,
			Subject:   userUUID,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// RequireMobileAuth returns middleware that validates JWT bearer tokens for
// mobile app endpoints. On success it stores the user and tenant uuids in the
// request context.
func RequireMobileAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "authentication required")
				return
			}

			scheme, tokenString, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || tokenString == "" {
				writeError(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			claims := &MobileClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return secret, nil
			})
			if err != nil || !token.Valid {
				slog.Debug("mobile auth: invalid jwt", "error", err)
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			if claims.Subject == "" || !claims.VerifyIssuer(mobileTokenIssuer, true) {
				writeError(w, http.StatusUnauthorized, "invalid token claims")
				return
			}

			ctx := context.WithValue(r.Context(), mobileUserKey, claims.Subject)
			ctx = context.WithValue(ctx, mobileTenantKey, claims.TenantUUID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MobileUserFromContext returns the authenticated user uuid, or "" if the
// request was not authenticated.
func MobileUserFromContext(ctx context.Context) string {
	user, _ := ctx.Value(mobileUserKey).(string)
	return user
}

// MobileTenantFromContext returns the authenticated user's tenant uuid.
func MobileTenantFromContext(ctx context.Context) string {
	tenant, _ := ctx.Value(mobileTenantKey).(string)
	return tenant
}
