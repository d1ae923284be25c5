package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	apperrors "github.com/peermeet/call-server-go/internal/errors"
	"github.com/peermeet/call-server-go/internal/httputil"
	"github.com/peermeet/call-server-go/internal/token"
)

type contextKey string

const ClaimsContextKey contextKey = "claims"

// GetClaims returns the verified credential claims for the request, or nil
// when the request did not pass through the auth middleware.
func GetClaims(ctx context.Context) *token.Claims {
	if claims, ok := ctx.Value(ClaimsContextKey).(*token.Claims); ok {
		return claims
	}
	return nil
}

// AuthMiddleware verifies the bearer credential on every request. It is
// stateless: session liveness is enforced by the services, which reload the
// session row, so a revoked session fails even while its credential is
// still within its signed lifetime.
type AuthMiddleware struct {
	codec *token.Codec
}

func NewAuthMiddleware(codec *token.Codec) *AuthMiddleware {
	return &AuthMiddleware{codec: codec}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		value := extractBearer(r)
		if value == "" {
			httputil.WriteError(w, apperrors.Unauthorized("Missing credential"))
			return
		}

		claims, err := m.codec.Verify(value)
		if err != nil {
			log.Warn().Str("path", r.URL.Path).Msg("rejected invalid credential")
			httputil.WriteError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearer(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}
