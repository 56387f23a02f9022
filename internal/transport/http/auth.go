package httptransport

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	derrors "landledger/pkg/domain-errors"
	id "landledger/pkg/domain"
	"landledger/pkg/platform/httputil"
	"landledger/pkg/requestcontext"
)

// TokenIssuer mints and verifies the bearer tokens the API accepts. The
// subject claim is the acting identity's id; services read it from the
// request context and apply their own role checks.
type TokenIssuer struct {
	key []byte
	ttl time.Duration
}

func NewTokenIssuer(key string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{key: []byte(key), ttl: ttl}
}

// Issue returns a signed token for the identity.
func (t *TokenIssuer) Issue(identityID id.IdentityID) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   identityID.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
}

// Verify parses the token and returns the acting identity.
func (t *TokenIssuer) Verify(tokenString string) (id.IdentityID, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.RegisteredClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return t.key, nil
	})
	if err != nil || !token.Valid {
		return "", derrors.Wrap(derrors.CodeUnauthorized, "invalid or expired token", err)
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", derrors.New(derrors.CodeUnauthorized, "token has no subject")
	}
	return id.IdentityID(claims.Subject), nil
}

// RequireAuth rejects requests without a valid bearer token and pins the
// acting identity in the request context.
func RequireAuth(issuer *TokenIssuer, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(r.Context(), "missing bearer token",
					"request_id", requestcontext.RequestID(r.Context()),
					"path", r.URL.Path,
				)
				httputil.WriteError(w, derrors.New(derrors.CodeUnauthorized, "missing bearer token"))
				return
			}
			actor, err := issuer.Verify(token)
			if err != nil {
				logger.WarnContext(r.Context(), "rejected bearer token",
					"request_id", requestcontext.RequestID(r.Context()),
					"error", err,
				)
				httputil.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(requestcontext.WithActor(r.Context(), actor)))
		})
	}
}
