package handler

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/coupon-engine/internal/domain/auth"
)

const apiKeyHeader = "api_key"

// SecurityHandler authenticates administrators by HMAC-SHA256 hashed API key
// and shoppers by bearer token.
type SecurityHandler struct {
	apikeys auth.Repository
	pepper  []byte
	tokens  *auth.TokenVerifier
}

// NewSecurityHandler creates a SecurityHandler with the given API key
// repository, HMAC pepper and bearer token verifier.
func NewSecurityHandler(apikeys auth.Repository, pepper []byte, tokens *auth.TokenVerifier) *SecurityHandler {
	return &SecurityHandler{
		apikeys: apikeys,
		pepper:  pepper,
		tokens:  tokens,
	}
}

// Authenticate attaches the bearer token's user to the request context. A
// request without Authorization passes through anonymously; a malformed or
// invalid token is rejected with 401.
func (s *SecurityHandler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		scheme, raw, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
			writeFailure(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}
		userID, err := s.tokens.Verify(strings.TrimSpace(raw))
		if err != nil {
			zctx.From(r.Context()).Debug("Rejected bearer token", zap.Error(err))
			writeFailure(w, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), userID)))
	})
}

// RequireAPIKey rejects requests without a valid api_key header. The hash is
// looked up and then compared in constant time against the stored value.
func (s *SecurityHandler) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(apiKeyHeader)
		if key == "" {
			writeFailure(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		hexHash := auth.HashAPIKey(s.pepper, key)
		info, err := s.apikeys.FindByHash(r.Context(), hexHash)
		switch {
		case errors.Is(err, auth.ErrUnknownKey):
			writeFailure(w, http.StatusUnauthorized, "unauthorized")
			return
		case err != nil:
			writeError(w, r, errors.Wrap(err, "lookup api key"))
			return
		}

		computed, _ := hex.DecodeString(hexHash)
		stored, err := hex.DecodeString(info.KeyHash)
		if err != nil || subtle.ConstantTimeCompare(computed, stored) != 1 {
			writeFailure(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		lg := zctx.From(r.Context()).With(zap.String("api_key", info.ID))
		ctx := zctx.Base(auth.WithAPIKey(r.Context(), info), lg)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope rejects authenticated administrators lacking scope with 403.
// It must run after RequireAPIKey.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info := auth.APIKeyFrom(r.Context())
			if info == nil {
				writeFailure(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			if !info.HasScope(scope) {
				writeFailure(w, http.StatusForbidden, "missing scope "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
