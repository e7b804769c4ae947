// Package auth resolves the calling user for every API request.
//
// With a signing secret configured, requests must carry a Bearer JWT
// (HS256) whose subject is the user id. Without one the service runs in
// dev mode and trusts the X-User-ID header, defaulting to "anon".
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/piotroramus/10x-cards-sub000/pkg/logging/logging"
)

type ctxKey int

const userIDKey ctxKey = iota

// anonUser is the dev-mode identity when no X-User-ID header is sent.
const anonUser = "anon"

// WithUserID attaches the resolved user id to the context.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the user id resolved by the middleware, or "" when the
// request never passed through it.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// Verifier authenticates incoming requests.
type Verifier struct {
	secret []byte
}

// NewVerifier builds a Verifier. An empty secret selects dev mode.
func NewVerifier(secret string) *Verifier {
	v := &Verifier{}
	if secret != "" {
		v.secret = []byte(secret)
	}
	return v
}

// DevMode reports whether requests are trusted without a token.
func (v *Verifier) DevMode() bool { return v.secret == nil }

// Middleware resolves the user and stores it in the request context.
// Requests that fail verification are rejected with a 401 and never
// reach the next handler.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v.DevMode() {
			userID := r.Header.Get("X-User-ID")
			if userID == "" {
				userID = anonUser
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
			return
		}

		header := r.Header.Get("Authorization")
		if header == "" {
			unauthorized(w, "missing authorization header")
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		if token == header {
			unauthorized(w, "invalid authorization scheme; expected 'Bearer <token>'")
			return
		}

		userID, err := v.parseSubject(token)
		if err != nil {
			logging.L(r.Context()).Debug("rejected token", zap.Error(err))
			unauthorized(w, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
	})
}

// parseSubject verifies the token and extracts the subject claim.
func (v *Verifier) parseSubject(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, v.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", jwt.ErrTokenRequiredClaimMissing
	}
	return claims.Subject, nil
}

func (v *Verifier) keyFunc(_ *jwt.Token) (any, error) {
	return v.secret, nil
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"unauthorized","message":"` + message + `"}}`))
}
