package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/custos/internal/accountability"
	"github.com/gosuda/custos/internal/auth"
	"github.com/gosuda/custos/internal/domain"
)

// AgentResolver turns a token's agent reference into the agent itself.
type AgentResolver interface {
	Resolve(ctx context.Context, ref domain.AgentRef) (domain.Agent, error)
}

// Auth makes the bearer token's agent the current agent for the rest of the
// request. A request without credentials proceeds as the anonymous agent so
// that its refusals are still recorded. A token that fails validation or
// names an unknown agent is rejected with 401.
func Auth(jwtSecret, issuer string, agents AgentResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := extractBearer(r)
			if tok == "" {
				next.ServeHTTP(w, r)
				return
			}

			ctx, ok := authenticateJWT(r.Context(), tok, jwtSecret, issuer, agents)
			if !ok {
				http.Error(w, `{"title":"Unauthorized","status":401,"detail":"missing or invalid credentials"}`, http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return h[7:]
	}
	// Browsers cannot set headers on WebSocket upgrades.
	if r.Header.Get("Upgrade") != "" {
		return r.URL.Query().Get("access_token")
	}
	return ""
}

func authenticateJWT(ctx context.Context, tokenStr, secret, issuer string, agents AgentResolver) (context.Context, bool) {
	claims, err := auth.ValidateToken(secret, issuer, tokenStr)
	if err != nil {
		return ctx, false
	}

	ref, err := claims.AgentRef()
	if err != nil {
		return ctx, false
	}

	a, err := agents.Resolve(ctx, ref)
	if err != nil {
		log.Warn().Err(err).Str("agent", ref.String()).Msg("auth: resolve agent")
		return ctx, false
	}

	return accountability.Push(ctx, a), true
}
