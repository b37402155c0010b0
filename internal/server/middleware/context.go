package middleware

import (
	"context"

	"github.com/gosuda/custos/internal/accountability"
	"github.com/gosuda/custos/internal/domain"
)

// AgentFromContext returns the current agent and whether one was
// authenticated for this request.
func AgentFromContext(ctx context.Context) (domain.Agent, bool) {
	return accountability.Current(ctx), accountability.Depth(ctx) > 0
}

// RoleFromContext returns the role of the current agent. It reports false
// for agents without a role, the anonymous agent included.
func RoleFromContext(ctx context.Context) (string, bool) {
	role := domain.RoleOf(accountability.Current(ctx))
	return role, role != ""
}
