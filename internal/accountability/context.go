// Package accountability tracks which agent is responsible for the work
// running under a context. The stack lives in the context itself, so
// concurrent requests never see each other's agents and a caller's stack
// is unchanged however the block it started exits.
package accountability

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/custos/internal/agent"
	"github.com/gosuda/custos/internal/domain"
)

type ctxKey struct{}

type frame struct {
	agent  domain.Agent
	parent *frame
	depth  int
}

// Push returns a context whose current agent is a. A nil agent pushes the
// anonymous agent.
func Push(ctx context.Context, a domain.Agent) context.Context {
	if a == nil {
		a = agent.Anonymous
	}
	parent, _ := ctx.Value(ctxKey{}).(*frame)
	f := &frame{agent: a, parent: parent, depth: 1}
	if parent != nil {
		f.depth = parent.depth + 1
	}

	log.Debug().
		Str("agent", a.AgentRef().String()).
		Int("depth", f.depth).
		Msg("accountability: push")

	return context.WithValue(ctx, ctxKey{}, f)
}

// Current returns the agent on top of the stack, or the anonymous agent.
func Current(ctx context.Context) domain.Agent {
	if f, ok := ctx.Value(ctxKey{}).(*frame); ok {
		return f.agent
	}
	return agent.Anonymous
}

func Depth(ctx context.Context) int {
	if f, ok := ctx.Value(ctxKey{}).(*frame); ok {
		return f.depth
	}
	return 0
}

// Stack returns the agents from top to bottom.
func Stack(ctx context.Context) []domain.Agent {
	f, _ := ctx.Value(ctxKey{}).(*frame)
	if f == nil {
		return nil
	}
	out := make([]domain.Agent, 0, f.depth)
	for ; f != nil; f = f.parent {
		out = append(out, f.agent)
	}
	return out
}

// With runs fn with a as the current agent.
func With(ctx context.Context, a domain.Agent, fn func(context.Context) error) error {
	return fn(Push(ctx, a))
}

// WithResult runs fn with a as the current agent and returns its result.
func WithResult[T any](ctx context.Context, a domain.Agent, fn func(context.Context) (T, error)) (T, error) {
	return fn(Push(ctx, a))
}

// Without runs fn as the anonymous agent.
func Without(ctx context.Context, fn func(context.Context) error) error {
	return With(ctx, agent.Anonymous, fn)
}

func WithoutResult[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	return WithResult(ctx, agent.Anonymous, fn)
}
