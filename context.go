package spanbridge

import (
	"context"
)

type contextKey int

const agentKey contextKey = iota

// WithAgent returns a context with the agent attached.
// This is the primary way to propagate the agent through your application.
func WithAgent(ctx context.Context, a *Agent) context.Context {
	return context.WithValue(ctx, agentKey, a)
}

// agentFromContext returns the agent from the context, or the no-op agent.
func agentFromContext(ctx context.Context) *Agent {
	if a, ok := ctx.Value(agentKey).(*Agent); ok && a != nil {
		return a
	}
	return noopAgent()
}

// FromContext returns the agent from the context.
// Returns nil if no agent exists (use this for optional access).
func FromContext(ctx context.Context) *Agent {
	a, _ := ctx.Value(agentKey).(*Agent)
	return a
}
