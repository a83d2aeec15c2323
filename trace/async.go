package trace

import "context"

// AsyncContext is a portable snapshot of the current context. It carries
// trace continuity across goroutines: export on the origin, import on the
// goroutine that resumes the work. A snapshot can be imported any number of
// times; each import returns its own Scope.
type AsyncContext interface {
	IsNoop() bool
	Context() TraceContext
	// Import binds the snapshot as current on ctx's execution unit.
	Import(ctx context.Context) Scope
}

type asyncContext struct {
	tracer *Tracer
	tc     TraceContext
	span   *span
}

func (a *asyncContext) IsNoop() bool { return false }

func (a *asyncContext) Context() TraceContext { return a.tc }

func (a *asyncContext) Import(ctx context.Context) Scope {
	return a.tracer.ImportAsync(ctx, a)
}
