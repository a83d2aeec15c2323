package trace

import "context"

type unitKey struct{}

// unit is the current-context cell of one execution unit (a goroutine and the
// call chain it runs). It is confined to that goroutine, so it is never locked.
type unit struct {
	current TraceContext
	span    *span
	bound   bool
}

// Attach returns a context carrying a fresh, empty execution unit. Call it
// where a goroutine starts handling traced work. A unit must not be shared
// between goroutines: hand work over with Tracer.ExportAsync and
// Tracer.ImportAsync, attaching a new unit on the receiving side.
func Attach(ctx context.Context) context.Context {
	return context.WithValue(ctx, unitKey{}, &unit{})
}

// IsAttached reports whether ctx carries an execution unit.
func IsAttached(ctx context.Context) bool {
	return unitFrom(ctx) != nil
}

// CurrentContext returns the context bound as current on ctx's execution unit.
func CurrentContext(ctx context.Context) (TraceContext, bool) {
	u := unitFrom(ctx)
	if u == nil {
		return TraceContext{}, false
	}
	return u.get()
}

func unitFrom(ctx context.Context) *unit {
	if ctx == nil {
		return nil
	}
	u, _ := ctx.Value(unitKey{}).(*unit)
	return u
}

func (u *unit) get() (TraceContext, bool) {
	if u == nil || !u.bound {
		return TraceContext{}, false
	}
	return u.current, true
}

// maybeScope binds tc as current. Binding a context that is already current
// does not push, and the returned scope does nothing on Close.
func (u *unit) maybeScope(tc TraceContext, sp *span) Scope {
	if u == nil {
		return NoopScope
	}
	if u.bound && u.current.equal(tc) {
		return NoopScope
	}
	s := &scope{unit: u, prev: u.current, prevSpan: u.span, prevBound: u.bound}
	u.current, u.span, u.bound = tc, sp, true
	return s
}

// currentSpan returns the span bound as current, if it is known on this unit.
func (u *unit) currentSpan() *span {
	if u == nil || !u.bound {
		return nil
	}
	return u.span
}
