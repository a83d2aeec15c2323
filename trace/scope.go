package trace

// Scope is the binding of a span as current on an execution unit. Close
// restores whatever was current before the binding. Close is idempotent, so
// it is always safe to defer it right after acquiring the scope.
type Scope interface {
	Close()
}

type scope struct {
	unit      *unit
	prev      TraceContext
	prevSpan  *span
	prevBound bool
	closed    bool
}

func (s *scope) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.unit.current, s.unit.span, s.unit.bound = s.prev, s.prevSpan, s.prevBound
}
