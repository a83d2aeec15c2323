package internal

import (
	"crypto/rand"
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/openzipkin/zipkin-go/model"
)

// NewTraceID generates a new random 128-bit trace ID.
func NewTraceID() model.TraceID {
	u := uuid.New()
	id := model.TraceID{
		High: binary.BigEndian.Uint64(u[:8]),
		Low:  binary.BigEndian.Uint64(u[8:]),
	}
	if id.Low == 0 {
		id.Low = uint64(NewSpanID())
	}
	return id
}

// NewSpanID generates a new random, non-zero span ID.
func NewSpanID() model.ID {
	var b [8]byte
	for {
		_, _ = rand.Read(b[:])
		if id := binary.BigEndian.Uint64(b[:]); id != 0 {
			return model.ID(id)
		}
	}
}
