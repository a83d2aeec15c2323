package spanbridge

import (
	"sync"

	"go.uber.org/zap"

	"github.com/kzs0/spanbridge/config"
	"github.com/kzs0/spanbridge/metrics"
)

var (
	noopInstance *Agent
	noopOnce     sync.Once
)

// noopAgent returns a singleton agent that traces nothing.
// This is used when no agent is found in the context.
func noopAgent() *Agent {
	noopOnce.Do(func() {
		m := metrics.New("noop")
		noopInstance = &Agent{
			config:   Config{Service: "noop", Disabled: true},
			logger:   zap.NewNop(),
			metrics:  m,
			registry: metrics.NewRegistry(m),
			plugins:  config.NewRegistry(config.File{}),
			isNoop:   true,
		}
	})
	return noopInstance
}
