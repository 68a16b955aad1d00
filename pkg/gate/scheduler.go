package gate

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

// Scheduler resolves a small initialization graph: each registered component
// names the collaborators it depends on, and its start function runs once all
// of them have signaled ready on the shared registry. A started component is
// marked ready itself, unblocking its dependents without timer polling.
type Scheduler struct {
	reg *Registry

	mu    sync.Mutex
	comps []component
}

type component struct {
	name  string
	deps  []string
	start func(ctx context.Context)
}

func NewScheduler(reg *Registry) *Scheduler {
	return &Scheduler{reg: reg}
}

// Register declares a component, its dependencies, and its start function.
// Registration order does not matter; dependency order does.
func (s *Scheduler) Register(name string, deps []string, start func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comps = append(s.comps, component{name: name, deps: deps, start: start})
}

// Run launches one goroutine per component that waits for its dependencies
// and then starts it. Run returns immediately; components start as their
// dependencies resolve. A dependency that never becomes ready leaves its
// dependents waiting until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	comps := make([]component, len(s.comps))
	copy(comps, s.comps)
	s.mu.Unlock()

	for _, c := range comps {
		c := c
		go func() {
			for _, dep := range c.deps {
				select {
				case <-ctx.Done():
					return
				case <-s.reg.ReadyC(dep):
				}
			}
			log.Debug().Str("component", "gate").Str("name", c.name).Msg("dependencies resolved, starting component")
			c.start(ctx)
			s.reg.MarkReady(c.name)
		}()
	}
}
