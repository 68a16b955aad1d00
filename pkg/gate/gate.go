package gate

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// PollInterval is the fixed interval at which WaitUntilReady re-checks for
// missing collaborators.
const PollInterval = 100 * time.Millisecond

// diagnosticAfterPolls controls when a still-unsatisfied wait logs a warning
// naming the missing collaborators. The wait itself stays unbounded.
const diagnosticAfterPolls = 50

// Registry tracks named collaborators and whether they have signaled ready.
// Readiness is one-way: once a name is marked ready it stays ready for the
// registry's lifetime.
type Registry struct {
	mu    sync.Mutex
	ready map[string]chan struct{}
}

func NewRegistry() *Registry {
	return &Registry{ready: map[string]chan struct{}{}}
}

func (r *Registry) channelLocked(name string) chan struct{} {
	ch, ok := r.ready[name]
	if !ok {
		ch = make(chan struct{})
		r.ready[name] = ch
	}
	return ch
}

// MarkReady signals that the named collaborator exists and is usable.
// Marking an already-ready name is a no-op.
func (r *Registry) MarkReady(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := r.channelLocked(name)
	select {
	case <-ch:
	default:
		close(ch)
	}
}

// Ready reports whether the named collaborator has signaled ready.
func (r *Registry) Ready(name string) bool {
	r.mu.Lock()
	ch := r.channelLocked(name)
	r.mu.Unlock()
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// ReadyC returns a channel closed when the named collaborator becomes ready.
func (r *Registry) ReadyC(name string) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channelLocked(name)
}

// Missing returns the subset of names that have not signaled ready yet.
func (r *Registry) Missing(names []string) []string {
	var missing []string
	for _, n := range names {
		if !r.Ready(n) {
			missing = append(missing, n)
		}
	}
	return missing
}

// WaitUntilReady polls every PollInterval until every name in names has
// signaled ready, then invokes onReady exactly once. Polling is unbounded;
// if a collaborator never appears, onReady never fires and the goroutine
// exits only when ctx is canceled. Each call tracks its own pending state,
// so calling twice schedules two independent waits.
func (r *Registry) WaitUntilReady(ctx context.Context, names []string, onReady func()) {
	go func() {
		ticker := time.NewTicker(PollInterval)
		defer ticker.Stop()
		polls := 0
		for {
			missing := r.Missing(names)
			if len(missing) == 0 {
				onReady()
				return
			}
			polls++
			if polls == diagnosticAfterPolls {
				log.Warn().
					Str("component", "gate").
					Strs("missing", missing).
					Msg("collaborators still missing after repeated polls; continuing to wait")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}
