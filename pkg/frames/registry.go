package frames

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/marionette/pkg/wire"
)

// Entry is one registered frame: a stable identity plus the pool of live
// connections currently backing it.
type Entry struct {
	id   string
	role Role
	pool *Pool

	mu       sync.Mutex
	loadHook func()
	loadOnce sync.Once

	visible     bool
	visWatchers []func(bool)
}

func (e *Entry) ID() string  { return e.id }
func (e *Entry) Role() Role  { return e.role }
func (e *Entry) Pool() *Pool { return e.pool }

// Connected reports whether the frame has at least one live connection.
func (e *Entry) Connected() bool {
	return e != nil && !e.pool.IsEmpty()
}

// Post marshals the envelope and delivers it to every live connection of the
// frame. Fails with ErrFrameNotReady when no connection is attached.
func (e *Entry) Post(env wire.Envelope) error {
	if e == nil || e.pool.IsEmpty() {
		return ErrFrameNotReady
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	e.pool.Broadcast(data)
	return nil
}

// OnLoad registers the hook invoked once when the frame first attaches. Only
// the first registration wins; a frame's load handler is never registered
// twice even when competing instances race for the same identifier.
func (e *Entry) OnLoad(fn func()) {
	if e == nil || fn == nil {
		return
	}
	e.mu.Lock()
	already := e.loadHook != nil
	if !already {
		e.loadHook = fn
	}
	e.mu.Unlock()
	if already {
		log.Debug().Str("component", "frames").Str("frame_id", e.id).Msg("load hook already registered, ignoring")
	}
}

func (e *Entry) fireLoad() {
	e.loadOnce.Do(func() {
		e.mu.Lock()
		fn := e.loadHook
		e.mu.Unlock()
		if fn != nil {
			fn()
		}
	})
}

// SetVisible records the frame's visual state and notifies watchers. Every
// observed change is reported, including redundant ones; persistence treats
// redundant writes as harmless.
func (e *Entry) SetVisible(visible bool) {
	if e == nil {
		return
	}
	e.mu.Lock()
	e.visible = visible
	watchers := make([]func(bool), len(e.visWatchers))
	copy(watchers, e.visWatchers)
	e.mu.Unlock()
	for _, fn := range watchers {
		fn(visible)
	}
}

func (e *Entry) Visible() bool {
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.visible
}

// WatchVisibility registers a callback invoked on every SetVisible.
func (e *Entry) WatchVisibility(fn func(visible bool)) {
	if e == nil || fn == nil {
		return
	}
	e.mu.Lock()
	e.visWatchers = append(e.visWatchers, fn)
	e.mu.Unlock()
}

// Registry locates or creates frames by identifier and tolerates races where
// a frame with a reserved identifier arrives later or from another source:
// watchers observe attachments the way the original observed DOM mutations.
type Registry struct {
	mu          sync.Mutex
	frames      map[string]*Entry
	watchers    []chan *Entry
	idleTimeout time.Duration
}

func NewRegistry(idleTimeout time.Duration) *Registry {
	return &Registry{
		frames:      map[string]*Entry{},
		idleTimeout: idleTimeout,
	}
}

// EnsureFrame returns the frame registered under id, creating the entry when
// it does not exist yet. Creation registers identity only; connections attach
// later.
func (r *Registry) EnsureFrame(id string, role Role) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureLocked(id, role)
}

func (r *Registry) ensureLocked(id string, role Role) *Entry {
	if e, ok := r.frames[id]; ok {
		return e
	}
	e := &Entry{id: id, role: role}
	e.pool = NewPool(id, r.idleTimeout, func() { r.evict(e) })
	r.frames[id] = e
	log.Debug().Str("component", "frames").Str("frame_id", id).Str("role", string(role)).Msg("frame registered")
	return e
}

// evict drops a frame whose connection pool stayed empty past the idle
// timeout, so abandoned frame identities do not accumulate. A frame that
// reattached in the meantime, or was already replaced under its id, is left
// alone.
func (r *Registry) evict(e *Entry) {
	r.mu.Lock()
	current, ok := r.frames[e.id]
	if !ok || current != e || !e.pool.IsEmpty() {
		r.mu.Unlock()
		return
	}
	delete(r.frames, e.id)
	r.mu.Unlock()
	log.Debug().Str("component", "frames").Str("frame_id", e.id).Msg("idle frame evicted")
}

// Lookup returns the frame registered under id, or nil.
func (r *Registry) Lookup(id string) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames[id]
}

// Attach binds a live connection to the frame registered under id, creating
// the entry if needed. The first attachment counts as the frame's load event
// and fires the load hook exactly once, regardless of which competing
// instance won the identifier. Watchers are notified on every attachment.
func (r *Registry) Attach(id string, role Role, conn Conn) *Entry {
	r.mu.Lock()
	e := r.ensureLocked(id, role)
	watchers := make([]chan *Entry, len(r.watchers))
	copy(watchers, r.watchers)
	r.mu.Unlock()

	e.pool.Add(conn)
	e.fireLoad()
	for _, ch := range watchers {
		select {
		case ch <- e:
		default:
		}
	}
	return e
}

// Detach removes a connection from the frame registered under id.
func (r *Registry) Detach(id string, conn Conn) {
	if e := r.Lookup(id); e != nil {
		e.pool.Remove(conn)
	}
}

// Watch returns a channel receiving frames as connections attach, covering
// late-arriving frames inserted by other parties.
func (r *Registry) Watch() <-chan *Entry {
	ch := make(chan *Entry, 4)
	r.mu.Lock()
	r.watchers = append(r.watchers, ch)
	r.mu.Unlock()
	return ch
}
