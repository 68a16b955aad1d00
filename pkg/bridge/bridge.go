package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/marionette/pkg/backend"
	"github.com/go-go-golems/marionette/pkg/frames"
	"github.com/go-go-golems/marionette/pkg/session"
	"github.com/go-go-golems/marionette/pkg/streambus"
	"github.com/go-go-golems/marionette/pkg/wire"
)

// CartGateway is the storefront-facing collaborator for cart and product
// navigation. The bridge only dispatches; cart logic lives behind this
// interface.
type CartGateway interface {
	AddToCart(ctx context.Context, variantID string, quantity int) (map[string]any, error)
	ResolveProductURL(productURL, productHandle string) (string, error)
}

// Config carries the per-bridge knobs. The zero value is completed by
// defaults in New; tests shrink the intervals.
type Config struct {
	SelfFrameID     string
	AncestorFrameID string

	PushInterval    time.Duration
	GuardResetDelay time.Duration
}

// Bridge is the explicit per-page-session context object: it owns the
// session identity, the conversation cache, the in-flight guard, and all
// message handling between the registered frames and the backend. One
// Bridge exists per page session; nothing here is ambient.
type Bridge struct {
	logger   zerolog.Logger
	provider *session.Provider
	registry *frames.Registry
	client   *backend.Client
	bus      *streambus.Bus
	cart     CartGateway

	cfg Config
	now func() time.Time

	mu            sync.Mutex
	cache         []wire.Conversation
	cacheWarm     bool
	fetchInFlight bool
	forwarders    map[string]struct{}

	pushFailures int
}

func New(provider *session.Provider, registry *frames.Registry, client *backend.Client, bus *streambus.Bus, cart CartGateway, cfg Config) *Bridge {
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = 2 * time.Second
	}
	if cfg.GuardResetDelay <= 0 {
		cfg.GuardResetDelay = time.Second
	}
	return &Bridge{
		logger:     log.With().Str("component", "bridge").Logger(),
		provider:   provider,
		registry:   registry,
		client:     client,
		bus:        bus,
		cart:       cart,
		cfg:        cfg,
		now:        time.Now,
		forwarders: map[string]struct{}{},
	}
}

// Start warms the conversation cache and schedules the session validation
// notice. Both are diagnostics or optimizations; failures are logged and
// never block the bridge.
func (b *Bridge) Start(ctx context.Context) {
	sess := b.provider.SessionData()
	if sess == nil {
		b.logger.Error().Msg("bridge started without an initialized session")
		return
	}

	go b.preloadConversations(ctx, sess.SessionID)

	validation := time.AfterFunc(3*time.Second, func() {
		if b.provider.IsValid() {
			b.logger.Info().Msg("valid store session detected")
		} else {
			b.logger.Warn().Msg("session not derived from store signals, proceeding with generated session")
		}
	})
	go func() {
		<-ctx.Done()
		validation.Stop()
	}()
}

func (b *Bridge) preloadConversations(ctx context.Context, sessionID string) {
	conversations, err := b.client.FetchAllConversations(ctx, sessionID)
	if err != nil {
		b.logger.Warn().Err(err).Msg("failed to preload conversations")
		return
	}
	b.storeCache(conversations)
	b.logger.Debug().Int("count", len(conversations)).Msg("preloaded conversations")
}

// storeCache overwrites the conversation cache wholesale. There is no
// partial merge.
func (b *Bridge) storeCache(conversations []wire.Conversation) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cache = conversations
	b.cacheWarm = true
}

func (b *Bridge) cachedConversations() ([]wire.Conversation, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.cacheWarm || len(b.cache) == 0 {
		return nil, false
	}
	return b.cache, true
}

// reply posts one envelope back to the originating frame. Delivery failure
// is logged, not retried; the frame either has a live connection or the
// reply is lost like a postMessage into a torn-down window.
func (b *Bridge) reply(senderID string, env wire.Envelope) {
	entry := b.registry.Lookup(senderID)
	if entry == nil {
		b.logger.Warn().Str("frame_id", senderID).Str("type", env.Type).Msg("reply target frame not registered")
		return
	}
	if err := entry.Post(env); err != nil {
		b.logger.Warn().Err(err).Str("frame_id", senderID).Str("type", env.Type).Msg("failed to deliver reply")
	}
}

func (b *Bridge) postToWidget(env wire.Envelope) error {
	entry := b.registry.Lookup(frames.WidgetFrameID)
	if entry == nil {
		return frames.ErrFrameNotReady
	}
	return entry.Post(env)
}
