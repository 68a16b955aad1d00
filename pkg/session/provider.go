package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/marionette/pkg/wire"
)

var ErrNotInitialized = errors.New("session not initialized")

// Provider assembles the page-lifetime session context and hands out the
// derived conversation id. It owns both singletons: the context is created
// once and immutable, and the conversation id is memoized on first use.
type Provider struct {
	mu      sync.Mutex
	now     func() time.Time
	session *wire.SessionContext
	genuine bool
	convID  string
}

func NewProvider() *Provider {
	return &Provider{now: time.Now}
}

// Initialize derives the session id and assembles the session context from
// the collaborators. Calling it again returns the already-initialized
// context unchanged; there is exactly one session context per page life.
func (p *Provider) Initialize(src SessionSource, pctx ContextSource) (*wire.SessionContext, error) {
	if src == nil || pctx == nil {
		return nil, errors.New("session collaborators are nil")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		return p.session, nil
	}

	id, genuine := src.DeriveSessionID()
	if id == "" {
		return nil, errors.New("session source produced an empty id")
	}
	p.session = &wire.SessionContext{
		SessionID:    id,
		SourceURL:    pctx.SourceURL(),
		PageContext:  pctx.PageContext(),
		CartCurrency: pctx.CartCurrency(),
		Localization: pctx.Localization(),
		StoreContext: pctx.StoreContext(),
		Timestamp:    p.now().UTC(),
	}
	p.genuine = genuine
	log.Info().
		Str("component", "session").
		Str("session_id", id).
		Bool("genuine", genuine).
		Msg("session initialized")
	return p.session, nil
}

// SessionData returns the initialized session context, or nil before
// Initialize has run.
func (p *Provider) SessionData() *wire.SessionContext {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// IsValid reports whether the session id came from a genuine store session
// signal. Diagnostics only; it never gates functionality.
func (p *Provider) IsValid() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session != nil && p.genuine
}

// ConversationID returns the conversation id for this page life, deriving it
// from the session id and the first-use timestamp on first call and the same
// value on every call after that. Returns "" before initialization.
func (p *Provider) ConversationID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return ""
	}
	if p.convID == "" {
		p.convID = fmt.Sprintf("conv_%s_%d", p.session.SessionID, p.now().UnixMilli())
	}
	return p.convID
}
