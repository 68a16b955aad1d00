package session

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// SessionSource derives a session identifier from whatever page signals are
// available. genuine reports whether the id came from a real store session
// signal rather than a synthesized fallback.
type SessionSource interface {
	DeriveSessionID() (id string, genuine bool)
}

// ContextSource supplies the page and store metadata that goes into the
// session context. Read-side only; implementations never touch the network.
type ContextSource interface {
	SourceURL() string
	PageContext() string
	CartCurrency() string
	Localization() string
	StoreContext() map[string]any
}

// PageSignals is the snapshot of page state the host frame submits when it
// attaches: cookie and storage contents, page identity, and whatever store
// globals the host page could see. The bridge never scrapes anything itself.
type PageSignals struct {
	URL        string            `json:"url"`
	Path       string            `json:"path"`
	Title      string            `json:"title"`
	Hostname   string            `json:"hostname"`
	Cookies    map[string]string `json:"cookies"`
	Storage    map[string]string `json:"storage"`
	ShopDomain string            `json:"shop_domain"`
	CartToken  string            `json:"cart_token"`
	Currency   string            `json:"currency"`
	Locale     string            `json:"locale"`
	UserAgent  string            `json:"user_agent"`
	Store      map[string]any    `json:"store"`
}

// sessionCookies is the fixed priority order for store session cookies.
// First match wins.
var sessionCookies = []string{
	"_shopify_y",
	"_shopify_s",
	"_shopify_sa_p",
	"_shopify_sa_t",
	"cart",
	"_secure_session_id",
	"secure_customer_sig",
	"_shopify_tw",
	"_shopify_m",
}

var _ SessionSource = (*PageSignals)(nil)
var _ ContextSource = (*PageSignals)(nil)

// DeriveSessionID walks the session signals in priority order: store session
// cookies, then the shop domain, then the cart token, then any store-related
// storage entry, and finally a fingerprint fallback. Only a cookie hit counts
// as a genuine store session.
func (p *PageSignals) DeriveSessionID() (string, bool) {
	for _, name := range sessionCookies {
		if v := p.Cookies[name]; v != "" {
			log.Debug().Str("component", "session").Str("cookie", name).Msg("found store session cookie")
			return v, true
		}
	}

	now := time.Now().UnixMilli()

	if p.ShopDomain != "" {
		return fmt.Sprintf("shopify_%s_%d", p.ShopDomain, now), false
	}
	if p.CartToken != "" {
		return "cart_" + p.CartToken, false
	}
	for key, v := range p.Storage {
		lower := strings.ToLower(key)
		if (strings.Contains(lower, "shopify") || strings.Contains(lower, "cart")) && len(v) > 10 {
			log.Debug().Str("component", "session").Str("key", key).Msg("derived session from storage entry")
			return fmt.Sprintf("ls_%s_%d", shortToken(v), now), false
		}
	}

	fingerprint := p.Hostname + p.UserAgent + p.Locale + p.Path
	return fmt.Sprintf("session_%s_%d", shortToken(p.Hostname+fingerprint), now), false
}

func (p *PageSignals) SourceURL() string { return p.URL }

// PageContext tags the page title with the page kind derived from the path.
func (p *PageSignals) PageContext() string {
	title := p.Title
	if title == "" {
		title = "Unknown Page"
	}
	switch {
	case strings.Contains(p.Path, "/products/"):
		return "Product: " + title
	case strings.Contains(p.Path, "/collections/"):
		return "Collection: " + title
	case strings.Contains(p.Path, "/cart"):
		return "Cart: " + title
	case p.Path == "/":
		return "Home: " + title
	}
	return title
}

func (p *PageSignals) CartCurrency() string {
	if p.Currency != "" {
		return p.Currency
	}
	return "USD"
}

func (p *PageSignals) Localization() string {
	if p.Locale != "" {
		return p.Locale
	}
	return "en"
}

func (p *PageSignals) StoreContext() map[string]any {
	ctx := map[string]any{}
	for k, v := range p.Store {
		ctx[k] = v
	}
	if p.ShopDomain != "" {
		ctx["shop"] = p.ShopDomain
	}
	if p.CartToken != "" {
		ctx["cart_token"] = p.CartToken
	}
	return ctx
}

func shortToken(s string) string {
	tok := base64.StdEncoding.EncodeToString([]byte(s))
	if len(tok) > 16 {
		tok = tok[:16]
	}
	return tok
}
