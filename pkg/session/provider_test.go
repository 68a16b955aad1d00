package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func signals() *PageSignals {
	return &PageSignals{
		URL:      "https://shop.example.com/products/widget",
		Path:     "/products/widget",
		Title:    "Widget",
		Hostname: "shop.example.com",
		Cookies:  map[string]string{"_shopify_y": "abc123"},
		Currency: "EUR",
		Locale:   "de",
	}
}

func TestInitializeIsStableAcrossCalls(t *testing.T) {
	p := NewProvider()
	first, err := p.Initialize(signals(), signals())
	require.NoError(t, err)

	other := signals()
	other.Cookies = map[string]string{"_shopify_y": "different"}
	second, err := p.Initialize(other, other)
	require.NoError(t, err)
	require.Equal(t, first.SessionID, second.SessionID)
	require.Same(t, first, second)
}

func TestInitializeAssemblesContext(t *testing.T) {
	p := NewProvider()
	p.now = func() time.Time { return time.Unix(1700000000, 0) }
	sctx, err := p.Initialize(signals(), signals())
	require.NoError(t, err)
	require.Equal(t, "abc123", sctx.SessionID)
	require.Equal(t, "Product: Widget", sctx.PageContext)
	require.Equal(t, "EUR", sctx.CartCurrency)
	require.Equal(t, "de", sctx.Localization)
	require.True(t, p.IsValid())
}

func TestCookiePriorityOrder(t *testing.T) {
	s := signals()
	s.Cookies = map[string]string{
		"_shopify_s": "secondary",
		"_shopify_y": "primary",
		"cart":       "token",
	}
	id, genuine := s.DeriveSessionID()
	require.True(t, genuine)
	require.Equal(t, "primary", id)
}

func TestSynthesizedSessionIsNotValid(t *testing.T) {
	s := signals()
	s.Cookies = nil
	s.ShopDomain = ""

	p := NewProvider()
	sctx, err := p.Initialize(s, s)
	require.NoError(t, err)
	require.NotEmpty(t, sctx.SessionID)
	require.True(t, strings.HasPrefix(sctx.SessionID, "session_"))
	require.False(t, p.IsValid())
}

func TestShopDomainFallback(t *testing.T) {
	s := signals()
	s.Cookies = nil
	s.ShopDomain = "myshop.example.com"
	id, genuine := s.DeriveSessionID()
	require.False(t, genuine)
	require.True(t, strings.HasPrefix(id, "shopify_myshop.example.com_"))
}

func TestConversationIDMemoization(t *testing.T) {
	p := NewProvider()
	require.Empty(t, p.ConversationID())

	_, err := p.Initialize(signals(), signals())
	require.NoError(t, err)

	first := p.ConversationID()
	require.True(t, strings.HasPrefix(first, "conv_abc123_"))
	for i := 0; i < 5; i++ {
		require.Equal(t, first, p.ConversationID())
	}
}
