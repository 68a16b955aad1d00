package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StorefrontCart talks to the storefront's AJAX cart API. It reports
// outcomes only; rendering a confirmation is the widget's job.
type StorefrontCart struct {
	// BaseURL is the storefront origin, e.g. https://shop.example.com.
	BaseURL string

	http   *http.Client
	logger zerolog.Logger
}

func NewStorefrontCart(baseURL string) *StorefrontCart {
	return &StorefrontCart{
		BaseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		logger:  log.With().Str("component", "cart").Logger(),
	}
}

// AddToCart posts one variant to /cart/add.js and returns the cart API's
// response object.
func (s *StorefrontCart) AddToCart(ctx context.Context, variantID string, quantity int) (map[string]any, error) {
	if variantID == "" {
		return nil, errors.New("no variant ID provided")
	}
	if quantity <= 0 {
		quantity = 1
	}

	form := url.Values{}
	form.Set("id", variantID)
	form.Set("quantity", strconv.Itoa(quantity))

	req, err := http.NewRequestWithContext(ctx, "POST", s.BaseURL+"/cart/add.js", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.Wrap(err, "build cart request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	s.logger.Debug().Str("variant_id", variantID).Int("quantity", quantity).Msg("adding to cart")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "add to cart")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Status: resp.StatusCode}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read cart response")
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, errors.Wrap(err, "decode cart response")
	}
	return data, nil
}

// ResolveProductURL picks the navigation target for a product: the explicit
// URL when given, otherwise the canonical handle path.
func (s *StorefrontCart) ResolveProductURL(productURL, productHandle string) (string, error) {
	if productURL != "" {
		return productURL, nil
	}
	if productHandle != "" {
		return "/products/" + productHandle, nil
	}
	return "", errors.New("no product URL or handle provided")
}
