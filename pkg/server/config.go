package server

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/marionette/pkg/backend"
	"github.com/go-go-golems/marionette/pkg/streambus"
)

// Config is the serve-time configuration, loaded from YAML with every field
// optional.
type Config struct {
	Addr          string `yaml:"addr"`
	StorefrontURL string `yaml:"storefront_url"`
	StatePath     string `yaml:"state_path"`

	// SettleDelay is how long to wait after the widget frame attaches
	// before pushing visibility and session state into it.
	SettleDelay time.Duration `yaml:"settle_delay"`

	// AncestorFrameID names the frame treated as the page's top-level
	// ancestor for allow-list routing.
	AncestorFrameID string `yaml:"ancestor_frame_id"`

	Backend backend.Endpoints  `yaml:"backend"`
	Stream  streambus.Settings `yaml:"stream"`
}

func DefaultConfig() *Config {
	return &Config{
		Addr:            ":8080",
		StatePath:       "marionette-state.db",
		SettleDelay:     500 * time.Millisecond,
		AncestorFrameID: "ancestor",
		Backend: backend.Endpoints{
			APIBaseURL: "http://localhost:3000",
			WebhookURL: "http://localhost:5678/webhook/chat",
		},
		Stream: streambus.DefaultSettings(),
	}
}

// LoadConfig reads a YAML config file over the defaults. An empty path
// returns the defaults unchanged.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}
	return cfg, nil
}
