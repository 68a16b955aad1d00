package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/marionette/pkg/backend"
	"github.com/go-go-golems/marionette/pkg/bridge"
	"github.com/go-go-golems/marionette/pkg/frames"
	"github.com/go-go-golems/marionette/pkg/gate"
	"github.com/go-go-golems/marionette/pkg/persistence/statestore"
	"github.com/go-go-golems/marionette/pkg/session"
	"github.com/go-go-golems/marionette/pkg/streambus"
)

// bridgeDependencies are the collaborators that must be up before the
// bridge processes its first message.
var bridgeDependencies = []string{"statestore", "backend", "bus", "cart", "frames", "session"}

// Server owns one page session end to end: the frame registry, the session
// provider, the bridge, and the HTTP/WebSocket surface they are reached
// through.
type Server struct {
	cfg    *Config
	logger zerolog.Logger

	gates    *gate.Registry
	registry *frames.Registry
	provider *session.Provider
	bridge   *bridge.Bridge
	bus      *streambus.Bus
	store    *statestore.Store

	httpSrv  *http.Server
	upgrader websocket.Upgrader

	startOnce sync.Once
	baseCtx   context.Context
}

func New(cfg *Config) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	store, err := statestore.Open(cfg.StatePath)
	if err != nil {
		return nil, err
	}
	bus, err := streambus.New(cfg.Stream)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	registry := frames.NewRegistry(10 * time.Minute)
	provider := session.NewProvider()
	client := backend.NewClient(cfg.Backend)
	cart := backend.NewStorefrontCart(cfg.StorefrontURL)

	gates := gate.NewRegistry()
	br := bridge.New(provider, registry, client, bus, cart, bridge.Config{
		AncestorFrameID: cfg.AncestorFrameID,
	})

	s := &Server{
		cfg:      cfg,
		logger:   log.With().Str("component", "server").Logger(),
		gates:    gates,
		registry: registry,
		provider: provider,
		bridge:   br,
		bus:      bus,
		store:    store,
		// The bridge enforces frame identity itself; origin checks are an
		// embedding-level hardening concern.
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	widget := registry.EnsureFrame(frames.WidgetFrameID, frames.RoleWidget)
	widget.OnLoad(func() {
		time.AfterFunc(cfg.SettleDelay, func() {
			if s.baseCtx == nil {
				return
			}
			if err := s.bridge.PushSessionData(s.baseCtx); err != nil {
				s.logger.Debug().Err(err).Msg("initial session push did not complete")
			}
		})
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealthz)
	s.httpSrv = &http.Server{Addr: cfg.Addr, Handler: mux}

	return s, nil
}

// Run serves until the context is cancelled or an interrupt arrives. The
// readiness scheduler brings the infrastructure up in dependency order
// before the first frame can do anything useful.
func (s *Server) Run(ctx context.Context) error {
	if ctx == nil {
		return errors.New("ctx is nil")
	}
	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()
	s.startComponents(srvCtx)

	eg := errgroup.Group{}

	eg.Go(func() error {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigChan:
			log.Info().Msg("received interrupt signal, shutting down gracefully...")
		case <-srvCtx.Done():
		}
		srvCancel()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
			return err
		}
		if err := s.bus.Close(); err != nil {
			log.Error().Err(err).Msg("bus close error")
		}
		if err := s.store.Close(); err != nil {
			log.Error().Err(err).Msg("state store close error")
		}
		log.Info().Msg("server shutdown complete")
		return nil
	})

	eg.Go(func() error {
		log.Info().Str("addr", s.httpSrv.Addr).Msg("starting bridge server")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server listen error")
			return err
		}
		return nil
	})

	return eg.Wait()
}

// startComponents brings the infrastructure up in dependency order and
// records readiness, the condition the bridge activation path polls on.
func (s *Server) startComponents(ctx context.Context) {
	s.baseCtx = ctx

	sched := gate.NewScheduler(s.gates)
	sched.Register("statestore", nil, func(context.Context) {})
	sched.Register("backend", nil, func(context.Context) {})
	sched.Register("cart", nil, func(context.Context) {})
	sched.Register("bus", nil, func(context.Context) {})
	sched.Register("frames", []string{"statestore"}, func(ctx context.Context) {
		widget := s.registry.Lookup(frames.WidgetFrameID)
		frames.TrackVisibility(ctx, s.store, widget, time.Now)
	})
	sched.Run(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"missing": s.gates.Missing(bridgeDependencies),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	frameID := r.URL.Query().Get("frame_id")
	if frameID == "" {
		http.Error(w, "frame_id is required", http.StatusBadRequest)
		return
	}
	role := frames.Role(r.URL.Query().Get("role"))
	switch role {
	case frames.RoleHost, frames.RoleWidget, frames.RoleAncestor:
	default:
		http.Error(w, "role must be host, widget or ancestor", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	entry := s.registry.Attach(frameID, role, conn)
	s.logger.Info().Str("frame_id", frameID).Str("role", string(role)).Msg("frame attached")

	go s.readPump(entry, conn)
}

func (s *Server) readPump(entry *frames.Entry, conn *websocket.Conn) {
	ctx := s.baseCtx
	if ctx == nil {
		ctx = context.Background()
	}
	defer func() {
		s.registry.Detach(entry.ID(), conn)
		s.logger.Debug().Str("frame_id", entry.ID()).Msg("frame detached")
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		s.dispatch(ctx, entry, raw)
	}
}

// dispatch peels off the server-level control messages (page state the host
// frame reports about itself) and hands everything else to the bridge
// router.
func (s *Server) dispatch(ctx context.Context, entry *frames.Entry, raw []byte) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		s.logger.Debug().Err(err).Str("frame_id", entry.ID()).Msg("dropping unparseable frame message")
		return
	}

	switch probe.Type {
	case "page-signals":
		s.handlePageSignals(ctx, raw)
	case "visibility":
		s.handleVisibility(entry, raw)
	default:
		s.bridge.HandleMessage(ctx, entry.ID(), raw)
	}
}

func (s *Server) handlePageSignals(ctx context.Context, raw []byte) {
	var msg struct {
		Signals *session.PageSignals `json:"signals"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil || msg.Signals == nil {
		s.logger.Warn().Msg("page-signals message without usable signals")
		return
	}

	if _, err := s.provider.Initialize(msg.Signals, msg.Signals); err != nil {
		s.logger.Error().Err(err).Msg("failed to initialize session from page signals")
		return
	}
	s.gates.MarkReady("session")

	s.startOnce.Do(func() {
		// The bridge activates only after its collaborators report ready;
		// the poll is unbounded, matching the soft dependency on startup
		// order.
		s.gates.WaitUntilReady(ctx, bridgeDependencies, func() {
			s.bridge.Start(ctx)

			widget := s.registry.Lookup(frames.WidgetFrameID)
			frames.RestoreVisibility(ctx, s.store, widget, s.cfg.SettleDelay, time.Now)

			go func() {
				if err := s.bridge.PushSessionData(ctx); err != nil {
					s.logger.Debug().Err(err).Msg("session push after page signals did not complete")
				}
			}()
		})
	})
}

func (s *Server) handleVisibility(entry *frames.Entry, raw []byte) {
	var msg struct {
		FrameID string `json:"frame_id"`
		Visible bool   `json:"visible"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.logger.Warn().Msg("visibility message without usable payload")
		return
	}
	target := entry
	if msg.FrameID != "" && msg.FrameID != entry.ID() {
		target = s.registry.Lookup(msg.FrameID)
		if target == nil {
			s.logger.Warn().Str("frame_id", msg.FrameID).Msg("visibility update for unknown frame")
			return
		}
	}
	target.SetVisible(msg.Visible)
}
