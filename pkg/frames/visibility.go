package frames

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// VisibilityTTL is how long a persisted open state stays valid. Older
// records are ignored and the frame keeps its default hidden state.
const VisibilityTTL = time.Hour

// VisibilityStore persists a frame's open/closed state across page loads.
type VisibilityStore interface {
	SaveVisibility(ctx context.Context, frameID string, visible bool, ts time.Time) error
	LoadVisibility(ctx context.Context, frameID string) (visible bool, ts time.Time, ok bool, err error)
}

// TrackVisibility persists every observed visibility change of the frame.
func TrackVisibility(ctx context.Context, store VisibilityStore, e *Entry, now func() time.Time) {
	if store == nil || e == nil {
		return
	}
	if now == nil {
		now = time.Now
	}
	e.WatchVisibility(func(visible bool) {
		if err := store.SaveVisibility(ctx, e.ID(), visible, now()); err != nil {
			log.Warn().Err(err).Str("component", "frames").Str("frame_id", e.ID()).Msg("failed to persist frame visibility")
		}
	})
}

// RestoreVisibility reads the persisted state and, when the frame was open
// recently, makes it visible again after the settle delay so the frame has
// finished mounting first. Stale or absent records leave the frame in its
// default hidden state.
func RestoreVisibility(ctx context.Context, store VisibilityStore, e *Entry, settle time.Duration, now func() time.Time) {
	if store == nil || e == nil {
		return
	}
	if now == nil {
		now = time.Now
	}
	visible, ts, ok, err := store.LoadVisibility(ctx, e.ID())
	if err != nil {
		log.Warn().Err(err).Str("component", "frames").Str("frame_id", e.ID()).Msg("failed to load persisted frame visibility")
		return
	}
	if !ok || !visible {
		return
	}
	if now().Sub(ts) >= VisibilityTTL {
		log.Debug().Str("component", "frames").Str("frame_id", e.ID()).Time("saved_at", ts).Msg("persisted visibility is stale, leaving frame hidden")
		return
	}
	log.Info().Str("component", "frames").Str("frame_id", e.ID()).Msg("restoring frame open state")
	if settle <= 0 {
		e.SetVisible(true)
		return
	}
	time.AfterFunc(settle, func() { e.SetVisible(true) })
}
