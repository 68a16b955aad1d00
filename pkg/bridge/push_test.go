package bridge

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/marionette/pkg/frames"
	"github.com/go-go-golems/marionette/pkg/wire"
)

func TestPushSessionDataDeliversInitEnvelope(t *testing.T) {
	h := newHarness(t, http.NotFoundHandler())

	require.NoError(t, h.bridge.PushSessionData(context.Background()))

	env := h.widget.waitForType(t, wire.TypeInit)
	require.NotEmpty(t, env.StringField("session_id"))
	convID := env.StringField("conversation_id")
	require.Contains(t, convID, "conv_")

	// The second push carries the same memoized conversation id.
	require.NoError(t, h.bridge.PushSessionData(context.Background()))
	env = h.widget.waitForType(t, wire.TypeInit)
	require.Equal(t, convID, env.StringField("conversation_id"))
}

func TestPushRetriesOnlyWhileFrameNotReady(t *testing.T) {
	h := newHarness(t, http.NotFoundHandler())
	h.registry.Lookup(frames.WidgetFrameID).Pool().CloseAll()

	start := time.Now()
	err := h.bridge.PushSessionData(context.Background())
	require.Error(t, err)
	require.True(t, errors.Is(err, frames.ErrFrameNotReady))

	// Five attempts spaced by the configured interval: four waits total.
	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, 4*h.bridge.cfg.PushInterval)
	require.Equal(t, 1, h.bridge.PushFailures())
}

func TestPushSucceedsAfterFrameAttaches(t *testing.T) {
	h := newHarness(t, http.NotFoundHandler())
	entry := h.registry.Lookup(frames.WidgetFrameID)
	entry.Pool().CloseAll()

	late := &captureConn{}
	go func() {
		time.Sleep(15 * time.Millisecond)
		h.registry.Attach(frames.WidgetFrameID, frames.RoleWidget, late)
	}()

	require.NoError(t, h.bridge.PushSessionData(context.Background()))
	late.waitForType(t, wire.TypeInit)
	require.Equal(t, 0, h.bridge.PushFailures())
}
