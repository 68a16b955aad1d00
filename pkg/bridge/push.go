package bridge

import (
	"context"
	"encoding/json"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/go-go-golems/marionette/pkg/frames"
	"github.com/go-go-golems/marionette/pkg/wire"
)

// maxPushAttempts bounds the session push retry loop: the first attempt
// plus four retries, spaced by the push interval. Only "frame not ready"
// retries; everything else fails immediately.
const maxPushAttempts = 5

// PushSessionData delivers the init envelope into the widget frame. This is
// the only path that injects identity into the widget; the widget re-requests
// it via REQUEST_SESSION_DATA when its own state is lost. Exhausting the
// retries is logged and counted but never surfaced to the widget.
func (b *Bridge) PushSessionData(ctx context.Context) error {
	session := b.provider.SessionData()
	if session == nil {
		return errors.New("no session data to push")
	}
	env, err := sessionEnvelope(session, b.provider.ConversationID())
	if err != nil {
		return err
	}

	attempt := 0
	op := func() error {
		attempt++
		postErr := b.postToWidget(env)
		if postErr == nil {
			b.logger.Debug().Int("attempt", attempt).Msg("session data pushed to widget")
			return nil
		}
		if errors.Is(postErr, frames.ErrFrameNotReady) {
			b.logger.Debug().Int("attempt", attempt).Msg("widget frame not ready, will retry push")
			return postErr
		}
		return backoff.Permanent(postErr)
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(b.cfg.PushInterval), maxPushAttempts-1),
		ctx,
	)
	if err := backoff.Retry(op, bo); err != nil {
		b.mu.Lock()
		b.pushFailures++
		b.mu.Unlock()
		b.logger.Warn().Err(err).Int("attempts", attempt).Msg("session push abandoned")
		return errors.Wrap(err, "push session data")
	}
	return nil
}

// PushFailures reports how many push loops have been abandoned. Diagnostics
// only.
func (b *Bridge) PushFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pushFailures
}

// sessionEnvelope flattens the session context into the init message, the
// shape the widget treats as authoritative identity.
func sessionEnvelope(session *wire.SessionContext, conversationID string) (wire.Envelope, error) {
	raw, err := json.Marshal(session)
	if err != nil {
		return wire.Envelope{}, errors.Wrap(err, "encode session context")
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return wire.Envelope{}, errors.Wrap(err, "flatten session context")
	}
	fields["conversation_id"] = conversationID
	return wire.New(wire.TypeInit, fields), nil
}
