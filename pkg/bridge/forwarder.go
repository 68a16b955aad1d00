package bridge

import (
	"context"
	"encoding/json"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"

	"github.com/go-go-golems/marionette/pkg/frames"
	"github.com/go-go-golems/marionette/pkg/streambus"
	"github.com/go-go-golems/marionette/pkg/wire"
)

// publishToConversation puts one envelope on the conversation's topic. The
// forwarder on the other end posts it into the widget frame.
func (b *Bridge) publishToConversation(conversationID string, env wire.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		b.logger.Error().Err(err).Str("type", env.Type).Msg("failed to encode envelope for publish")
		return
	}
	if err := b.bus.Publish(streambus.TopicForConversation(conversationID), data); err != nil {
		b.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to publish chat turn result")
	}
}

// ensureForwarder starts, once per conversation, the goroutine that drains
// the conversation topic into the widget frame. The subscription is set up
// before returning so a publish issued right after cannot be missed.
// Messages arriving while the frame has no connection are dropped like any
// other missed postMessage.
func (b *Bridge) ensureForwarder(ctx context.Context, conversationID string) {
	b.mu.Lock()
	if _, running := b.forwarders[conversationID]; running {
		b.mu.Unlock()
		return
	}
	b.forwarders[conversationID] = struct{}{}
	b.mu.Unlock()

	topic := streambus.TopicForConversation(conversationID)
	sub, err := b.bus.BuildSubscriber(ctx, topic, "ws-forwarder:"+conversationID)
	if err == nil {
		var msgs <-chan *message.Message
		msgs, err = sub.Subscribe(ctx, topic)
		if err == nil {
			b.logger.Debug().Str("conversation_id", conversationID).Msg("conversation forwarder started")
			go func() {
				ferr := b.runForwarder(ctx, msgs)
				if ferr != nil && !errors.Is(ferr, context.Canceled) {
					b.logger.Error().Err(ferr).Str("conversation_id", conversationID).Msg("conversation forwarder stopped")
				}
				b.mu.Lock()
				delete(b.forwarders, conversationID)
				b.mu.Unlock()
			}()
			return
		}
	}

	b.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("failed to start conversation forwarder")
	b.mu.Lock()
	delete(b.forwarders, conversationID)
	b.mu.Unlock()
}

func (b *Bridge) runForwarder(ctx context.Context, msgs <-chan *message.Message) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var env wire.Envelope
			if err := json.Unmarshal(msg.Payload, &env); err != nil {
				b.logger.Warn().Err(err).Msg("dropping unparseable bus message")
				msg.Ack()
				continue
			}
			if err := b.postToWidget(env); err != nil {
				if errors.Is(err, frames.ErrFrameNotReady) {
					b.logger.Debug().Str("type", env.Type).Msg("widget not connected, dropping forwarded message")
				} else {
					b.logger.Warn().Err(err).Str("type", env.Type).Msg("failed to forward message to widget")
				}
			}
			msg.Ack()
		}
	}
}
