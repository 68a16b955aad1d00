package bridge

import (
	"context"
	"encoding/json"

	"github.com/go-go-golems/marionette/pkg/frames"
	"github.com/go-go-golems/marionette/pkg/wire"
)

// HandleMessage routes one inbound frame message. Untyped messages are
// logged and dropped; every routable message reaches exactly one handler.
// The router never blocks: backend interaction runs in goroutines whose
// completion posts a follow-up message.
func (b *Bridge) HandleMessage(ctx context.Context, senderID string, raw []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		b.logger.Debug().Err(err).Str("frame_id", senderID).Msg("dropping unparseable message")
		return
	}
	if env.Type == "" {
		b.logger.Debug().Str("frame_id", senderID).Msg("dropping message with no type")
		return
	}

	source := Classify(senderID, b.cfg.SelfFrameID, frames.WidgetFrameID, b.cfg.AncestorFrameID)
	switch source {
	case SourceSelf:
		// Our own messages echoed back; processing them duplicates work.
		return
	case SourceAncestor:
		if !ancestorAllowList[env.Type] {
			b.logger.Debug().Str("type", env.Type).Msg("ignoring non-allow-listed ancestor message")
			return
		}
	case SourceOther:
		b.logger.Debug().Str("frame_id", senderID).Str("type", env.Type).Msg("ignoring message from unrelated frame")
		return
	}

	switch env.Type {
	case wire.TypeConversationAction:
		b.handleConversationAction(ctx, senderID, env)
	case wire.TypeChatMessage:
		b.handleChatMessage(ctx, senderID, env)
	case wire.TypeRequestSessionData:
		go func() { _ = b.PushSessionData(ctx) }()
	case wire.TypeSendChatMessage:
		b.handleSendChatMessage(ctx, senderID, env)
	case wire.TypeGetAllConversations:
		b.handleGetAllConversations(ctx, senderID)
	case wire.TypeChatResponse:
		b.forwardChatResponse(env)
	case wire.TypeConversationsResponse:
		b.forwardConversationsResponse(env)
	case wire.TypeAddToCart:
		b.handleAddToCart(ctx, senderID, env)
	case wire.TypeNavigateToProduct:
		b.handleNavigateToProduct(env)
	default:
		b.logger.Debug().Str("type", env.Type).Str("frame_id", senderID).Msg("unknown message type")
	}
}
