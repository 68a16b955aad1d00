package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/marionette/pkg/wire"
)

// handleConversationAction serves save / fetch_all / fetch_history and
// replies with a CONVERSATION_RESULT carrying either the result or the
// error message. The terminal reply always arrives; the widget is never
// left hanging.
func (b *Bridge) handleConversationAction(ctx context.Context, senderID string, env wire.Envelope) {
	data := env.Data()
	action, _ := data["action"].(string)
	conversationID, _ := data["conversationId"].(string)
	name, _ := data["name"].(string)

	respond := func(result any, err error) {
		fields := map[string]any{
			"action":         action,
			"conversationId": conversationID,
		}
		if err != nil {
			fields["error"] = err.Error()
			fields["success"] = false
		} else {
			fields["result"] = result
			fields["success"] = true
		}
		b.reply(senderID, wire.New(wire.TypeConversationResult, map[string]any{"data": fields}))
	}

	session := b.provider.SessionData()
	if session == nil {
		respond(nil, errors.New("no valid session data available"))
		return
	}

	go func() {
		switch action {
		case wire.ActionSave:
			result, err := b.client.SaveConversation(ctx, session.SessionID, conversationID, name)
			respond(result, err)
		case wire.ActionFetchAll:
			conversations, err := b.client.FetchAllConversations(ctx, session.SessionID)
			if err == nil {
				b.storeCache(conversations)
			}
			respond(conversations, err)
		case wire.ActionFetchHistory:
			history, err := b.client.FetchConversationHistory(ctx, session.SessionID, conversationID)
			respond(history, err)
		default:
			respond(nil, errors.Errorf("unknown action: %s", action))
		}
	}()
}

// handleChatMessage serves the synchronous chat path: one CHAT_RESULT per
// CHAT_MESSAGE, success or explicit failure.
func (b *Bridge) handleChatMessage(ctx context.Context, senderID string, env wire.Envelope) {
	message, _ := env.Data()["message"].(string)

	respond := func(result map[string]any, err error) {
		fields := map[string]any{"message": message}
		if err != nil {
			fields["error"] = err.Error()
			fields["success"] = false
		} else {
			fields["result"] = result
			fields["success"] = true
		}
		b.reply(senderID, wire.New(wire.TypeChatResult, map[string]any{"data": fields}))
	}

	session := b.provider.SessionData()
	if session == nil {
		respond(nil, errors.New("no valid session data available"))
		return
	}
	conversationID := b.provider.ConversationID()

	go func() {
		result, err := b.client.SendMessage(ctx, session, conversationID, message)
		respond(result, err)
	}()
}

// handleSendChatMessage forwards a widget chat payload to the webhook. No
// synchronous reply: the normalized response is published to the
// conversation topic and reaches the widget as a chat-response from the
// forwarder. Failures travel the same path as chat-error.
func (b *Bridge) handleSendChatMessage(ctx context.Context, senderID string, env wire.Envelope) {
	payload := env.Payload()
	if payload == nil {
		b.logger.Debug().Msg("send-chat-message without payload, dropping")
		b.reply(senderID, wire.New(wire.TypeChatError, map[string]any{"error": "missing payload"}))
		return
	}

	conversationID, _ := payload["conversation_id"].(string)
	if conversationID == "" {
		conversationID = b.provider.ConversationID()
	}
	if conversationID == "" {
		b.logger.Warn().Msg("send-chat-message with no conversation id")
		b.reply(senderID, wire.New(wire.TypeChatError, map[string]any{"error": "no conversation id available"}))
		return
	}

	b.ensureForwarder(ctx, conversationID)

	go func() {
		reply, err := b.client.DeliverChatTurn(ctx, payload)
		var out wire.Envelope
		if err != nil {
			b.logger.Error().Err(err).Str("conversation_id", conversationID).Msg("webhook delivery failed")
			out = wire.New(wire.TypeChatError, map[string]any{"error": err.Error()})
		} else {
			out = wire.New(wire.TypeChatResponse, map[string]any{"response": reply})
		}
		b.publishToConversation(conversationID, out)
	}()
}

// handleGetAllConversations serves the conversation list, preferring the
// warm cache. A single in-flight guard drops duplicate requests while a
// fetch is outstanding; it resets when the fetch settles, with a timed
// safety net so a hung fetch cannot block future requests forever.
func (b *Bridge) handleGetAllConversations(ctx context.Context, senderID string) {
	if cached, ok := b.cachedConversations(); ok {
		b.reply(senderID, wire.New(wire.TypeConversationsResponse, map[string]any{"conversations": cached}))
		return
	}

	b.mu.Lock()
	if b.fetchInFlight {
		b.mu.Unlock()
		b.logger.Debug().Msg("conversation fetch already in progress, dropping request")
		return
	}
	b.fetchInFlight = true
	b.mu.Unlock()

	safety := time.AfterFunc(b.cfg.GuardResetDelay, func() { b.resetFetchGuard() })

	session := b.provider.SessionData()
	if session == nil {
		safety.Stop()
		b.resetFetchGuard()
		b.reply(senderID, wire.New(wire.TypeConversationsResponse, map[string]any{"conversations": []wire.Conversation{}}))
		return
	}

	go func() {
		conversations, err := b.client.FetchAllConversations(ctx, session.SessionID)
		safety.Stop()
		b.resetFetchGuard()
		if err != nil {
			b.logger.Error().Err(err).Msg("failed to fetch conversations")
			b.reply(senderID, wire.New(wire.TypeConversationsResponse, map[string]any{"conversations": []wire.Conversation{}}))
			return
		}
		b.storeCache(conversations)
		b.reply(senderID, wire.New(wire.TypeConversationsResponse, map[string]any{"conversations": conversations}))
	}()
}

func (b *Bridge) resetFetchGuard() {
	b.mu.Lock()
	b.fetchInFlight = false
	b.mu.Unlock()
}

// forwardChatResponse relays a chat-response arriving from an allowed frame
// into the widget verbatim.
func (b *Bridge) forwardChatResponse(env wire.Envelope) {
	if err := b.postToWidget(wire.New(wire.TypeChatResponse, map[string]any{"response": env.Field("response")})); err != nil {
		b.logger.Warn().Err(err).Msg("failed to forward chat response to widget")
	}
}

// forwardConversationsResponse relays a conversation list into the widget.
// The list may arrive JSON-string-encoded; decode failures forward an empty
// list rather than nothing.
func (b *Bridge) forwardConversationsResponse(env wire.Envelope) {
	conversations := env.Field("conversations")
	if encoded, ok := conversations.(string); ok {
		var decoded []wire.Conversation
		if err := json.Unmarshal([]byte(encoded), &decoded); err != nil {
			b.logger.Warn().Err(err).Msg("failed to decode string-encoded conversations, forwarding empty list")
			decoded = []wire.Conversation{}
		}
		conversations = decoded
	}
	if err := b.postToWidget(wire.New(wire.TypeConversationsResponse, map[string]any{"conversations": conversations})); err != nil {
		b.logger.Warn().Err(err).Msg("failed to forward conversations to widget")
	}
}

// handleAddToCart delegates to the cart gateway and reports the outcome as
// a success or error reply.
func (b *Bridge) handleAddToCart(ctx context.Context, senderID string, env wire.Envelope) {
	payload := env.Payload()
	variantID, _ := payload["variantId"].(string)
	if variantID == "" {
		b.reply(senderID, wire.New(wire.TypeAddToCartError, map[string]any{"error": "No variant ID provided"}))
		return
	}
	quantity := 1
	if q, ok := payload["quantity"].(float64); ok && q > 0 {
		quantity = int(q)
	}

	go func() {
		data, err := b.cart.AddToCart(ctx, variantID, quantity)
		if err != nil {
			b.reply(senderID, wire.New(wire.TypeAddToCartError, map[string]any{
				"variantId": variantID,
				"error":     err.Error(),
			}))
			return
		}
		b.reply(senderID, wire.New(wire.TypeAddToCartSuccess, map[string]any{
			"variantId": variantID,
			"data":      data,
		}))
	}()
}

// handleNavigateToProduct resolves the navigation target. The bridge has
// no page to navigate; the resolved URL is logged for the embedding layer.
func (b *Bridge) handleNavigateToProduct(env wire.Envelope) {
	payload := env.Payload()
	productURL, _ := payload["productUrl"].(string)
	productHandle, _ := payload["productHandle"].(string)

	target, err := b.cart.ResolveProductURL(productURL, productHandle)
	if err != nil {
		b.logger.Warn().Err(err).Msg("cannot resolve product navigation target")
		return
	}
	b.logger.Info().Str("target", target).Msg("product navigation requested")
}
