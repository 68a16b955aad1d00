package backend

import (
	"context"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/marionette/pkg/wire"
)

// SendMessage submits a plain text chat turn to the webhook on behalf of a
// session. This is the synchronous path used by CHAT_MESSAGE; the
// widget-originated async path goes through DeliverChatTurn.
func (c *Client) SendMessage(ctx context.Context, session *wire.SessionContext, conversationID, message string) (map[string]any, error) {
	if session == nil {
		return nil, errors.New("no valid session data available")
	}
	payload := map[string]any{
		"session_id":      session.SessionID,
		"message":         message,
		"timestamp":       c.now().UTC().Format(time.RFC3339),
		"conversation_id": conversationID,
		"source_url":      session.SourceURL,
		"page_context":    session.PageContext,
		"cart_currency":   session.CartCurrency,
		"localization":    session.Localization,
		"type":            "text",
	}
	return c.DeliverChatTurn(ctx, payload)
}

// SaveConversation persists a conversation name. An empty name gets a
// generated timestamp-based default so the backend never sees null.
func (c *Client) SaveConversation(ctx context.Context, sessionID, conversationID, name string) (map[string]any, error) {
	if name == "" {
		name = "Conversation " + c.now().Format("1/2/2006, 3:04:05 PM")
	}
	payload := map[string]any{
		"session_id":      sessionID,
		"conversation_id": conversationID,
		"name":            name,
	}
	result, err := c.doJSON(ctx, "POST", c.endpoints.SaveConversation(), payload, nil)
	if err != nil {
		return nil, errors.Wrap(err, "save conversation")
	}
	return result, nil
}

// FetchAllConversations lists the session's conversations. A cross-origin
// transport failure degrades to an empty list; the widget renders "no
// history" and "fetch failed" identically.
func (c *Client) FetchAllConversations(ctx context.Context, sessionID string) ([]wire.Conversation, error) {
	u := c.endpoints.Conversations() +
		"?session_id=" + url.QueryEscape(sessionID) +
		"&t=" + c.cacheBuster()

	result, err := c.doJSON(ctx, "GET", u, nil, nil)
	if err != nil {
		if errors.Is(err, ErrCrossOrigin) {
			c.logger.Warn().Msg("cross-origin failure fetching conversations, returning empty list")
			return []wire.Conversation{}, nil
		}
		return nil, errors.Wrap(err, "fetch conversations")
	}

	raw, ok := result["conversations"].([]any)
	if !ok {
		return []wire.Conversation{}, nil
	}
	conversations := make([]wire.Conversation, 0, len(raw))
	for _, item := range raw {
		if conv, ok := item.(map[string]any); ok {
			conversations = append(conversations, conv)
		}
	}
	return conversations, nil
}

// FetchConversationHistory returns the full message history of one
// conversation.
func (c *Client) FetchConversationHistory(ctx context.Context, sessionID, conversationID string) (map[string]any, error) {
	u := c.endpoints.ConversationHistory(conversationID) +
		"?session_id=" + url.QueryEscape(sessionID) +
		"&t=" + c.cacheBuster()

	result, err := c.doJSON(ctx, "GET", u, nil, nil)
	if err != nil {
		return nil, errors.Wrap(err, "fetch conversation history")
	}
	return result, nil
}
