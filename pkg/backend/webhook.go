package backend

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Canned bodies substituted when the webhook reply cannot be used as-is.
// The remote contract is treated as unreliable: the conversation flow must
// never stall on a missing or malformed reply.
const (
	emptyReplyMessage    = "Thank you for your message! I'm processing your request and will respond shortly."
	unparsedReplyMessage = "I received your message. Let me help you with that!"
)

// DeliverChatTurn forwards a widget chat payload to the webhook and
// normalizes the reply. Voice turns are sent with an empty message text and
// the raw audio fields instead; the transcript never leaves the widget.
func (c *Client) DeliverChatTurn(ctx context.Context, payload map[string]any) (map[string]any, error) {
	if payload == nil {
		return nil, errors.New("empty chat payload")
	}

	turnType, _ := payload["type"].(string)
	if turnType == "" {
		turnType = "text"
	}

	var text any
	if turnType == "voice" {
		text = ""
	} else if um, ok := payload["user_message"]; ok && um != nil {
		text = um
	} else {
		text = payload["message"]
	}

	body := map[string]any{
		"session_id":      payload["session_id"],
		"message":         text,
		"timestamp":       payload["timestamp"],
		"conversation_id": payload["conversation_id"],
		"source_url":      payload["source_url"],
		"page_context":    payload["page_context"],
		"cart_currency":   payload["cart_currency"],
		"localization":    payload["localization"],
		"type":            turnType,
	}
	if turnType == "voice" {
		if audio, ok := payload["audioData"]; ok && audio != nil {
			body["audioData"] = audio
			body["mimeType"] = payload["mimeType"]
			body["duration"] = payload["duration"]
		}
	}

	raw, err := c.doRaw(ctx, "POST", c.endpoints.WebhookURL, body, map[string]string{
		tunnelBypassHeader: "true",
	})
	if err != nil {
		return nil, errors.Wrap(err, "deliver chat turn")
	}

	return c.normalizeWebhookReply(raw), nil
}

// normalizeWebhookReply tolerates the three malformed shapes the webhook is
// known to produce: an empty body, a single-element array wrapping the
// object, and a body that is not JSON at all.
func (c *Client) normalizeWebhookReply(raw []byte) map[string]any {
	if strings.TrimSpace(string(raw)) == "" {
		c.logger.Debug().Msg("empty webhook reply, substituting acknowledgement")
		return map[string]any{"message": emptyReplyMessage}
	}

	var asObject map[string]any
	if err := json.Unmarshal(raw, &asObject); err == nil {
		return asObject
	}

	var asArray []map[string]any
	if err := json.Unmarshal(raw, &asArray); err == nil && len(asArray) > 0 {
		return asArray[0]
	}

	c.logger.Warn().Str("body", string(raw)).Msg("unparseable webhook reply, substituting fallback")
	return map[string]any{"message": unparsedReplyMessage}
}
