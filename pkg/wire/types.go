package wire

import "time"

// Message types exchanged across the frame boundary. The mixed naming is the
// protocol the widget already speaks; do not normalize it.
const (
	TypeInit                  = "init"
	TypeConversationAction    = "CONVERSATION_ACTION"
	TypeConversationResult    = "CONVERSATION_RESULT"
	TypeChatMessage           = "CHAT_MESSAGE"
	TypeChatResult            = "CHAT_RESULT"
	TypeRequestSessionData    = "REQUEST_SESSION_DATA"
	TypeSendChatMessage       = "send-chat-message"
	TypeGetAllConversations   = "get-all-conversations"
	TypeConversationsResponse = "conversations-response"
	TypeChatResponse          = "chat-response"
	TypeChatError             = "chat-error"
	TypeAddToCart             = "add-to-cart"
	TypeAddToCartSuccess      = "add-to-cart-success"
	TypeAddToCartError        = "add-to-cart-error"
	TypeNavigateToProduct     = "navigate-to-product"
)

// Conversation actions carried by CONVERSATION_ACTION messages.
const (
	ActionSave         = "save"
	ActionFetchAll     = "fetch_all"
	ActionFetchHistory = "fetch_history"
)

// SessionContext is the page-lifetime identity assembled once by the session
// provider and pushed into the widget frame. Immutable after creation.
type SessionContext struct {
	SessionID    string         `json:"session_id"`
	SourceURL    string         `json:"source_url"`
	PageContext  string         `json:"page_context"`
	CartCurrency string         `json:"cart_currency"`
	Localization string         `json:"localization"`
	StoreContext map[string]any `json:"shopify_context"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Conversation is opaque to the bridge; lists are cached and forwarded as
// decoded JSON without inspecting the fields.
type Conversation = map[string]any
