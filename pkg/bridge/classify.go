package bridge

// Source classifies where an inbound message came from. Ancestor frames get
// a restricted allow-list because the host and its top-level ancestor can
// coincide; processing everything from that direction produces feedback
// loops.
type Source int

const (
	SourceSelf Source = iota
	SourceWidget
	SourceAncestor
	SourceOther
)

func (s Source) String() string {
	switch s {
	case SourceSelf:
		return "self"
	case SourceWidget:
		return "widget"
	case SourceAncestor:
		return "ancestor"
	default:
		return "other"
	}
}

// Classify maps a sender frame id onto a source class.
func Classify(senderID, selfID, widgetID, ancestorID string) Source {
	switch senderID {
	case selfID:
		return SourceSelf
	case widgetID:
		return SourceWidget
	case ancestorID:
		return SourceAncestor
	default:
		return SourceOther
	}
}

// ancestorAllowList is the fixed set of types processed when the sender is
// the top-level ancestor. Everything else from that source is ignored.
var ancestorAllowList = map[string]bool{
	"chat-response":          true,
	"conversations-response": true,
	"get-all-conversations":  true,
	"send-chat-message":      true,
}
