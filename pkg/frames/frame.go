package frames

import (
	"github.com/pkg/errors"

	"github.com/go-go-golems/marionette/pkg/wire"
)

// Role describes which side of the frame boundary a peer sits on.
type Role string

const (
	RoleHost     Role = "host"
	RoleWidget   Role = "widget"
	RoleAncestor Role = "ancestor"
)

// WidgetFrameID is the reserved identifier for the embedded widget frame.
const WidgetFrameID = "chatbot"

var ErrFrameNotReady = errors.New("frame has no live connection")

// FrameRef is an opaque handle to a frame. It supports exactly two uses:
// identity comparison for routing decisions, and posting a message.
type FrameRef interface {
	ID() string
	Post(env wire.Envelope) error
}

// Conn is the transport a frame peer is attached over. Satisfied by
// *websocket.Conn and by test stubs.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}
