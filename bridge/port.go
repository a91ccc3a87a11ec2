package bridge

import "fmt"

// A Named object is an object that has a name.
type Named interface {
	Name() string
}

// PortID identifies one of the relay's transport endpoints.
type PortID int

// The endpoints known to the relay. The set is ordered and can grow without
// changing the router's entry points.
const (
	PortPrimary PortID = iota
	PortSecondary
)

// Name returns the human-readable name of the port.
func (id PortID) String() string {
	switch id {
	case PortPrimary:
		return "Primary"
	case PortSecondary:
		return "Secondary"
	default:
		return fmt.Sprintf("Port(%d)", int(id))
	}
}

// SendErrorReason tells why a transport refused a message.
type SendErrorReason int

// The failures a transport can signal when asked to send.
const (
	SendErrNotConnected SendErrorReason = iota
	SendErrBusy
	SendErrInvalidLength
)

func (r SendErrorReason) String() string {
	switch r {
	case SendErrNotConnected:
		return "not connected"
	case SendErrBusy:
		return "transport busy"
	case SendErrInvalidLength:
		return "invalid length"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// A SendError marks a failed transmission attempt on a port.
type SendError struct {
	Port   PortID
	Reason SendErrorReason
}

// NewSendError creates a SendError.
func NewSendError(port PortID, reason SendErrorReason) *SendError {
	return &SendError{Port: port, Reason: reason}
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send on %s failed: %s", e.Port, e.Reason)
}

// An InboundHandler consumes data arriving on a port.
type InboundHandler interface {
	HandleInbound(from PortID, data []byte) error
}

// A Port is a transport endpoint capable of sending and receiving bounded
// messages. The router treats all ports symmetrically; only the PortID
// differs.
type Port interface {
	Named

	ID() PortID

	// Send hands the message to the transport's outbound path. The router
	// never blocks on Send; success means accepted for transmission, not
	// delivered.
	Send(msg *Message) *SendError

	// RegisterInbound installs the handler invoked when data arrives on
	// the port. Exactly one handler per port; re-registration overwrites.
	RegisterInbound(h InboundHandler)
}
