package bridge

import (
	"bytes"
	"fmt"

	"github.com/rs/xid"
)

// MaxMsgLen is the largest payload, in bytes, that fits in one message.
const MaxMsgLen = 238

// An OversizeError reports a payload that does not fit in a single message.
type OversizeError struct {
	Len int
}

func (e *OversizeError) Error() string {
	return fmt.Sprintf("payload of %d bytes exceeds the %d-byte message limit",
		e.Len, MaxMsgLen)
}

// A Message is the unit of data relayed between ports. A message is immutable
// after construction and is owned by whichever step is currently processing
// it.
type Message struct {
	id   string
	data []byte
}

// NewMessage creates a message carrying a copy of data. It fails with an
// OversizeError if data is longer than MaxMsgLen. Truncation never happens.
func NewMessage(data []byte) (*Message, *OversizeError) {
	if len(data) > MaxMsgLen {
		return nil, &OversizeError{Len: len(data)}
	}

	m := &Message{
		id:   xid.New().String(),
		data: append([]byte(nil), data...),
	}

	return m, nil
}

func mustNewMessage(data []byte) *Message {
	m, err := NewMessage(data)
	if err != nil {
		panic(err)
	}

	return m
}

// ID returns the identifier assigned to the message at construction.
func (m *Message) ID() string {
	return m.id
}

// Len returns the number of meaningful bytes in the message.
func (m *Message) Len() int {
	return len(m.data)
}

// Bytes returns a copy of the payload.
func (m *Message) Bytes() []byte {
	return append([]byte(nil), m.data...)
}

// Equal reports value equality over length and payload. IDs do not
// participate in equality.
func (m *Message) Equal(other *Message) bool {
	if other == nil {
		return false
	}

	return bytes.Equal(m.data, other.data)
}

// Clone returns a copy of the message with a different ID.
func (m *Message) Clone() *Message {
	return &Message{
		id:   xid.New().String(),
		data: append([]byte(nil), m.data...),
	}
}
