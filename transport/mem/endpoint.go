// Package mem provides an in-memory transport endpoint. It stands in for a
// real link in tests and demos: outbound frames are recorded and can be
// answered by a programmable responder, inbound frames are injected directly.
package mem

import (
	"errors"
	"sync"

	"github.com/relaylink/relaylink/bridge"
)

// An Endpoint is an in-memory implementation of bridge.Port.
type Endpoint struct {
	sync.Mutex

	id        bridge.PortID
	name      string
	handler   bridge.InboundHandler
	connected bool

	sent      [][]byte
	responder func(data []byte) []byte
}

// New creates a connected in-memory endpoint.
func New(id bridge.PortID, name string) *Endpoint {
	return &Endpoint{
		id:        id,
		name:      name,
		connected: true,
	}
}

// Name returns the name of the endpoint.
func (e *Endpoint) Name() string {
	return e.name
}

// ID returns the port identity of the endpoint.
func (e *Endpoint) ID() bridge.PortID {
	return e.id
}

// RegisterInbound installs the handler invoked by Inject. Re-registration
// overwrites.
func (e *Endpoint) RegisterInbound(h bridge.InboundHandler) {
	e.Lock()
	defer e.Unlock()

	e.handler = h
}

// SetConnected flips the simulated link state. A disconnected endpoint
// refuses Send.
func (e *Endpoint) SetConnected(connected bool) {
	e.Lock()
	defer e.Unlock()

	e.connected = connected
}

// SetResponder installs a function that answers every frame accepted by
// Send. A nil return suppresses the answer.
func (e *Endpoint) SetResponder(responder func(data []byte) []byte) {
	e.Lock()
	defer e.Unlock()

	e.responder = responder
}

// Send records the frame and, if a responder is installed, schedules its
// answer for injection.
func (e *Endpoint) Send(msg *bridge.Message) *bridge.SendError {
	e.Lock()

	if !e.connected {
		e.Unlock()
		return bridge.NewSendError(e.id, bridge.SendErrNotConnected)
	}

	data := msg.Bytes()
	e.sent = append(e.sent, data)
	responder := e.responder
	e.Unlock()

	if responder == nil {
		return nil
	}

	// The answer is injected from a fresh goroutine. Send is called with
	// the router's lock held, so answering inline would re-enter it.
	go func() {
		reply := responder(data)
		if reply == nil {
			return
		}

		_ = e.Inject(reply)
	}()

	return nil
}

// Inject delivers data to the registered inbound handler, as if it arrived
// from the simulated peer.
func (e *Endpoint) Inject(data []byte) error {
	e.Lock()
	handler := e.handler
	e.Unlock()

	if handler == nil {
		return errors.New("no inbound handler registered")
	}

	return handler.HandleInbound(e.id, data)
}

// SentCount returns how many frames Send has accepted.
func (e *Endpoint) SentCount() int {
	e.Lock()
	defer e.Unlock()

	return len(e.sent)
}

// LastSent returns a copy of the most recently accepted frame, or nil.
func (e *Endpoint) LastSent() []byte {
	e.Lock()
	defer e.Unlock()

	if len(e.sent) == 0 {
		return nil
	}

	last := e.sent[len(e.sent)-1]

	return append([]byte(nil), last...)
}
