// Package tcp provides the relay's wired transport endpoint. Messages travel
// as length-prefixed frames over a single TCP connection; the newest accepted
// connection replaces the previous one.
package tcp

import (
	"bufio"
	"log"
	"net"
	"sync"

	"github.com/relaylink/relaylink/bridge"
)

const outgoingQueueSize = 16

// An Endpoint is a TCP implementation of bridge.Port.
type Endpoint struct {
	id   bridge.PortID
	name string

	mu       sync.Mutex
	handler  bridge.InboundHandler
	conn     net.Conn
	listener net.Listener

	out    chan *bridge.Message
	closed chan struct{}
}

func newEndpoint(id bridge.PortID, name string) *Endpoint {
	return &Endpoint{
		id:     id,
		name:   name,
		out:    make(chan *bridge.Message, outgoingQueueSize),
		closed: make(chan struct{}),
	}
}

// Listen creates an endpoint that accepts peers on addr.
func Listen(id bridge.PortID, name, addr string) (*Endpoint, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	e := newEndpoint(id, name)
	e.listener = l

	go e.acceptLoop(l)

	return e, nil
}

// Dial creates an endpoint connected to the peer at addr. There is no
// automatic reconnection; a broken link stays down until the endpoint is
// rebuilt.
func Dial(id bridge.PortID, name, addr string) (*Endpoint, error) {
	c, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}

	e := newEndpoint(id, name)
	e.attach(c)

	return e, nil
}

// Name returns the name of the endpoint.
func (e *Endpoint) Name() string {
	return e.name
}

// ID returns the port identity of the endpoint.
func (e *Endpoint) ID() bridge.PortID {
	return e.id
}

// Addr returns the listening address, or nil for a dialing endpoint.
func (e *Endpoint) Addr() net.Addr {
	if e.listener == nil {
		return nil
	}

	return e.listener.Addr()
}

// Connected reports whether a peer is currently attached.
func (e *Endpoint) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.conn != nil
}

// RegisterInbound installs the handler that consumes inbound frames.
// Re-registration overwrites.
func (e *Endpoint) RegisterInbound(h bridge.InboundHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.handler = h
}

// Send queues the message for transmission. It never blocks: a full queue
// reports transport-busy, a missing peer reports not-connected.
func (e *Endpoint) Send(msg *bridge.Message) *bridge.SendError {
	e.mu.Lock()
	connected := e.conn != nil
	e.mu.Unlock()

	if !connected {
		return bridge.NewSendError(e.id, bridge.SendErrNotConnected)
	}

	select {
	case e.out <- msg:
		return nil
	default:
		return bridge.NewSendError(e.id, bridge.SendErrBusy)
	}
}

// Close shuts the endpoint down.
func (e *Endpoint) Close() error {
	select {
	case <-e.closed:
		return nil
	default:
		close(e.closed)
	}

	if e.listener != nil {
		_ = e.listener.Close()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn != nil {
		_ = e.conn.Close()
		e.conn = nil
	}

	return nil
}

func (e *Endpoint) acceptLoop(l net.Listener) {
	for {
		c, err := l.Accept()
		if err != nil {
			return
		}

		e.attach(c)
	}
}

func (e *Endpoint) attach(c net.Conn) {
	e.mu.Lock()
	if e.conn != nil {
		_ = e.conn.Close()
	}
	e.conn = c
	e.mu.Unlock()

	go e.readLoop(c)
	go e.writeLoop(c)
}

func (e *Endpoint) detach(c net.Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == c {
		e.conn = nil
	}

	_ = c.Close()
}

func (e *Endpoint) readLoop(c net.Conn) {
	defer e.detach(c)

	r := bufio.NewReader(c)

	for {
		data, err := readFrame(r)
		if err != nil {
			return
		}

		e.mu.Lock()
		handler := e.handler
		e.mu.Unlock()

		if handler == nil {
			continue
		}

		// Size policy lives in the router. An over-limit frame is
		// delivered as is and rejected there.
		if err := handler.HandleInbound(e.id, data); err != nil {
			log.Printf("%s: inbound frame not routed: %v",
				e.name, err)
		}
	}
}

func (e *Endpoint) writeLoop(c net.Conn) {
	for {
		select {
		case <-e.closed:
			return
		case msg := <-e.out:
			if err := writeFrame(c, msg.Bytes()); err != nil {
				e.detach(c)
				return
			}
		}
	}
}
