// Package ws provides the relay's wireless-style transport endpoint.
// Messages travel as binary WebSocket frames over a single connection; the
// newest accepted connection replaces the previous one.
package ws

import (
	"log"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/relaylink/relaylink/bridge"
)

const outgoingQueueSize = 16

// An Endpoint is a WebSocket implementation of bridge.Port.
type Endpoint struct {
	id   bridge.PortID
	name string

	mu       sync.Mutex
	handler  bridge.InboundHandler
	conn     *websocket.Conn
	listener net.Listener

	upgrader websocket.Upgrader

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

// Listen creates an endpoint that upgrades HTTP requests on addr to
// WebSocket connections.
func Listen(id bridge.PortID, name, addr string) (*Endpoint, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	e := newEndpoint(id, name)
	e.listener = l
	e.upgrader = websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool { return true },
	}

	server := &http.Server{Handler: http.HandlerFunc(e.serveUpgrade)}
	go func() { _ = server.Serve(l) }()

	return e, nil
}

// Dial creates an endpoint connected to the WebSocket server at url
// (ws://host:port/path). There is no automatic reconnection.
func Dial(id bridge.PortID, name, url string) (*Endpoint, error) {
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
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

func (e *Endpoint) serveUpgrade(w http.ResponseWriter, r *http.Request) {
	c, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	e.attach(c)
}

func (e *Endpoint) attach(c *websocket.Conn) {
	e.mu.Lock()
	if e.conn != nil {
		_ = e.conn.Close()
	}
	e.conn = c
	e.mu.Unlock()

	go e.readLoop(c)
	go e.writeLoop(c)
}

func (e *Endpoint) detach(c *websocket.Conn) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.conn == c {
		e.conn = nil
	}

	_ = c.Close()
}

func (e *Endpoint) readLoop(c *websocket.Conn) {
	defer e.detach(c)

	for {
		messageType, data, err := c.ReadMessage()
		if err != nil {
			return
		}

		if messageType != websocket.BinaryMessage {
			continue
		}

		e.mu.Lock()
		handler := e.handler
		e.mu.Unlock()

		if handler == nil {
			continue
		}

		if err := handler.HandleInbound(e.id, data); err != nil {
			log.Printf("%s: inbound frame not routed: %v",
				e.name, err)
		}
	}
}

func (e *Endpoint) writeLoop(c *websocket.Conn) {
	for {
		select {
		case <-e.closed:
			return
		case msg := <-e.out:
			err := c.WriteMessage(
				websocket.BinaryMessage, msg.Bytes())
			if err != nil {
				e.detach(c)
				return
			}
		}
	}
}
