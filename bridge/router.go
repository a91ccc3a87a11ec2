package bridge

import (
	"fmt"
	"sync"
	"time"
)

// BusyReply is the fixed payload sent back to an initiator that issues a new
// request while its previous one is still outstanding.
var BusyReply = []byte("BUSY")

// TimeoutReply is the fixed payload sent back to an initiator whose request
// outlived the router's request timeout.
var TimeoutReply = []byte("TOUT")

// HookPosReqForward marks a request being forwarded to the opposite port.
var HookPosReqForward = &HookPos{Name: "Request Forward"}

// HookPosRspDeliver marks a response being delivered to its initiator.
var HookPosRspDeliver = &HookPos{Name: "Response Deliver"}

// HookPosBusyReply marks an overlapping request being rejected.
var HookPosBusyReply = &HookPos{Name: "Busy Reply"}

// HookPosOrphanDrop marks a response being dropped for lack of a matching
// pending request.
var HookPosOrphanDrop = &HookPos{Name: "Orphan Drop"}

// HookPosOversizeReject marks an inbound payload being rejected for exceeding
// MaxMsgLen.
var HookPosOversizeReject = &HookPos{Name: "Oversize Reject"}

// HookPosDeadlineExpire marks a pending request being abandoned by the
// deadline sweep.
var HookPosDeadlineExpire = &HookPos{Name: "Deadline Expire"}

// TrafficDetail describes one routing decision for hooks.
type TrafficDetail struct {
	From PortID
	To   PortID
}

// A slot tracks one direction of flow, keyed by the port that initiated it.
type slot struct {
	occupied  bool
	initiator PortID
	since     time.Time
}

// SlotStatus is a read-only view of one direction's state.
type SlotStatus struct {
	Initiator PortID
	Occupied  bool
	Since     time.Time
}

// A Router relays messages between two ports, allowing at most one
// outstanding request per initiating direction. An inbound request occupies
// its direction's slot until the matching response comes back; a second
// request from the same initiator in the meantime is answered with BusyReply
// and not forwarded.
//
// All entry points serialize on one mutex, so callbacks delivered
// back-to-back from different transports cannot interleave inside a
// transition.
type Router struct {
	HookableBase
	sync.Mutex

	name    string
	timeout time.Duration

	ports map[PortID]Port
	order []PortID
	slots map[PortID]*slot
}

// Name returns the name of the router.
func (r *Router) Name() string {
	return r.name
}

// PlugIn attaches a port to the router and installs the router as the port's
// inbound handler. The router accepts exactly two ports.
func (r *Router) PlugIn(p Port) {
	r.Lock()
	defer r.Unlock()

	if len(r.order) >= 2 {
		panic("router routes between exactly two ports")
	}

	if _, dup := r.ports[p.ID()]; dup {
		panic(fmt.Sprintf("port %s already plugged in", p.ID()))
	}

	r.ports[p.ID()] = p
	r.order = append(r.order, p.ID())
	r.slots[p.ID()] = &slot{initiator: p.ID()}

	p.RegisterInbound(r)
}

// OnRx processes data arriving on from as a request. If the direction is
// idle, the payload is forwarded to the opposite port and the direction
// becomes pending. If the direction already has an outstanding request, the
// payload is not forwarded and BusyReply is sent back to from.
func (r *Router) OnRx(from PortID, data []byte) error {
	r.Lock()
	defer r.Unlock()

	return r.rx(from, data)
}

// OnResponse processes data arriving on from as the reply to the other
// direction's pending request. The payload is forwarded to the recorded
// initiator and the direction becomes idle again. Without a pending request
// the payload is an orphan and is dropped.
func (r *Router) OnResponse(from PortID, data []byte) error {
	r.Lock()
	defer r.Unlock()

	return r.response(from, data)
}

// HandleInbound is the entry point transports deliver through. A port that
// the other direction is currently awaiting a reply from is treated as
// responding; anything else is a new request.
func (r *Router) HandleInbound(from PortID, data []byte) error {
	r.Lock()
	defer r.Unlock()

	initiator := r.otherPortID(from)
	if r.mustSlot(initiator).occupied {
		return r.response(from, data)
	}

	return r.rx(from, data)
}

func (r *Router) rx(from PortID, data []byte) error {
	s := r.mustSlot(from)

	if s.occupied {
		return r.replyBusy(from)
	}

	msg, oversizeErr := NewMessage(data)
	if oversizeErr != nil {
		r.rejectOversize(from, oversizeErr)
		return oversizeErr
	}

	to := r.otherPortID(from)

	s.occupied = true
	s.initiator = from
	s.since = time.Now()

	r.InvokeHook(HookCtx{
		Domain: r,
		Pos:    HookPosReqForward,
		Item:   msg,
		Detail: TrafficDetail{From: from, To: to},
	})

	if err := r.ports[to].Send(msg); err != nil {
		return err
	}

	return nil
}

func (r *Router) response(from PortID, data []byte) error {
	initiator := r.otherPortID(from)
	s := r.mustSlot(initiator)

	if !s.occupied {
		r.InvokeHook(HookCtx{
			Domain: r,
			Pos:    HookPosOrphanDrop,
			Item:   len(data),
			Detail: TrafficDetail{From: from, To: from},
		})

		return nil
	}

	msg, oversizeErr := NewMessage(data)
	if oversizeErr != nil {
		r.rejectOversize(from, oversizeErr)
		return oversizeErr
	}

	s.occupied = false

	r.InvokeHook(HookCtx{
		Domain: r,
		Pos:    HookPosRspDeliver,
		Item:   msg,
		Detail: TrafficDetail{From: from, To: initiator},
	})

	if err := r.ports[initiator].Send(msg); err != nil {
		return err
	}

	return nil
}

func (r *Router) replyBusy(from PortID) error {
	busy := mustNewMessage(BusyReply)

	r.InvokeHook(HookCtx{
		Domain: r,
		Pos:    HookPosBusyReply,
		Item:   busy,
		Detail: TrafficDetail{From: from, To: from},
	})

	if err := r.ports[from].Send(busy); err != nil {
		return err
	}

	return nil
}

func (r *Router) rejectOversize(from PortID, err *OversizeError) {
	r.InvokeHook(HookCtx{
		Domain: r,
		Pos:    HookPosOversizeReject,
		Item:   err.Len,
		Detail: TrafficDetail{From: from, To: from},
	})
}

// Tick expires pending requests older than the request timeout, sending
// TimeoutReply to each stalled initiator. It reports whether any slot was
// freed. Tick does nothing when no timeout is configured.
func (r *Router) Tick(now time.Time) bool {
	if r.timeout == 0 {
		return false
	}

	r.Lock()
	defer r.Unlock()

	madeProgress := false

	for _, id := range r.order {
		s := r.slots[id]
		if !s.occupied || now.Sub(s.since) < r.timeout {
			continue
		}

		s.occupied = false
		madeProgress = true

		r.InvokeHook(HookCtx{
			Domain: r,
			Pos:    HookPosDeadlineExpire,
			Item:   now.Sub(s.since),
			Detail: TrafficDetail{From: id, To: id},
		})

		// The stalled initiator may itself be gone; a failed timeout
		// notification is not recoverable and is dropped.
		_ = r.ports[id].Send(mustNewMessage(TimeoutReply))
	}

	return madeProgress
}

// Snapshot returns the state of all direction slots in plug-in order.
func (r *Router) Snapshot() []SlotStatus {
	r.Lock()
	defer r.Unlock()

	statuses := make([]SlotStatus, 0, len(r.order))
	for _, id := range r.order {
		s := r.slots[id]
		statuses = append(statuses, SlotStatus{
			Initiator: s.initiator,
			Occupied:  s.occupied,
			Since:     s.since,
		})
	}

	return statuses
}

func (r *Router) mustSlot(id PortID) *slot {
	s, found := r.slots[id]
	if !found {
		panic(fmt.Sprintf("port %s is not plugged into router %s", id, r.name))
	}

	return s
}

func (r *Router) otherPortID(from PortID) PortID {
	if len(r.order) != 2 {
		panic("router needs two ports plugged in before routing")
	}

	if r.order[0] == from {
		return r.order[1]
	}

	if r.order[1] == from {
		return r.order[0]
	}

	panic(fmt.Sprintf("port %s is not plugged into router %s", from, r.name))
}

// RouterBuilder can help building routers.
type RouterBuilder struct {
	timeout time.Duration
}

// MakeRouterBuilder creates a RouterBuilder with default parameters.
func MakeRouterBuilder() RouterBuilder {
	return RouterBuilder{}
}

// WithRequestTimeout sets how long a direction may stay pending before the
// Tick sweep abandons it. Zero disables the sweep.
func (b RouterBuilder) WithRequestTimeout(d time.Duration) RouterBuilder {
	b.timeout = d
	return b
}

// Build creates a router with the given name.
func (b RouterBuilder) Build(name string) *Router {
	r := new(Router)
	r.name = name
	r.timeout = b.timeout
	r.ports = make(map[PortID]Port)
	r.slots = make(map[PortID]*slot)

	return r
}
