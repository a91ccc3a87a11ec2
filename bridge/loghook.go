package bridge

import (
	"log"
)

// LogHookBase provides the common logic for hooks that write to a logger.
type LogHookBase struct {
	*log.Logger
}

// A TrafficLogger is a hook that prints every routing decision a router
// makes.
type TrafficLogger struct {
	LogHookBase
}

// NewTrafficLogger returns a TrafficLogger that writes into the given logger.
func NewTrafficLogger(logger *log.Logger) *TrafficLogger {
	h := new(TrafficLogger)
	h.Logger = logger
	return h
}

// Func writes the routing decision into the logger.
func (h *TrafficLogger) Func(ctx HookCtx) {
	detail, ok := ctx.Detail.(TrafficDetail)
	if !ok {
		return
	}

	switch item := ctx.Item.(type) {
	case *Message:
		h.Printf("%s, %s -> %s, %d bytes, %s",
			ctx.Pos.Name, detail.From, detail.To, item.Len(), item.ID())
	case int:
		h.Printf("%s, %s -> %s, %d bytes",
			ctx.Pos.Name, detail.From, detail.To, item)
	default:
		h.Printf("%s, %s -> %s", ctx.Pos.Name, detail.From, detail.To)
	}
}
