package datarecording

import (
	"time"

	"github.com/relaylink/relaylink/bridge"
)

// TransactionTrace is one recorded routing decision.
type TransactionTrace struct {
	UnixNano int64
	Event    string
	FromPort string
	ToPort   string
	NumBytes int
	MsgID    string
}

// A TransactionTracer is a hook that persists every routing decision of a
// router through a DataRecorder.
type TransactionTracer struct {
	recorder DataRecorder
	table    string
}

// NewTransactionTracer creates the trace table and returns a tracer writing
// into it.
func NewTransactionTracer(
	recorder DataRecorder,
	table string,
) *TransactionTracer {
	recorder.CreateTable(table, TransactionTrace{})

	return &TransactionTracer{
		recorder: recorder,
		table:    table,
	}
}

// Func records the routing decision carried by ctx.
func (t *TransactionTracer) Func(ctx bridge.HookCtx) {
	detail, ok := ctx.Detail.(bridge.TrafficDetail)
	if !ok {
		return
	}

	trace := TransactionTrace{
		UnixNano: time.Now().UnixNano(),
		Event:    ctx.Pos.Name,
		FromPort: detail.From.String(),
		ToPort:   detail.To.String(),
	}

	switch item := ctx.Item.(type) {
	case *bridge.Message:
		trace.NumBytes = item.Len()
		trace.MsgID = item.ID()
	case int:
		trace.NumBytes = item
	}

	t.recorder.InsertData(t.table, trace)
}
