package bridge

import (
	"bytes"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	gomock "go.uber.org/mock/gomock"
)

type payloadMatcher struct {
	data []byte
}

func (m payloadMatcher) Matches(x any) bool {
	msg, ok := x.(*Message)
	if !ok {
		return false
	}

	return bytes.Equal(msg.Bytes(), m.data)
}

func (m payloadMatcher) String() string {
	return fmt.Sprintf("message with payload % x", m.data)
}

func payloadOf(data ...byte) gomock.Matcher {
	return payloadMatcher{data: data}
}

type recordingHook struct {
	positions []*HookPos
}

func (h *recordingHook) Func(ctx HookCtx) {
	h.positions = append(h.positions, ctx.Pos)
}

var _ = Describe("Router", func() {
	var (
		mockController *gomock.Controller
		primary        *MockPort
		secondary      *MockPort
		router         *Router
	)

	plugBothPorts := func() {
		primary.EXPECT().RegisterInbound(router)
		secondary.EXPECT().RegisterInbound(router)

		router.PlugIn(primary)
		router.PlugIn(secondary)
	}

	BeforeEach(func() {
		mockController = gomock.NewController(GinkgoT())
		primary = NewMockPort(mockController)
		secondary = NewMockPort(mockController)
		primary.EXPECT().ID().Return(PortPrimary).AnyTimes()
		secondary.EXPECT().ID().Return(PortSecondary).AnyTimes()

		router = MakeRouterBuilder().Build("Router")
	})

	AfterEach(func() {
		mockController.Finish()
	})

	It("should refuse a third port", func() {
		plugBothPorts()

		third := NewMockPort(mockController)

		Expect(func() { router.PlugIn(third) }).To(Panic())
	})

	It("should refuse routing for an unplugged port", func() {
		Expect(func() {
			_ = router.OnRx(PortPrimary, []byte{0x01})
		}).To(Panic())
	})

	It("should forward a request and mark the direction pending", func() {
		plugBothPorts()
		secondary.EXPECT().Send(payloadOf(0x01, 0x02)).Return(nil)

		err := router.OnRx(PortPrimary, []byte{0x01, 0x02})

		Expect(err).To(BeNil())

		statuses := router.Snapshot()
		Expect(statuses[0].Initiator).To(Equal(PortPrimary))
		Expect(statuses[0].Occupied).To(BeTrue())
		Expect(statuses[1].Occupied).To(BeFalse())
	})

	It("should deliver the response to the initiator and free the slot",
		func() {
			plugBothPorts()
			secondary.EXPECT().Send(payloadOf(0x01, 0x02)).Return(nil)
			primary.EXPECT().Send(payloadOf(0x20, 0x21)).Return(nil)

			Expect(router.OnRx(PortPrimary, []byte{0x01, 0x02})).To(BeNil())
			Expect(router.OnResponse(PortSecondary, []byte{0x20, 0x21})).
				To(BeNil())

			statuses := router.Snapshot()
			Expect(statuses[0].Occupied).To(BeFalse())
			Expect(statuses[1].Occupied).To(BeFalse())
		})

	It("should reject an overlapping request with a busy reply", func() {
		plugBothPorts()
		secondary.EXPECT().Send(payloadOf(0x01, 0x02)).Return(nil)
		primary.EXPECT().Send(payloadOf(BusyReply...)).Return(nil)

		Expect(router.OnRx(PortPrimary, []byte{0x01, 0x02})).To(BeNil())
		Expect(router.OnRx(PortPrimary, []byte{0x01, 0x02})).To(BeNil())

		statuses := router.Snapshot()
		Expect(statuses[0].Occupied).To(BeTrue())
		Expect(statuses[0].Initiator).To(Equal(PortPrimary))
	})

	It("should keep the two directions independent", func() {
		plugBothPorts()
		secondary.EXPECT().Send(payloadOf(0x01, 0x02)).Return(nil)
		primary.EXPECT().Send(payloadOf(0x03)).Return(nil)
		primary.EXPECT().Send(payloadOf(0x20, 0x21)).Return(nil)
		secondary.EXPECT().Send(payloadOf(0x10)).Return(nil)

		Expect(router.OnRx(PortPrimary, []byte{0x01, 0x02})).To(BeNil())
		Expect(router.OnRx(PortSecondary, []byte{0x03})).To(BeNil())

		statuses := router.Snapshot()
		Expect(statuses[0].Occupied).To(BeTrue())
		Expect(statuses[1].Occupied).To(BeTrue())

		Expect(router.OnResponse(PortSecondary, []byte{0x20, 0x21})).
			To(BeNil())

		statuses = router.Snapshot()
		Expect(statuses[0].Occupied).To(BeFalse())
		Expect(statuses[1].Occupied).To(BeTrue())

		Expect(router.OnResponse(PortPrimary, []byte{0x10})).To(BeNil())

		statuses = router.Snapshot()
		Expect(statuses[1].Occupied).To(BeFalse())
	})

	It("should resolve interleaved responses in either order", func() {
		plugBothPorts()
		secondary.EXPECT().Send(payloadOf(0x01)).Return(nil)
		primary.EXPECT().Send(payloadOf(0x02)).Return(nil)
		secondary.EXPECT().Send(payloadOf(0x10)).Return(nil)
		primary.EXPECT().Send(payloadOf(0x20)).Return(nil)

		Expect(router.OnRx(PortPrimary, []byte{0x01})).To(BeNil())
		Expect(router.OnRx(PortSecondary, []byte{0x02})).To(BeNil())

		// The secondary-initiated direction resolves first this time.
		Expect(router.OnResponse(PortPrimary, []byte{0x10})).To(BeNil())
		Expect(router.OnResponse(PortSecondary, []byte{0x20})).To(BeNil())

		statuses := router.Snapshot()
		Expect(statuses[0].Occupied).To(BeFalse())
		Expect(statuses[1].Occupied).To(BeFalse())
	})

	It("should drop an orphan response", func() {
		plugBothPorts()

		err := router.OnResponse(PortSecondary, []byte{0x20})

		Expect(err).To(BeNil())
		Expect(router.Snapshot()[0].Occupied).To(BeFalse())
		Expect(router.Snapshot()[1].Occupied).To(BeFalse())
	})

	It("should drop the second of two back-to-back responses", func() {
		plugBothPorts()
		secondary.EXPECT().Send(payloadOf(0x01)).Return(nil)
		primary.EXPECT().Send(payloadOf(0x20)).Return(nil)

		Expect(router.OnRx(PortPrimary, []byte{0x01})).To(BeNil())
		Expect(router.OnResponse(PortSecondary, []byte{0x20})).To(BeNil())
		Expect(router.OnResponse(PortSecondary, []byte{0x21})).To(BeNil())

		Expect(router.Snapshot()[0].Occupied).To(BeFalse())
	})

	It("should accept a request exactly at the size limit", func() {
		plugBothPorts()
		payload := make([]byte, MaxMsgLen)
		secondary.EXPECT().Send(payloadOf(payload...)).Return(nil)

		Expect(router.OnRx(PortPrimary, payload)).To(BeNil())
		Expect(router.Snapshot()[0].Occupied).To(BeTrue())
	})

	It("should reject an oversized request without mutating any slot",
		func() {
			plugBothPorts()
			payload := make([]byte, MaxMsgLen+1)

			err := router.OnRx(PortPrimary, payload)

			var oversizeErr *OversizeError
			Expect(err).To(BeAssignableToTypeOf(oversizeErr))
			Expect(err.(*OversizeError).Len).To(Equal(MaxMsgLen + 1))
			Expect(router.Snapshot()[0].Occupied).To(BeFalse())
		})

	It("should reject an oversized response and keep the slot pending",
		func() {
			plugBothPorts()
			secondary.EXPECT().Send(payloadOf(0x01)).Return(nil)

			Expect(router.OnRx(PortPrimary, []byte{0x01})).To(BeNil())

			err := router.OnResponse(
				PortSecondary, make([]byte, MaxMsgLen+1))

			var oversizeErr *OversizeError
			Expect(err).To(BeAssignableToTypeOf(oversizeErr))
			Expect(router.Snapshot()[0].Occupied).To(BeTrue())
		})

	It("should propagate a forward failure and keep the slot pending",
		func() {
			plugBothPorts()
			sendErr := NewSendError(PortSecondary, SendErrNotConnected)
			secondary.EXPECT().Send(payloadOf(0x01)).Return(sendErr)

			err := router.OnRx(PortPrimary, []byte{0x01})

			Expect(err).To(BeIdenticalTo(sendErr))
			Expect(router.Snapshot()[0].Occupied).To(BeTrue())
		})

	It("should propagate a busy-reply failure", func() {
		plugBothPorts()
		sendErr := NewSendError(PortPrimary, SendErrBusy)
		secondary.EXPECT().Send(payloadOf(0x01)).Return(nil)
		primary.EXPECT().Send(payloadOf(BusyReply...)).Return(sendErr)

		Expect(router.OnRx(PortPrimary, []byte{0x01})).To(BeNil())

		err := router.OnRx(PortPrimary, []byte{0x01})

		Expect(err).To(BeIdenticalTo(sendErr))
	})

	It("should classify inbound traffic by slot state", func() {
		plugBothPorts()
		secondary.EXPECT().Send(payloadOf(0x01, 0x02)).Return(nil)
		primary.EXPECT().Send(payloadOf(0x20, 0x21)).Return(nil)

		Expect(router.HandleInbound(PortPrimary, []byte{0x01, 0x02})).
			To(BeNil())
		Expect(router.Snapshot()[0].Occupied).To(BeTrue())

		Expect(router.HandleInbound(PortSecondary, []byte{0x20, 0x21})).
			To(BeNil())
		Expect(router.Snapshot()[0].Occupied).To(BeFalse())
	})

	It("should invoke hooks along the request-response round trip", func() {
		plugBothPorts()
		hook := &recordingHook{}
		router.AcceptHook(hook)

		secondary.EXPECT().Send(gomock.Any()).Return(nil)
		primary.EXPECT().Send(payloadOf(BusyReply...)).Return(nil)
		primary.EXPECT().Send(payloadOf(0x20)).Return(nil)

		Expect(router.OnRx(PortPrimary, []byte{0x01})).To(BeNil())
		Expect(router.OnRx(PortPrimary, []byte{0x01})).To(BeNil())
		Expect(router.OnResponse(PortSecondary, []byte{0x20})).To(BeNil())
		Expect(router.OnResponse(PortSecondary, []byte{0x21})).To(BeNil())

		Expect(hook.positions).To(Equal([]*HookPos{
			HookPosReqForward,
			HookPosBusyReply,
			HookPosRspDeliver,
			HookPosOrphanDrop,
		}))
	})

	Context("with a request timeout", func() {
		BeforeEach(func() {
			router = MakeRouterBuilder().
				WithRequestTimeout(100 * time.Millisecond).
				Build("Router")
		})

		It("should not expire a fresh request", func() {
			plugBothPorts()
			secondary.EXPECT().Send(payloadOf(0x01)).Return(nil)

			Expect(router.OnRx(PortPrimary, []byte{0x01})).To(BeNil())

			madeProgress := router.Tick(time.Now())

			Expect(madeProgress).To(BeFalse())
			Expect(router.Snapshot()[0].Occupied).To(BeTrue())
		})

		It("should expire a stalled request and notify the initiator",
			func() {
				plugBothPorts()
				secondary.EXPECT().Send(payloadOf(0x01)).Return(nil)
				primary.EXPECT().
					Send(payloadOf(TimeoutReply...)).
					Return(nil)

				Expect(router.OnRx(PortPrimary, []byte{0x01})).
					To(BeNil())

				madeProgress := router.Tick(
					time.Now().Add(200 * time.Millisecond))

				Expect(madeProgress).To(BeTrue())
				Expect(router.Snapshot()[0].Occupied).To(BeFalse())
			})
	})

	It("should do nothing on Tick when no timeout is configured", func() {
		plugBothPorts()
		secondary.EXPECT().Send(payloadOf(0x01)).Return(nil)

		Expect(router.OnRx(PortPrimary, []byte{0x01})).To(BeNil())

		madeProgress := router.Tick(time.Now().Add(time.Hour))

		Expect(madeProgress).To(BeFalse())
		Expect(router.Snapshot()[0].Occupied).To(BeTrue())
	})
})
