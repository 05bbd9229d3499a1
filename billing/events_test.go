package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/code-payments/flipchat-billing/event"
)

func TestBusListener(t *testing.T) {
	bus := NewEventBus()

	var all []*Event
	bus.AddHandler(event.HandlerFunc[EventKind, *Event](func(_ EventKind, e *Event) {
		all = append(all, e)
	}))

	flows := event.NewChannelStream[*Event, ResponseCode]("flows", 8, func(e *Event) (ResponseCode, bool) {
		return e.Code, e.Kind == EventKindPurchaseFlowFailed
	})
	bus.AddKeyHandler(EventKindPurchaseFlowFailed, event.StreamHandler[EventKind, *Event](flows, time.Second, nil))

	now := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)
	listener := NewBusListener(zap.NewNop(), bus)
	listener.now = func() time.Time { return now }

	purchase := &Purchase{OrderID: "GPA.1", PurchaseToken: "token"}

	var l Listener = listener
	l.OnSetupFinished()
	l.OnDisconnected(ResponseCodeServiceDisconnected)
	l.OnPurchaseFlowFailed(ResponseCodeUserCanceled)
	l.OnConsumeFinished(ResponseCodeOK, purchase)
	l.OnPurchasesUpdated(ResponseCodeOK, []*Purchase{purchase})
	l.OnQueryCompleted(ResponseCodeError, nil)
	l.OnPurchaseAcknowledged(ResponseCodeOK, purchase)

	require.Len(t, all, 7)

	kinds := make([]EventKind, len(all))
	for i, e := range all {
		kinds[i] = e.Kind
		assert.Equal(t, now, e.Timestamp)
	}
	assert.Equal(t, []EventKind{
		EventKindSetupFinished,
		EventKindDisconnected,
		EventKindPurchaseFlowFailed,
		EventKindConsumeFinished,
		EventKindPurchasesUpdated,
		EventKindQueryCompleted,
		EventKindPurchaseAcknowledged,
	}, kinds)

	assert.Equal(t, ResponseCodeServiceDisconnected, all[1].Code)
	assert.Same(t, purchase, all[3].Purchase)
	assert.Len(t, all[4].Purchases, 1)
	assert.Equal(t, ResponseCodeError, all[5].Code)

	flows.Close()
	var codes []ResponseCode
	for code := range flows.Channel() {
		codes = append(codes, code)
	}
	assert.Equal(t, []ResponseCode{ResponseCodeUserCanceled}, codes)
}

func TestEvent_Clone(t *testing.T) {
	original := &Event{
		Kind:      EventKindQueryCompleted,
		Purchase:  &Purchase{PurchaseToken: "a"},
		Purchases: []*Purchase{{PurchaseToken: "b"}},
	}

	cloned := original.Clone()
	cloned.Purchase.PurchaseToken = "changed"
	cloned.Purchases[0].PurchaseToken = "changed"

	assert.Equal(t, "a", original.Purchase.PurchaseToken)
	assert.Equal(t, "b", original.Purchases[0].PurchaseToken)
}
