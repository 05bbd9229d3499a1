package billing

import (
	"time"

	"go.uber.org/zap"

	"github.com/code-payments/flipchat-billing/event"
)

type EventKind string

const (
	EventKindSetupFinished        EventKind = "setup_finished"
	EventKindDisconnected         EventKind = "disconnected"
	EventKindPurchaseFlowFailed   EventKind = "purchase_flow_failed"
	EventKindConsumeFinished      EventKind = "consume_finished"
	EventKindPurchasesUpdated     EventKind = "purchases_updated"
	EventKindQueryCompleted       EventKind = "query_completed"
	EventKindPurchaseAcknowledged EventKind = "purchase_acknowledged"
)

// Event is a Listener notification as published on an event bus.
type Event struct {
	Kind      EventKind    `json:"kind"`
	Code      ResponseCode `json:"code"`
	Timestamp time.Time    `json:"timestamp"`

	Purchase  *Purchase   `json:"purchase,omitempty"`
	Purchases []*Purchase `json:"purchases,omitempty"`
}

func (e *Event) Clone() *Event {
	cloned := *e
	if e.Purchase != nil {
		cloned.Purchase = e.Purchase.Clone()
	}
	cloned.Purchases = clonePurchases(e.Purchases)
	return &cloned
}

type EventBus = event.Bus[EventKind, *Event]

func NewEventBus() *EventBus {
	return event.NewBus[EventKind, *Event]()
}

// BusListener is a Listener publishing every notification on a bus, so
// results can be consumed from handlers and channel streams.
type BusListener struct {
	log *zap.Logger
	bus *EventBus
	now func() time.Time
}

func NewBusListener(log *zap.Logger, bus *EventBus) *BusListener {
	return &BusListener{
		log: log,
		bus: bus,
		now: time.Now,
	}
}

func (l *BusListener) publish(e *Event) {
	e.Timestamp = l.now()
	if err := l.bus.OnEvent(e.Kind, e); err != nil {
		l.log.Warn("Failed to publish billing event", zap.String("kind", string(e.Kind)), zap.Error(err))
	}
}

func (l *BusListener) OnSetupFinished() {
	l.publish(&Event{Kind: EventKindSetupFinished, Code: ResponseCodeOK})
}

func (l *BusListener) OnDisconnected(code ResponseCode) {
	l.publish(&Event{Kind: EventKindDisconnected, Code: code})
}

func (l *BusListener) OnPurchaseFlowFailed(code ResponseCode) {
	l.publish(&Event{Kind: EventKindPurchaseFlowFailed, Code: code})
}

func (l *BusListener) OnConsumeFinished(code ResponseCode, purchase *Purchase) {
	l.publish(&Event{Kind: EventKindConsumeFinished, Code: code, Purchase: purchase})
}

func (l *BusListener) OnPurchasesUpdated(code ResponseCode, purchases []*Purchase) {
	l.publish(&Event{Kind: EventKindPurchasesUpdated, Code: code, Purchases: purchases})
}

func (l *BusListener) OnQueryCompleted(code ResponseCode, purchases []*Purchase) {
	l.publish(&Event{Kind: EventKindQueryCompleted, Code: code, Purchases: purchases})
}

func (l *BusListener) OnPurchaseAcknowledged(code ResponseCode, purchase *Purchase) {
	l.publish(&Event{Kind: EventKindPurchaseAcknowledged, Code: code, Purchase: purchase})
}
