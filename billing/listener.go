package billing

// Listener is the caller supplied sink for everything the Manager reports.
//
// Notifications are delivered on whichever goroutine completed the underlying
// request; implementations must not block for long.
type Listener interface {
	OnSetupFinished()
	OnDisconnected(code ResponseCode)
	OnPurchaseFlowFailed(code ResponseCode)
	OnConsumeFinished(code ResponseCode, purchase *Purchase)
	OnPurchasesUpdated(code ResponseCode, purchases []*Purchase)
	OnQueryCompleted(code ResponseCode, purchases []*Purchase)
	OnPurchaseAcknowledged(code ResponseCode, purchase *Purchase)
}

type NoOpListener struct{}

func (NoOpListener) OnSetupFinished()                                   {}
func (NoOpListener) OnDisconnected(_ ResponseCode)                      {}
func (NoOpListener) OnPurchaseFlowFailed(_ ResponseCode)                {}
func (NoOpListener) OnConsumeFinished(_ ResponseCode, _ *Purchase)      {}
func (NoOpListener) OnPurchasesUpdated(_ ResponseCode, _ []*Purchase)   {}
func (NoOpListener) OnQueryCompleted(_ ResponseCode, _ []*Purchase)     {}
func (NoOpListener) OnPurchaseAcknowledged(_ ResponseCode, _ *Purchase) {}

// ListenerFuncs is a Listener built from optional functions. Nil fields are
// ignored.
type ListenerFuncs struct {
	SetupFinished        func()
	Disconnected         func(code ResponseCode)
	PurchaseFlowFailed   func(code ResponseCode)
	ConsumeFinished      func(code ResponseCode, purchase *Purchase)
	PurchasesUpdated     func(code ResponseCode, purchases []*Purchase)
	QueryCompleted       func(code ResponseCode, purchases []*Purchase)
	PurchaseAcknowledged func(code ResponseCode, purchase *Purchase)
}

func (l *ListenerFuncs) OnSetupFinished() {
	if l.SetupFinished != nil {
		l.SetupFinished()
	}
}

func (l *ListenerFuncs) OnDisconnected(code ResponseCode) {
	if l.Disconnected != nil {
		l.Disconnected(code)
	}
}

func (l *ListenerFuncs) OnPurchaseFlowFailed(code ResponseCode) {
	if l.PurchaseFlowFailed != nil {
		l.PurchaseFlowFailed(code)
	}
}

func (l *ListenerFuncs) OnConsumeFinished(code ResponseCode, purchase *Purchase) {
	if l.ConsumeFinished != nil {
		l.ConsumeFinished(code, purchase)
	}
}

func (l *ListenerFuncs) OnPurchasesUpdated(code ResponseCode, purchases []*Purchase) {
	if l.PurchasesUpdated != nil {
		l.PurchasesUpdated(code, purchases)
	}
}

func (l *ListenerFuncs) OnQueryCompleted(code ResponseCode, purchases []*Purchase) {
	if l.QueryCompleted != nil {
		l.QueryCompleted(code, purchases)
	}
}

func (l *ListenerFuncs) OnPurchaseAcknowledged(code ResponseCode, purchase *Purchase) {
	if l.PurchaseAcknowledged != nil {
		l.PurchaseAcknowledged(code, purchase)
	}
}
