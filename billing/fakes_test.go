package billing

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	iap_memory "github.com/code-payments/flipchat-billing/iap/memory"
)

type fakeService struct {
	mu sync.Mutex

	attempts []StateListener
	ready    bool
	ended    int
	updates  PurchasesUpdatedListener

	featureCode ResponseCode
	results     map[SkuType]PurchasesResult
	skuCode     ResponseCode
	skuDetails  []*SkuDetails
	flowCode    ResponseCode
	ackCode     ResponseCode
	consumeCode ResponseCode

	launched     []*SkuDetails
	acknowledged []string
	consumed     []string
	skuQueries   int
}

func newFakeService() *fakeService {
	return &fakeService{
		featureCode: ResponseCodeFeatureNotSupported,
		results:     map[SkuType]PurchasesResult{},
	}
}

func (s *fakeService) StartConnection(listener StateListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, listener)
}

func (s *fakeService) EndConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = false
	s.ended++
}

func (s *fakeService) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *fakeService) SetPurchasesUpdatedListener(listener PurchasesUpdatedListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = listener
}

func (s *fakeService) IsFeatureSupported(_ context.Context, _ Feature) ResponseCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.featureCode
}

func (s *fakeService) QueryPurchases(_ context.Context, skuType SkuType) PurchasesResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := s.results[skuType]
	if res.Purchases != nil {
		res.Purchases = append([]*Purchase(nil), res.Purchases...)
	}
	return res
}

func (s *fakeService) QuerySkuDetails(_ context.Context, _ SkuDetailsParams) (ResponseCode, []*SkuDetails) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skuQueries++
	return s.skuCode, s.skuDetails
}

func (s *fakeService) LaunchBillingFlow(_ context.Context, params FlowParams) ResponseCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.launched = append(s.launched, params.SkuDetails)
	return s.flowCode
}

func (s *fakeService) AcknowledgePurchase(_ context.Context, purchaseToken string) ResponseCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acknowledged = append(s.acknowledged, purchaseToken)
	return s.ackCode
}

func (s *fakeService) ConsumePurchase(_ context.Context, purchaseToken string) ResponseCode {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consumed = append(s.consumed, purchaseToken)
	return s.consumeCode
}

func (s *fakeService) numAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

func (s *fakeService) attempt(i int) StateListener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[i]
}

func (s *fakeService) lastAttempt() StateListener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[len(s.attempts)-1]
}

// finishSetup delivers the setup callback of the latest connection attempt.
func (s *fakeService) finishSetup(code ResponseCode) {
	s.mu.Lock()
	s.ready = code.IsOK()
	listener := s.attempts[len(s.attempts)-1]
	s.mu.Unlock()

	listener.OnSetupFinished(code)
}

func (s *fakeService) disconnect() {
	s.mu.Lock()
	s.ready = false
	listener := s.attempts[len(s.attempts)-1]
	s.mu.Unlock()

	listener.OnServiceDisconnected()
}

func (s *fakeService) snapshot() (launched []*SkuDetails, acknowledged, consumed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*SkuDetails(nil), s.launched...),
		append([]string(nil), s.acknowledged...),
		append([]string(nil), s.consumed...)
}

type manualTask struct {
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

// manualScheduler only runs scheduled functions when told to.
type manualScheduler struct {
	mu    sync.Mutex
	tasks []*manualTask
}

func (s *manualScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := &manualTask{delay: d, f: f}
	s.tasks = append(s.tasks, t)
	return &manualTimer{sched: s, task: t}
}

// fireNext runs the oldest outstanding task. It returns false if there is
// none.
func (s *manualScheduler) fireNext() bool {
	s.mu.Lock()
	var next *manualTask
	for _, t := range s.tasks {
		if !t.fired && !t.stopped {
			next = t
			break
		}
	}
	if next != nil {
		next.fired = true
	}
	s.mu.Unlock()

	if next == nil {
		return false
	}
	next.f()
	return true
}

func (s *manualScheduler) scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func (s *manualScheduler) outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	for _, t := range s.tasks {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

type manualTimer struct {
	sched *manualScheduler
	task  *manualTask
}

func (t *manualTimer) Stop() bool {
	t.sched.mu.Lock()
	defer t.sched.mu.Unlock()

	if t.task.fired || t.task.stopped {
		return false
	}
	t.task.stopped = true
	return true
}

type recordingListener struct {
	mu sync.Mutex

	setupFinished  int
	disconnected   []ResponseCode
	flowFailed     []ResponseCode
	consumed       []ResponseCode
	updated        [][]*Purchase
	queried        [][]*Purchase
	queryCodes     []ResponseCode
	acknowledged   []ResponseCode
	ackedPurchases []*Purchase
}

func (l *recordingListener) OnSetupFinished() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setupFinished++
}

func (l *recordingListener) OnDisconnected(code ResponseCode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.disconnected = append(l.disconnected, code)
}

func (l *recordingListener) OnPurchaseFlowFailed(code ResponseCode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.flowFailed = append(l.flowFailed, code)
}

func (l *recordingListener) OnConsumeFinished(code ResponseCode, _ *Purchase) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consumed = append(l.consumed, code)
}

func (l *recordingListener) OnPurchasesUpdated(_ ResponseCode, purchases []*Purchase) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updated = append(l.updated, purchases)
}

func (l *recordingListener) OnQueryCompleted(code ResponseCode, purchases []*Purchase) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.queryCodes = append(l.queryCodes, code)
	l.queried = append(l.queried, purchases)
}

func (l *recordingListener) OnPurchaseAcknowledged(code ResponseCode, purchase *Purchase) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acknowledged = append(l.acknowledged, code)
	l.ackedPurchases = append(l.ackedPurchases, purchase)
}

func newSignedPurchase(t *testing.T, priv ed25519.PrivateKey, token string, state PurchaseState, acknowledged bool) *Purchase {
	p := &Purchase{
		OrderID:       "GPA." + token,
		PackageName:   "xyz.flipchat.app",
		ProductID:     "com.flipchat.iap.createaccount",
		PurchaseToken: token,
		PurchaseTime:  time.UnixMilli(time.Now().UnixMilli()),
		State:         state,
		Acknowledged:  acknowledged,
	}

	payload, err := EncodePurchasePayload(p)
	require.NoError(t, err)

	p.OriginalJSON = payload
	p.Signature = iap_memory.Sign(priv, payload)
	return p
}
