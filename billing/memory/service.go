package memory

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/code-payments/flipchat-billing/billing"
	iap_memory "github.com/code-payments/flipchat-billing/iap/memory"
)

const DefaultPackageName = "xyz.flipchat.app"

// Service is an in-memory purchasing service. It signs the purchases it hands
// out with an ed25519 key, so they verify against iap/memory, and delivers
// every callback asynchronously and in order, like the platform service does.
type Service struct {
	log         *zap.Logger
	packageName string
	privateKey  ed25519.PrivateKey
	publicKey   ed25519.PublicKey

	callbacks *dispatcher

	mu            sync.Mutex
	ready         bool
	state         billing.StateListener
	updates       billing.PurchasesUpdatedListener
	setupCodes    []billing.ResponseCode
	flowCodes     []billing.ResponseCode
	subscriptions bool
	catalogue     map[string]*billing.SkuDetails
	owned         map[string]*billing.Purchase
	orderSeq      int
	connections   int
	consumed      []string
}

type Option func(*Service)

func WithPackageName(name string) Option {
	return func(s *Service) {
		s.packageName = name
	}
}

func WithSubscriptions(supported bool) Option {
	return func(s *Service) {
		s.subscriptions = supported
	}
}

func WithCatalogue(details ...*billing.SkuDetails) Option {
	return func(s *Service) {
		for _, d := range details {
			cloned := *d
			s.catalogue[d.ProductID] = &cloned
		}
	}
}

func NewService(log *zap.Logger, opts ...Option) (*Service, error) {
	pub, priv, err := iap_memory.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	s := &Service{
		log:         log,
		packageName: DefaultPackageName,
		privateKey:  priv,
		publicKey:   pub,
		callbacks:   newDispatcher(),
		catalogue:   make(map[string]*billing.SkuDetails),
		owned:       make(map[string]*billing.Purchase),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.callbacks.run()

	return s, nil
}

// PublicKey is the key the purchases of this service verify against.
func (s *Service) PublicKey() ed25519.PublicKey {
	return s.publicKey
}

// FailNextSetups makes the next connections finish their setup with codes, in
// order. Once they are used up setups succeed again.
func (s *Service) FailNextSetups(codes ...billing.ResponseCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setupCodes = append(s.setupCodes, codes...)
}

// FailNextPurchaseFlows makes the next purchase flows end with codes, as if
// the user cancelled or the store refused them.
func (s *Service) FailNextPurchaseFlows(codes ...billing.ResponseCode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flowCodes = append(s.flowCodes, codes...)
}

// Disconnect drops the current connection.
func (s *Service) Disconnect() {
	s.mu.Lock()
	state := s.state
	s.ready = false
	s.mu.Unlock()

	if state == nil {
		return
	}

	s.log.Debug("Dropping connection")
	s.callbacks.post(state.OnServiceDisconnected)
}

// Grant adds an owned purchase of productID, as if it was bought elsewhere.
func (s *Service) Grant(productID string) (*billing.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.catalogue[productID]; !ok {
		return nil, fmt.Errorf("unknown product %q", productID)
	}

	p, err := s.newPurchaseLocked(productID)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// Connections returns the number of connections started so far.
func (s *Service) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connections
}

// Consumed returns the consumed purchase tokens, in order.
func (s *Service) Consumed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.consumed...)
}

// Close stops callback delivery.
func (s *Service) Close() {
	s.callbacks.close()
}

func (s *Service) StartConnection(listener billing.StateListener) {
	s.mu.Lock()
	code := billing.ResponseCodeOK
	if len(s.setupCodes) > 0 {
		code = s.setupCodes[0]
		s.setupCodes = s.setupCodes[1:]
	}
	s.connections++
	s.state = listener
	s.ready = code.IsOK()
	s.mu.Unlock()

	s.log.Debug("Starting connection", zap.Stringer("code", code))
	s.callbacks.post(func() {
		listener.OnSetupFinished(code)
	})
}

func (s *Service) EndConnection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = false
	s.state = nil
}

func (s *Service) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Service) SetPurchasesUpdatedListener(listener billing.PurchasesUpdatedListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = listener
}

func (s *Service) IsFeatureSupported(_ context.Context, feature billing.Feature) billing.ResponseCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return billing.ResponseCodeServiceDisconnected
	}
	if feature == billing.FeatureSubscriptions && s.subscriptions {
		return billing.ResponseCodeOK
	}
	return billing.ResponseCodeFeatureNotSupported
}

func (s *Service) QueryPurchases(_ context.Context, skuType billing.SkuType) billing.PurchasesResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return billing.PurchasesResult{Code: billing.ResponseCodeServiceDisconnected}
	}

	purchases := make([]*billing.Purchase, 0, len(s.owned))
	for _, p := range s.owned {
		if details, ok := s.catalogue[p.ProductID]; ok && details.Type == skuType {
			purchases = append(purchases, p.Clone())
		}
	}
	sort.Slice(purchases, func(i, j int) bool {
		return purchases[i].OrderID < purchases[j].OrderID
	})

	return billing.PurchasesResult{Code: billing.ResponseCodeOK, Purchases: purchases}
}

func (s *Service) QuerySkuDetails(_ context.Context, params billing.SkuDetailsParams) (billing.ResponseCode, []*billing.SkuDetails) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return billing.ResponseCodeServiceDisconnected, nil
	}

	var details []*billing.SkuDetails
	for _, sku := range params.Skus {
		d, ok := s.catalogue[sku]
		if !ok || d.Type != params.Type {
			continue
		}
		cloned := *d
		details = append(details, &cloned)
	}
	return billing.ResponseCodeOK, details
}

func (s *Service) LaunchBillingFlow(_ context.Context, params billing.FlowParams) billing.ResponseCode {
	s.mu.Lock()

	if !s.ready {
		s.mu.Unlock()
		return billing.ResponseCodeServiceDisconnected
	}
	if params.SkuDetails == nil {
		s.mu.Unlock()
		return billing.ResponseCodeDeveloperError
	}

	productID := params.SkuDetails.ProductID
	if _, ok := s.catalogue[productID]; !ok {
		s.mu.Unlock()
		return billing.ResponseCodeItemUnavailable
	}
	for _, p := range s.owned {
		if p.ProductID == productID {
			s.mu.Unlock()
			return billing.ResponseCodeItemAlreadyOwned
		}
	}

	updates := s.updates
	if len(s.flowCodes) > 0 {
		code := s.flowCodes[0]
		s.flowCodes = s.flowCodes[1:]
		s.mu.Unlock()

		if updates != nil {
			s.callbacks.post(func() {
				updates.OnPurchasesUpdated(code, nil)
			})
		}
		return billing.ResponseCodeOK
	}

	p, err := s.newPurchaseLocked(productID)
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("Failed to create purchase", zap.Error(err))
		return billing.ResponseCodeError
	}

	s.log.Debug("Purchase flow completed", zap.String("product_id", productID), zap.String("order_id", p.OrderID))
	if updates != nil {
		purchase := p.Clone()
		s.callbacks.post(func() {
			updates.OnPurchasesUpdated(billing.ResponseCodeOK, []*billing.Purchase{purchase})
		})
	}
	return billing.ResponseCodeOK
}

func (s *Service) AcknowledgePurchase(_ context.Context, purchaseToken string) billing.ResponseCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return billing.ResponseCodeServiceDisconnected
	}

	p, ok := s.owned[purchaseToken]
	if !ok {
		return billing.ResponseCodeItemNotOwned
	}
	if p.Acknowledged {
		return billing.ResponseCodeOK
	}

	p.Acknowledged = true
	if err := s.signLocked(p); err != nil {
		s.log.Warn("Failed to sign purchase", zap.Error(err))
		return billing.ResponseCodeError
	}
	return billing.ResponseCodeOK
}

func (s *Service) ConsumePurchase(_ context.Context, purchaseToken string) billing.ResponseCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return billing.ResponseCodeServiceDisconnected
	}
	if _, ok := s.owned[purchaseToken]; !ok {
		return billing.ResponseCodeItemNotOwned
	}

	delete(s.owned, purchaseToken)
	s.consumed = append(s.consumed, purchaseToken)
	return billing.ResponseCodeOK
}

func (s *Service) newPurchaseLocked(productID string) (*billing.Purchase, error) {
	s.orderSeq++

	p := &billing.Purchase{
		OrderID:       fmt.Sprintf("GPA.%04d", s.orderSeq),
		PackageName:   s.packageName,
		ProductID:     productID,
		PurchaseToken: uuid.NewString(),
		PurchaseTime:  time.UnixMilli(time.Now().UnixMilli()),
		State:         billing.PurchaseStatePurchased,
	}
	if err := s.signLocked(p); err != nil {
		return nil, err
	}

	s.owned[p.PurchaseToken] = p
	return p, nil
}

func (s *Service) signLocked(p *billing.Purchase) error {
	payload, err := billing.EncodePurchasePayload(p)
	if err != nil {
		return err
	}

	p.OriginalJSON = payload
	p.Signature = iap_memory.Sign(s.privateKey, payload)
	return nil
}

// dispatcher runs callbacks one at a time on its own goroutine. The queue is
// unbounded, callbacks may post further callbacks.
type dispatcher struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
}

func newDispatcher() *dispatcher {
	d := &dispatcher{}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *dispatcher) post(f func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.queue = append(d.queue, f)
	d.cond.Signal()
}

func (d *dispatcher) run() {
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if d.closed {
			d.mu.Unlock()
			return
		}
		f := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		f()
	}
}

func (d *dispatcher) close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.closed = true
	d.queue = nil
	d.cond.Broadcast()
}
