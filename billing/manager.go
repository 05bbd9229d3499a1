package billing

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/code-payments/flipchat-billing/iap"
	iap_memory "github.com/code-payments/flipchat-billing/iap/memory"
)

var (
	ErrPurchaseFlowPending = errors.New("a purchase flow is already pending")
	ErrClosed              = errors.New("billing manager is closed")
)

type options struct {
	policy     RetryPolicy
	sched      Scheduler
	tokens     iap.TokenStore
	metrics    *Metrics
	strictFlow bool
}

type Option func(*options)

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(o *options) {
		o.policy = policy
	}
}

func WithScheduler(sched Scheduler) Option {
	return func(o *options) {
		o.sched = sched
	}
}

// WithTokenStore replaces the process-lifetime consumed-token set.
func WithTokenStore(tokens iap.TokenStore) Option {
	return func(o *options) {
		o.tokens = tokens
	}
}

func WithMetrics(metrics *Metrics) Option {
	return func(o *options) {
		o.metrics = metrics
	}
}

// WithStrictPurchaseFlow makes LaunchPurchaseFlow fail with
// ErrPurchaseFlowPending instead of replacing a flow that has not run yet.
func WithStrictPurchaseFlow(strict bool) Option {
	return func(o *options) {
		o.strictFlow = strict
	}
}

// Manager handles all interactions with the purchasing service: it keeps the
// connection through an Executor, caches verified purchases and reports every
// result to a Listener.
type Manager struct {
	log      *zap.Logger
	exec     *Executor
	verifier iap.Verifier
	tokens   iap.TokenStore
	listener Listener
	metrics  *Metrics

	strictFlow bool

	mu           sync.Mutex
	purchases    []*Purchase
	purchaseFlow *Request
}

func NewManager(
	log *zap.Logger,
	svc Service,
	verifier iap.Verifier,
	listener Listener,
	opts ...Option,
) *Manager {
	o := &options{
		policy: DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.tokens == nil {
		o.tokens = iap_memory.NewInMemory()
	}
	if listener == nil {
		listener = NoOpListener{}
	}

	m := &Manager{
		log:        log,
		exec:       NewExecutor(log, svc, listener, o.policy, o.sched, o.metrics),
		verifier:   verifier,
		tokens:     o.tokens,
		listener:   listener,
		metrics:    o.metrics,
		strictFlow: o.strictFlow,
	}

	svc.SetPurchasesUpdatedListener(m)

	return m
}

// QueryPurchases connects if needed and reports the verified purchases the
// user owns, in-app items and, when supported, subscriptions, through
// Listener.OnQueryCompleted.
func (m *Manager) QueryPurchases() {
	m.exec.Execute(NewRequest(RequestKindQueryPurchases, m.queryPurchases))
}

func (m *Manager) queryPurchases(ctx context.Context, svc Service) {
	start := time.Now()

	result := svc.QueryPurchases(ctx, SkuTypeInApp)
	m.log.Debug("Queried purchases",
		zap.Stringer("code", result.Code),
		zap.Int("count", len(result.Purchases)),
		zap.Duration("elapsed", time.Since(start)),
	)

	switch {
	case m.subscriptionsSupported(ctx, svc):
		subs := svc.QueryPurchases(ctx, SkuTypeSubscription)

		log := m.log.With(
			zap.Stringer("code", subs.Code),
			zap.Int("count", len(subs.Purchases)),
			zap.Duration("elapsed", time.Since(start)),
		)
		log.Debug("Queried subscriptions")

		if !subs.Code.IsOK() {
			log.Warn("Got an error response querying subscription purchases")
			break
		}

		if result.Purchases == nil {
			// Nothing to merge into; keep what the first query gathered.
			log.Warn("Purchases list is missing, skipping subscriptions merge")
			break
		}
		result.Purchases = append(result.Purchases, subs.Purchases...)
	case result.Code.IsOK():
		m.log.Debug("Skipped subscription purchases query since they are not supported")
	default:
		m.log.Warn("Query purchases got an error response", zap.Stringer("code", result.Code))
	}

	m.onQueryPurchasesFinished(ctx, result)
}

func (m *Manager) onQueryPurchasesFinished(ctx context.Context, result PurchasesResult) {
	if m.exec.IsClosed() {
		m.log.Warn("Manager was closed, dropping query result")
		return
	}

	verified := m.verifyPurchases(ctx, result.Purchases)

	if !result.Code.IsOK() {
		m.log.Warn("Query purchases finished with an error", zap.Stringer("code", result.Code))
		m.listener.OnQueryCompleted(result.Code, verified)
		return
	}

	m.mu.Lock()
	m.purchases = clonePurchases(verified)
	m.mu.Unlock()

	m.log.Debug("Query inventory was successful", zap.Int("count", len(verified)))
	m.listener.OnQueryCompleted(result.Code, verified)
}

func (m *Manager) subscriptionsSupported(ctx context.Context, svc Service) bool {
	code := svc.IsFeatureSupported(ctx, FeatureSubscriptions)
	if !code.IsOK() {
		m.log.Warn("Subscriptions are not supported", zap.Stringer("code", code))
	}
	return code.IsOK()
}

// OnPurchasesUpdated is called by the service when purchases change outside
// of a query, typically at the end of a purchase flow.
func (m *Manager) OnPurchasesUpdated(code ResponseCode, purchases []*Purchase) {
	if m.exec.IsClosed() {
		m.log.Debug("Manager was closed, dropping purchases update")
		return
	}

	switch code {
	case ResponseCodeOK:
		verified := m.verifyPurchases(m.exec.Context(), purchases)

		m.mu.Lock()
		m.purchases = append(m.purchases, clonePurchases(verified)...)
		snapshot := clonePurchases(m.purchases)
		m.mu.Unlock()

		m.listener.OnPurchasesUpdated(code, snapshot)
	case ResponseCodeUserCanceled:
		m.log.Info("User cancelled the purchase flow, skipping")
	default:
		m.log.Warn("Purchases update got an error response", zap.Stringer("code", code))
	}
}

// QuerySkuDetails fetches the catalogue entries of skus and hands them to
// callback once the service is reachable.
func (m *Manager) QuerySkuDetails(skuType SkuType, skus []string, callback func(code ResponseCode, details []*SkuDetails)) {
	params := SkuDetailsParams{
		Type: skuType,
		Skus: append([]string(nil), skus...),
	}

	m.exec.Execute(NewRequest(RequestKindQuerySkuDetails, func(ctx context.Context, svc Service) {
		code, details := svc.QuerySkuDetails(ctx, params)
		if !code.IsOK() {
			m.log.Warn("Query sku details got an error response",
				zap.Stringer("code", code),
				zap.String("sku_type", string(skuType)),
			)
		}
		if callback != nil {
			callback(code, details)
		}
	}))
}

// LaunchPurchaseFlow starts the purchase flow of details.
//
// There is a single purchase flow slot: a flow that has not run yet is
// replaced by the new one and never runs, unless the manager is strict, in
// which case ErrPurchaseFlowPending is returned.
func (m *Manager) LaunchPurchaseFlow(details *SkuDetails) error {
	if m.exec.IsClosed() {
		return ErrClosed
	}

	log := m.log.With(zap.String("product_id", details.ProductID))

	params := FlowParams{SkuDetails: details}
	req := NewOneShotRequest(RequestKindPurchaseFlow, func(ctx context.Context, svc Service) {
		code := svc.LaunchBillingFlow(ctx, params)
		if !code.IsOK() {
			log.Warn("Failed to launch purchase flow", zap.Stringer("code", code))
			m.listener.OnPurchaseFlowFailed(code)
		}
	})

	m.mu.Lock()
	if prev := m.purchaseFlow; prev != nil && prev.IsPending() {
		if m.strictFlow {
			m.mu.Unlock()
			return ErrPurchaseFlowPending
		}
		if prev.drop() {
			log.Warn("Replacing pending purchase flow", zap.String("replaced_request_id", prev.ID.String()))
		}
	}
	m.purchaseFlow = req
	m.mu.Unlock()

	log.Debug("Launching purchase flow", zap.String("request_id", req.ID.String()))
	m.exec.Execute(req)
	return nil
}

// Acknowledge confirms receipt of a purchased, unacknowledged purchase. Any
// other purchase is ignored.
func (m *Manager) Acknowledge(purchase *Purchase) {
	log := m.log.With(zap.String("order_id", purchase.OrderID))

	if purchase.State != PurchaseStatePurchased {
		log.Debug("Purchase is not in purchased state, skipping acknowledge", zap.Stringer("state", purchase.State))
		return
	}
	if purchase.Acknowledged {
		log.Debug("Purchase is already acknowledged, skipping")
		return
	}

	// One-shot, a reconnection never acknowledges the purchase again.
	p := purchase.Clone()
	m.exec.Execute(NewOneShotRequest(RequestKindAcknowledge, func(ctx context.Context, svc Service) {
		code := svc.AcknowledgePurchase(ctx, p.PurchaseToken)
		if code.IsOK() {
			p.Acknowledged = true
			m.updateCached(p.PurchaseToken, func(cached *Purchase) {
				cached.Acknowledged = true
			})
		} else {
			log.Warn("Acknowledge got an error response", zap.Stringer("code", code))
		}

		m.listener.OnPurchaseAcknowledged(code, p)
	}))
}

// Consume redeems a one-time purchase so it can be bought again. A token is
// consumed at most once; repeated calls are ignored, and the request is not
// replayed when the connection that carried it drops.
//
// The returned error only reports a failure of the consumed-token store.
func (m *Manager) Consume(ctx context.Context, purchase *Purchase) error {
	log := m.log.With(zap.String("order_id", purchase.OrderID))

	if m.exec.IsClosed() {
		return ErrClosed
	}

	// The token is recorded before the request is dispatched, so a concurrent
	// call for the same purchase never dispatches twice.
	added, err := m.tokens.MarkConsumed(ctx, purchase.PurchaseToken)
	if err != nil {
		log.Warn("Failed to record consumed token", zap.Error(err))
		return err
	}
	if !added {
		log.Info("Token was already scheduled to be consumed, skipping")
		return nil
	}

	p := purchase.Clone()
	m.exec.Execute(NewOneShotRequest(RequestKindConsume, func(ctx context.Context, svc Service) {
		code := svc.ConsumePurchase(ctx, p.PurchaseToken)
		if code.IsOK() {
			m.removeCached(p.PurchaseToken)
		} else {
			log.Warn("Consume got an error response", zap.Stringer("code", code))
		}

		m.listener.OnConsumeFinished(code, p)
	}))
	return nil
}

// OwnedPurchases returns the verified purchases from the last query and
// later updates.
func (m *Manager) OwnedPurchases() []*Purchase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clonePurchases(m.purchases)
}

func (m *Manager) State() State {
	return m.exec.State()
}

// SetupResponseCode returns the code of the last setup callback, or false if
// none was received yet.
func (m *Manager) SetupResponseCode() (ResponseCode, bool) {
	return m.exec.SetupResponseCode()
}

// Close tears down the connection. The manager cannot be used afterwards.
func (m *Manager) Close() {
	m.log.Debug("Destroying the manager")
	m.exec.Close()
}

func (m *Manager) verifyPurchases(ctx context.Context, purchases []*Purchase) []*Purchase {
	if purchases == nil {
		return nil
	}

	verified := make([]*Purchase, 0, len(purchases))
	for _, p := range purchases {
		if p == nil {
			continue
		}
		if !m.verifyPurchase(ctx, p) {
			continue
		}
		verified = append(verified, p.Clone())
	}
	return verified
}

func (m *Manager) verifyPurchase(ctx context.Context, p *Purchase) bool {
	log := m.log.With(
		zap.String("order_id", p.OrderID),
		zap.String("product_id", p.ProductID),
	)

	ok, err := m.verifier.VerifyPurchase(ctx, p.OriginalJSON, p.Signature)
	if err != nil {
		log.Warn("Failed to verify purchase signature", zap.Error(err))
		m.metrics.verificationFailure()
		return false
	}
	if !ok {
		log.Info("Got a purchase with a bad signature, skipping")
		m.metrics.verificationFailure()
		return false
	}

	log.Debug("Got a verified purchase")
	return true
}

func (m *Manager) updateCached(token string, update func(*Purchase)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, cached := range m.purchases {
		if cached.PurchaseToken == token {
			update(cached)
		}
	}
}

func (m *Manager) removeCached(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.purchases[:0]
	for _, cached := range m.purchases {
		if cached.PurchaseToken != token {
			kept = append(kept, cached)
		}
	}
	m.purchases = kept
}
