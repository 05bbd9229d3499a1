package billing

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
)

type RequestKind uint8

const (
	RequestKindUnknown RequestKind = iota
	RequestKindQueryPurchases
	RequestKindQuerySkuDetails
	RequestKindPurchaseFlow
	RequestKindAcknowledge
	RequestKindConsume
)

func (k RequestKind) String() string {
	switch k {
	case RequestKindQueryPurchases:
		return "query_purchases"
	case RequestKindQuerySkuDetails:
		return "query_sku_details"
	case RequestKindPurchaseFlow:
		return "purchase_flow"
	case RequestKindAcknowledge:
		return "acknowledge"
	case RequestKindConsume:
		return "consume"
	default:
		return "unknown"
	}
}

type requestState int32

const (
	requestPending requestState = iota
	requestRan
	requestDropped
)

// RequestFunc is the deferred body of a request. It only runs while the
// service is connected.
type RequestFunc func(ctx context.Context, svc Service)

// Request is a single deferred call against the purchasing service.
//
// Ordinary requests are re-run when the connection that carried them drops.
// One-shot requests run at most once and can be dropped before they run.
type Request struct {
	ID      uuid.UUID
	Kind    RequestKind
	oneShot bool

	fn    RequestFunc
	state atomic.Int32
}

func NewRequest(kind RequestKind, fn RequestFunc) *Request {
	return &Request{
		ID:   uuid.New(),
		Kind: kind,
		fn:   fn,
	}
}

func NewOneShotRequest(kind RequestKind, fn RequestFunc) *Request {
	r := NewRequest(kind, fn)
	r.oneShot = true
	return r
}

// IsPending reports whether the request has neither run nor been dropped.
func (r *Request) IsPending() bool {
	return requestState(r.state.Load()) == requestPending
}

// IsDropped reports whether the request was dropped before running.
func (r *Request) IsDropped() bool {
	return requestState(r.state.Load()) == requestDropped
}

// drop prevents a pending request from ever running.
func (r *Request) drop() bool {
	return r.state.CompareAndSwap(int32(requestPending), int32(requestDropped))
}

func (r *Request) run(ctx context.Context, svc Service) bool {
	if r.oneShot {
		if !r.state.CompareAndSwap(int32(requestPending), int32(requestRan)) {
			return false
		}
	} else {
		if r.IsDropped() {
			return false
		}
		r.state.Store(int32(requestRan))
	}

	r.fn(ctx, svc)
	return true
}
