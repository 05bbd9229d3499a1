package billing

import "context"

// StateListener receives the connection callbacks of a Service. Both methods
// may be invoked from any goroutine, at any later time.
type StateListener interface {
	OnSetupFinished(code ResponseCode)
	OnServiceDisconnected()
}

// PurchasesUpdatedListener receives purchases the service reports outside of
// an explicit query, typically at the end of a purchase flow.
type PurchasesUpdatedListener interface {
	OnPurchasesUpdated(code ResponseCode, purchases []*Purchase)
}

// Service is the platform purchasing service being wrapped. Apart from
// StartConnection, EndConnection and IsReady, calls are only valid while a
// connection is established.
type Service interface {
	StartConnection(listener StateListener)
	EndConnection()
	IsReady() bool

	SetPurchasesUpdatedListener(listener PurchasesUpdatedListener)

	IsFeatureSupported(ctx context.Context, feature Feature) ResponseCode
	QueryPurchases(ctx context.Context, skuType SkuType) PurchasesResult
	QuerySkuDetails(ctx context.Context, params SkuDetailsParams) (ResponseCode, []*SkuDetails)
	LaunchBillingFlow(ctx context.Context, params FlowParams) ResponseCode
	AcknowledgePurchase(ctx context.Context, purchaseToken string) ResponseCode
	ConsumePurchase(ctx context.Context, purchaseToken string) ResponseCode
}
