package billing

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

type SkuType string

const (
	SkuTypeInApp        SkuType = "inapp"
	SkuTypeSubscription SkuType = "subs"
)

type Feature string

const (
	FeatureSubscriptions Feature = "subscriptions"
)

type PurchaseState uint8

const (
	PurchaseStateUnspecified PurchaseState = iota
	PurchaseStatePurchased
	PurchaseStatePending
)

func (s PurchaseState) String() string {
	switch s {
	case PurchaseStatePurchased:
		return "PURCHASED"
	case PurchaseStatePending:
		return "PENDING"
	default:
		return "UNSPECIFIED"
	}
}

// Purchase is a single purchase record as delivered by the purchasing service.
//
// OriginalJSON and Signature are kept verbatim, they are what the signature
// verifier checks.
type Purchase struct {
	OrderID       string        `json:"order_id"`
	PackageName   string        `json:"package_name"`
	ProductID     string        `json:"product_id"`
	PurchaseToken string        `json:"purchase_token"`
	PurchaseTime  time.Time     `json:"purchase_time"`
	State         PurchaseState `json:"state"`
	Acknowledged  bool          `json:"acknowledged"`

	OriginalJSON string `json:"original_json"`
	Signature    string `json:"signature"`
}

func (p *Purchase) Clone() *Purchase {
	cloned := *p
	return &cloned
}

// purchasePayload mirrors the signed JSON document of a purchase.
type purchasePayload struct {
	OrderID       string `json:"orderId"`
	PackageName   string `json:"packageName"`
	ProductID     string `json:"productId"`
	PurchaseTime  int64  `json:"purchaseTime"`
	PurchaseState int    `json:"purchaseState"`
	PurchaseToken string `json:"purchaseToken"`
	Acknowledged  bool   `json:"acknowledged"`
}

// ParsePurchase builds a Purchase from its signed JSON payload.
func ParsePurchase(originalJSON, signature string) (*Purchase, error) {
	var payload purchasePayload
	if err := json.Unmarshal([]byte(originalJSON), &payload); err != nil {
		return nil, errors.Wrap(err, "failed to decode purchase payload")
	}
	if payload.PurchaseToken == "" {
		return nil, errors.New("purchase payload has no token")
	}

	state := PurchaseStateUnspecified
	switch payload.PurchaseState {
	case 0:
		state = PurchaseStatePurchased
	case 4:
		state = PurchaseStatePending
	}

	return &Purchase{
		OrderID:       payload.OrderID,
		PackageName:   payload.PackageName,
		ProductID:     payload.ProductID,
		PurchaseToken: payload.PurchaseToken,
		PurchaseTime:  time.UnixMilli(payload.PurchaseTime),
		State:         state,
		Acknowledged:  payload.Acknowledged,
		OriginalJSON:  originalJSON,
		Signature:     signature,
	}, nil
}

// EncodePurchasePayload is the inverse of ParsePurchase, minus the signature.
func EncodePurchasePayload(p *Purchase) (string, error) {
	state := 1
	switch p.State {
	case PurchaseStatePurchased:
		state = 0
	case PurchaseStatePending:
		state = 4
	}

	b, err := json.Marshal(&purchasePayload{
		OrderID:       p.OrderID,
		PackageName:   p.PackageName,
		ProductID:     p.ProductID,
		PurchaseTime:  p.PurchaseTime.UnixMilli(),
		PurchaseState: state,
		PurchaseToken: p.PurchaseToken,
		Acknowledged:  p.Acknowledged,
	})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// SkuDetails is the catalogue entry of a purchasable item.
type SkuDetails struct {
	ProductID         string
	Type              SkuType
	Title             string
	Description       string
	FormattedPrice    string
	PriceAmountMicros int64
	PriceCurrencyCode string
}

// Price returns the item price in units of PriceCurrencyCode.
func (d *SkuDetails) Price() decimal.Decimal {
	return decimal.New(d.PriceAmountMicros, -6)
}

// PurchasesResult is the answer to a purchases query. Purchases may be nil
// even when Code is OK.
type PurchasesResult struct {
	Code      ResponseCode
	Purchases []*Purchase
}

type SkuDetailsParams struct {
	Type SkuType
	Skus []string
}

type FlowParams struct {
	SkuDetails *SkuDetails
}

func clonePurchases(purchases []*Purchase) []*Purchase {
	if purchases == nil {
		return nil
	}
	res := make([]*Purchase, len(purchases))
	for i, p := range purchases {
		res[i] = p.Clone()
	}
	return res
}
