package android

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/code-payments/flipchat-billing/iap"
)

// PublisherVerifier uses the Google Play Developer API to verify purchases.
// The signature is not looked at, Play itself is asked about the token.
type PublisherVerifier struct {

	// The contents of a service account JSON file.
	serviceAccountJSON []byte

	// PackageName is the Android app's package name.
	packageName string

	opts []option.ClientOption
}

func NewPublisherVerifier(serviceAccountJSON []byte, pkgName string, opts ...option.ClientOption) iap.Verifier {
	return &PublisherVerifier{
		serviceAccountJSON: serviceAccountJSON,
		packageName:        pkgName,
		opts:               opts,
	}
}

type publisherPayload struct {
	PackageName   string `json:"packageName"`
	ProductID     string `json:"productId"`
	PurchaseToken string `json:"purchaseToken"`
}

func (v *PublisherVerifier) VerifyPurchase(ctx context.Context, payload, _ string) (bool, error) {
	var purchase publisherPayload
	if err := json.Unmarshal([]byte(payload), &purchase); err != nil {
		return false, nil
	}
	if purchase.PackageName != v.packageName || purchase.ProductID == "" || purchase.PurchaseToken == "" {
		return false, nil
	}

	opts := v.opts
	if len(v.serviceAccountJSON) > 0 {
		opts = append([]option.ClientOption{option.WithCredentialsJSON(v.serviceAccountJSON)}, opts...)
	}

	svc, err := androidpublisher.NewService(ctx, opts...)
	if err != nil {
		return false, fmt.Errorf("failed to create android publisher client: %w", err)
	}

	// Subscriptions live under Purchases.Subscriptionsv2, only one-time
	// products are checked here.
	call := svc.Purchases.Products.Get(v.packageName, purchase.ProductID, purchase.PurchaseToken)

	productPurchase, err := call.Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && apiErr.Code >= http.StatusBadRequest && apiErr.Code < http.StatusInternalServerError {
			// Unknown token, wrong product and the like.
			return false, nil
		}
		return false, fmt.Errorf("failed to get product purchase: %w", err)
	}

	// 0 = purchased, 1 = canceled, 2 = pending.
	return productPurchase.PurchaseState == 0, nil
}
