package skucache

import (
	"context"
	"time"

	"github.com/ReneKroon/ttlcache"

	"github.com/code-payments/flipchat-billing/billing"
)

// Service caches the SKU details answers of the wrapped service. Every other
// call goes straight through.
type Service struct {
	billing.Service

	cache *ttlcache.Cache
}

func NewInCache(svc billing.Service, ttl time.Duration) *Service {
	cache := ttlcache.NewCache()
	cache.SetTTL(ttl)
	return &Service{
		Service: svc,
		cache:   cache,
	}
}

// QuerySkuDetails answers from the cache when every requested SKU is cached,
// and otherwise only asks the service for the missing ones. Only successful
// answers are cached.
func (s *Service) QuerySkuDetails(ctx context.Context, params billing.SkuDetailsParams) (billing.ResponseCode, []*billing.SkuDetails) {
	cached := make(map[string]*billing.SkuDetails, len(params.Skus))
	var missing []string
	for _, sku := range params.Skus {
		if v, ok := s.cache.Get(toCacheKey(params.Type, sku)); ok {
			cached[sku] = v.(*billing.SkuDetails)
			continue
		}
		missing = append(missing, sku)
	}

	if len(missing) > 0 {
		code, details := s.Service.QuerySkuDetails(ctx, billing.SkuDetailsParams{
			Type: params.Type,
			Skus: missing,
		})
		if !code.IsOK() {
			return code, details
		}

		for _, d := range details {
			copied := *d
			s.cache.Set(toCacheKey(params.Type, d.ProductID), &copied)
			cached[d.ProductID] = d
		}
	}

	var res []*billing.SkuDetails
	for _, sku := range params.Skus {
		d, ok := cached[sku]
		if !ok {
			continue
		}
		copied := *d
		res = append(res, &copied)
	}
	return billing.ResponseCodeOK, res
}

// Invalidate drops the cached details of sku.
func (s *Service) Invalidate(skuType billing.SkuType, sku string) {
	s.cache.Remove(toCacheKey(skuType, sku))
}

// Close stops the cache expiry loop. It does not end the service connection.
func (s *Service) Close() {
	s.cache.Close()
}

func toCacheKey(skuType billing.SkuType, sku string) string {
	return string(skuType) + ":" + sku
}
