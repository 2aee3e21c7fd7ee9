package catalog

import "context"

// Store is a read-only lookup over the subscription and token-pack
// catalogs. A miss on either lookup returns catalog.ErrNotFound, which the
// root package exposes as ErrCatalogMissing.
type Store interface {
	GetSubscriptionPrice(ctx context.Context, planKey string) (*SubscriptionPrice, error)
	GetTokenPrice(ctx context.Context, planKey, tier string) (*TokenPrice, error)
	ListSubscriptionPrices(ctx context.Context) ([]*SubscriptionPrice, error)
	ListTokenPrices(ctx context.Context) ([]*TokenPrice, error)
}
