package port

import "context"

type CacheRepository interface {
	// GetStock reads the mirrored stock level; ok is false on a cache miss.
	GetStock(ctx context.Context, productID string) (quantity int64, ok bool, err error)

	// SetStock mirrors a committed stock level for cheap reads.
	SetStock(ctx context.Context, productID string, quantity int64) error

	// SetIdempotency claims a request key, returns false if already claimed.
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ReleaseIdempotency frees a key after a failed operation so the caller
	// may retry with the same request id.
	ReleaseIdempotency(ctx context.Context, key string) error
}
