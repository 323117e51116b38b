package ports

import (
	"context"
	"time"

	"streamguard/internal/core/domain"
)

// TokenStore caches backend sessions between polls. A miss is reported as
// ok=false with a nil error; stores that fail should degrade to a miss.
type TokenStore interface {
	Get(ctx context.Context, key string) (domain.TokenPair, bool, error)
	Set(ctx context.Context, key string, tokens domain.TokenPair, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
