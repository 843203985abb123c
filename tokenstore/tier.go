package tokenstore

import "context"

// Tier is one storage tier of the token store. Implementations must apply
// SetMany and DeleteMany atomically: either every key is written/removed or none is.
type Tier interface {
	// Get returns the stored value, or internal/errors.ErrNotFound
	Get(ctx context.Context, key string) (string, error)

	// SetMany writes all values in one atomic operation
	SetMany(ctx context.Context, values map[string]string) error

	// DeleteMany removes all keys in one atomic operation. Missing keys are not an error.
	DeleteMany(ctx context.Context, keys ...string) error

	// Close releases the tier's resources
	Close() error
}
