package location

import "errors"

// Sentinel errors surfaced by providers. ErrPermissionDenied is terminal:
// the user has to act before another fix can ever succeed. Everything else
// is retryable on the caller's normal cadence.
var (
	ErrPermissionDenied = errors.New("location permission denied")
	ErrNoFix            = errors.New("no valid GPS fix available")
)

// Provider interface defines the methods for location providers
type Provider interface {
	GetFix() (Fix, error)
	Close() error
}
