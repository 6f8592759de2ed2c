package cookies

import (
	"context"
	"errors"
)

// Common errors.
var (
	// ErrStoreUnreadable is returned when persisted cookie data exists but
	// cannot be parsed. The backing data is left untouched.
	ErrStoreUnreadable = errors.New("cookie store is unreadable")
	ErrStoreClosed     = errors.New("cookie store is closed")
)

// Backend defines the interface for cookie persistence.
type Backend interface {
	// Load returns every persisted cookie, expired ones included.
	// Missing storage is not an error and yields no cookies.
	Load(ctx context.Context) ([]*Cookie, error)

	// Save replaces the persisted cookie set with cookies. A failed Save must
	// leave the previously saved set intact.
	Save(ctx context.Context, cookies []*Cookie) error

	// Location describes where cookies are persisted (a path or DSN).
	Location() string
}
