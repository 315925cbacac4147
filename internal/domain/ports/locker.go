package ports

import "context"

// Locker provides per-key mutual exclusion around read-modify-write sequences
type Locker interface {
	// Lock blocks until the key is held or ctx is done. The returned func releases it.
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
