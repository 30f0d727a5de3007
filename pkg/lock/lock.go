// Package lock serializes mutations of a single workflow instance.
package lock

import (
	"context"
	"errors"
)

// ErrNotAcquired is returned when a lock could not be taken before the context ended.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker hands out exclusive per-key leases.
type Locker interface {
	// Acquire blocks until the key is free or ctx is done.
	Acquire(ctx context.Context, key string) (Lease, error)
	Close() error
}

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// InstanceKey is the lock key guarding one workflow instance.
func InstanceKey(instanceID string) string {
	return "procflow:instance:" + instanceID
}
