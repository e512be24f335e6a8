package store

import "context"

// Store is the persistence gateway. Sequence definitions and execution
// snapshots are written as opaque values under a prefix + key; one
// execution's tick is committed as a single Set, which keeps tick
// persistence atomic per execution id.
type Store interface {
	Get(ctx context.Context, prefix, key string) ([]byte, error)
	Set(ctx context.Context, prefix, key string, value []byte) error
	/**
	 * Remove a prefix and key
	 * removing an unexisting prefix + key would NOT return error
	 */
	Remove(ctx context.Context, prefix, key string) error

	List(ctx context.Context, prefix string, iterator func(key string) bool) error
}
