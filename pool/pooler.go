package pool

import (
	"context"

	"github.com/ice-blockchain/go-dbrouter"
)

// Pooler is the interface that must be implemented by a pool cluster.
type Pooler interface {
	AddPool(group int, role RoleKey, cfg dbrouter.EndpointConfig) error
	Acquire(ctx context.Context, group int, role RoleKey) (*Lease, error)
	Release(lease *Lease) error
	// CheckHealth re-checks every unhealthy pool now and returns the number
	// of pools put back into rotation.
	CheckHealth(ctx context.Context) int
	Info() []PoolInfo
	Close() error
}

// NodeHandler provides callbacks for components interested in pools
// leaving and re-entering rotation.
type NodeHandler interface {
	// Removed is called when a pool is marked unhealthy. err is the failure
	// that crossed the threshold.
	Removed(info PoolInfo, err error)
	// Restored is called when a health check of an unhealthy pool succeeds.
	Restored(info PoolInfo)
}
