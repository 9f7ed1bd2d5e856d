package pool

import (
	"database/sql"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ice-blockchain/go-dbrouter"
)

// Lease is a pooled connection. It is exclusively owned by the caller
// between Acquire and Release, and must be released exactly once.
type Lease struct {
	id       uuid.UUID
	conn     *sql.Conn
	pool     *Pool
	cluster  *Cluster
	acquired time.Time
	released atomic.Bool
}

func (l *Lease) ID() uuid.UUID   { return l.id }
func (l *Lease) Conn() *sql.Conn { return l.conn }
func (l *Lease) Group() int      { return l.pool.group }
func (l *Lease) Role() RoleKey   { return l.pool.role }
func (l *Lease) Addr() string    { return l.pool.Addr() }

// Released reports whether the lease has been given back.
func (l *Lease) Released() bool {
	return l.released.Load()
}

// Release returns the connection to its pool. A second call does nothing
// but report a DoubleReleaseEvent and return ErrDoubleRelease.
func (l *Lease) Release() error {
	if !l.released.CompareAndSwap(false, true) {
		l.cluster.logger.Report(dbrouter.DoubleReleaseEvent{
			NodeEvent: l.cluster.nodeEvent(l.pool),
			LeaseID:   l.id.String(),
		})
		return dbrouter.ErrDoubleRelease
	}

	l.cluster.leases.Delete(l.id)
	err := l.pool.release(l.conn)
	l.cluster.metrics.released(l.pool)
	return err
}
