// Package replication routes relational operations over the MASTER/SLAVE
// pools of a pool.Cluster.
package replication

import (
	"context"
	"sync"

	"github.com/ice-blockchain/go-dbrouter"
	"github.com/ice-blockchain/go-dbrouter/pool"
)

const component = "dbrouter.replication"

// Opts of a relational Connector.
type Opts struct {
	// Pool is passed to the underlying cluster.
	Pool pool.Opts
	// ReadRole is where Route sends reads; pool.AnySlave by default.
	ReadRole pool.RoleKey
	Logger   dbrouter.Logger
}

// Connector owns a pool.Cluster built from the connection groups and hands
// out routers bound to them.
type Connector struct {
	groups    []dbrouter.ConnectionGroup
	opts      Opts
	lifecycle *dbrouter.Lifecycle

	mutex   sync.RWMutex
	cluster *pool.Cluster
}

var _ dbrouter.DataConnector = (*Connector)(nil)

// NewConnector validates the groups. It does not connect.
func NewConnector(groups []dbrouter.ConnectionGroup, opts Opts) (*Connector, error) {
	if err := dbrouter.ValidateGroups(groups); err != nil {
		return nil, err
	}
	if opts.ReadRole == "" {
		opts.ReadRole = pool.AnySlave
	}
	opts.Logger = dbrouter.LoggerOrDefault(opts.Logger)
	if opts.Pool.Logger == nil {
		opts.Pool.Logger = opts.Logger
	}

	return &Connector{
		groups:    groups,
		opts:      opts,
		lifecycle: dbrouter.NewLifecycle(component, opts.Logger),
	}, nil
}

// Connect registers a MASTER pool and SLAVE1..n pools for every group. Pools
// connect lazily on the first acquisition.
func (c *Connector) Connect(ctx context.Context) error {
	if err := c.lifecycle.Begin(); err != nil {
		return err
	}

	cluster, err := c.register(ctx)
	if err != nil {
		c.lifecycle.Fail(err)
		return err
	}

	c.mutex.Lock()
	c.cluster = cluster
	c.mutex.Unlock()

	if !c.lifecycle.Connected() {
		// Closed while registering: Close may have run before the cluster
		// was stored.
		c.mutex.Lock()
		cluster = c.cluster
		c.cluster = nil
		c.mutex.Unlock()
		if cluster != nil {
			cluster.Close()
		}
		return dbrouter.ErrClosed
	}
	return nil
}

func (c *Connector) register(ctx context.Context) (*pool.Cluster, error) {
	opts := c.opts.Pool
	opts.NodeHandler = nodeHandler{next: opts.NodeHandler, lifecycle: c.lifecycle}

	cluster, err := pool.NewCluster(opts)
	if err != nil {
		return nil, err
	}

	for i, g := range c.groups {
		if err := ctx.Err(); err != nil {
			cluster.Close()
			return nil, err
		}
		if err := cluster.AddPool(i, pool.Master, g.Master); err != nil {
			cluster.Close()
			return nil, err
		}
		for j, slave := range g.Slaves {
			if err := cluster.AddPool(i, pool.SlaveRole(j+1), slave); err != nil {
				cluster.Close()
				return nil, err
			}
		}
	}
	return cluster, nil
}

// Router returns the router of the default group.
func (c *Connector) Router() (*Router, error) {
	return c.RouterFor(0)
}

// RouterFor returns the router of the group.
func (c *Connector) RouterFor(group int) (*Router, error) {
	cluster, err := c.connected()
	if err != nil {
		return nil, err
	}
	if group < 0 || group >= len(c.groups) {
		return nil, dbrouter.ErrGroupOutOfRange
	}
	return NewRouter(cluster, group).WithReadRole(c.opts.ReadRole), nil
}

// Query runs a statement on role in the default group.
func (c *Connector) Query(ctx context.Context, role pool.RoleKey, statement string,
	args ...interface{}) ([]Row, error) {
	router, err := c.Router()
	if err != nil {
		return nil, err
	}
	return router.Query(ctx, role, statement, args...)
}

// Exec runs a statement that returns no rows on role in the default group.
func (c *Connector) Exec(ctx context.Context, role pool.RoleKey, statement string,
	args ...interface{}) (Result, error) {
	router, err := c.Router()
	if err != nil {
		return Result{}, err
	}
	return router.Exec(ctx, role, statement, args...)
}

// Cluster returns the underlying cluster, or nil before Connect succeeds.
func (c *Connector) Cluster() *pool.Cluster {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.cluster
}

func (c *Connector) connected() (*pool.Cluster, error) {
	switch c.lifecycle.State() {
	case dbrouter.Closed:
		return nil, dbrouter.ErrClosed
	case dbrouter.Connected:
		return c.Cluster(), nil
	}
	return nil, dbrouter.ErrNotConnected
}

// Close closes the cluster. Leases still held are reported by the cluster.
func (c *Connector) Close() error {
	c.mutex.Lock()
	cluster := c.cluster
	c.cluster = nil
	c.mutex.Unlock()

	if !c.lifecycle.Close() {
		return dbrouter.ErrClosed
	}
	if cluster == nil {
		return nil
	}
	return cluster.Close()
}

func (c *Connector) OnConnect(handler func(dbrouter.DataConnector)) {
	c.lifecycle.OnConnect(func() { handler(c) })
}

func (c *Connector) OnError(handler func(error)) {
	c.lifecycle.OnError(handler)
}

func (c *Connector) OnClose(handler func()) {
	c.lifecycle.OnClose(handler)
}

func (c *Connector) State() dbrouter.State {
	return c.lifecycle.State()
}

// nodeHandler reports removed nodes to the OnError handlers.
type nodeHandler struct {
	next      pool.NodeHandler
	lifecycle *dbrouter.Lifecycle
}

func (h nodeHandler) Removed(info pool.PoolInfo, err error) {
	h.lifecycle.ReportError(&dbrouter.NoHealthyNodeError{
		Group: info.Group,
		Role:  string(info.Role),
		Cause: err,
	})
	if h.next != nil {
		h.next.Removed(info, err)
	}
}

func (h nodeHandler) Restored(info pool.PoolInfo) {
	if h.next != nil {
		h.next.Restored(info)
	}
}
