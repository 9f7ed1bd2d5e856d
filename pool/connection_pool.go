// Package with a pool cluster for master/slave replication groups.
//
// Main features:
//
// - One pool per (group, role) pair: MASTER and SLAVE1..SLAVEn.
//
// - Role-keyed acquisition with a pluggable selection strategy (round-robin
// by default) for selectors such as SLAVE*.
//
// - Automatic removal of failing nodes from rotation and background
// re-checks that put them back.
package pool

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/ice-blockchain/go-dbrouter"
)

const component = "dbrouter.pool"

var ErrWrongRemoveCount = errors.New("wrong remove node error count, must not be negative")

// Opts provides the cluster options. Zero values select the defaults.
type Opts struct {
	// Selector picks a built-in strategy; RoundRobin by default.
	Selector Selector
	// Strategy overrides Selector.
	Strategy Strategy
	// RemoveNodeErrorCount is the number of consecutive connection failures
	// after which a node is removed from rotation. 1 by default: remove on
	// the first failure.
	RemoveNodeErrorCount int
	// DisableRetry stops an acquisition after the first failed candidate
	// instead of trying the remaining ones.
	DisableRetry bool
	// FailFast fails the acquisition when every candidate is full instead
	// of waiting for a free slot.
	FailFast bool
	// CheckTimeout is the period of the health check of unhealthy pools and
	// the timeout of a single check. 1 second by default; a negative value
	// disables the background checks, CheckHealth still works.
	CheckTimeout time.Duration
	// RecheckInitialInterval and RecheckMaxInterval bound the exponential
	// backoff between two checks of the same pool.
	RecheckInitialInterval time.Duration
	RecheckMaxInterval     time.Duration
	// Opener creates database handles; DefaultOpener by default.
	Opener Opener
	// NodeHandler provides an ability to handle health changes.
	NodeHandler NodeHandler
	Logger      dbrouter.Logger
}

func (o Opts) withDefaults() Opts {
	if o.RemoveNodeErrorCount == 0 {
		o.RemoveNodeErrorCount = 1
	}
	if o.CheckTimeout == 0 {
		o.CheckTimeout = time.Second
	}
	if o.RecheckInitialInterval <= 0 {
		o.RecheckInitialInterval = 100 * time.Millisecond
	}
	if o.RecheckMaxInterval <= 0 {
		o.RecheckMaxInterval = 30 * time.Second
	}
	if o.Opener == nil {
		o.Opener = DefaultOpener
	}
	o.Logger = dbrouter.LoggerOrDefault(o.Logger)
	return o
}

type group struct {
	pools  []*Pool
	byRole map[RoleKey]*Pool
}

// Cluster maintains one pool per named role per connection group.
type Cluster struct {
	opts     Opts
	strategy Strategy
	logger   dbrouter.Logger
	metrics  *Collector

	groups      map[int]*group
	groupsMutex sync.RWMutex
	leases      *xsync.MapOf[uuid.UUID, *Lease]

	closed atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Pooler = (*Cluster)(nil)

// NewCluster creates an empty cluster and starts its health controller.
func NewCluster(opts Opts) (*Cluster, error) {
	if opts.RemoveNodeErrorCount < 0 {
		return nil, ErrWrongRemoveCount
	}
	opts = opts.withDefaults()

	strategy := opts.Strategy
	if strategy == nil {
		var err error
		if strategy, err = NewStrategy(opts.Selector); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Cluster{
		opts:     opts,
		strategy: strategy,
		logger:   opts.Logger,
		metrics:  newCollector(),
		groups:   make(map[int]*group),
		leases:   xsync.NewMapOf[uuid.UUID, *Lease](),
		ctx:      ctx,
		cancel:   cancel,
	}

	if opts.CheckTimeout > 0 {
		c.wg.Add(1)
		go c.controller()
	}
	return c, nil
}

// AddPool registers a pool for a concrete role within a group. It opens no
// connections.
func (c *Cluster) AddPool(groupID int, role RoleKey, cfg dbrouter.EndpointConfig) error {
	if c.closed.Load() {
		return dbrouter.ErrClosed
	}
	if groupID < 0 {
		return &dbrouter.ConfigError{Group: groupID, Role: string(role),
			Msg: "group index must not be negative"}
	}
	if !role.Concrete() {
		return &dbrouter.ConfigError{Group: groupID, Role: string(role),
			Msg: "role must be MASTER or SLAVE<i>"}
	}

	c.groupsMutex.Lock()
	defer c.groupsMutex.Unlock()

	g, ok := c.groups[groupID]
	if !ok {
		g = &group{byRole: make(map[RoleKey]*Pool)}
		c.groups[groupID] = g
	}
	if _, ok := g.byRole[role]; ok {
		return &dbrouter.ConfigError{Group: groupID, Role: string(role),
			Msg: "role is already registered"}
	}

	db, err := c.opts.Opener.Open(cfg)
	if err != nil {
		return &dbrouter.ConfigError{Group: groupID, Role: string(role), Msg: err.Error()}
	}

	p := newPool(groupID, role, cfg, db, c.opts)
	g.pools = append(g.pools, p)
	g.byRole[role] = p
	c.metrics.added(p)

	c.logger.Report(dbrouter.PoolAddedEvent{
		NodeEvent: c.nodeEvent(p),
		Capacity:  p.Capacity(),
	})
	return nil
}

// Acquire leases a connection from a healthy pool matching role in the
// group. Concrete roles match exactly, selectors are resolved by the
// strategy among the healthy matching pools.
func (c *Cluster) Acquire(ctx context.Context, groupID int, role RoleKey) (*Lease, error) {
	if c.closed.Load() {
		return nil, dbrouter.ErrClosed
	}

	candidates, err := c.candidates(groupID, role)
	if err != nil {
		return nil, err
	}

	healthy := make([]*Pool, 0, len(candidates))
	for _, p := range candidates {
		if p.Health() == Healthy {
			healthy = append(healthy, p)
		}
	}
	if len(healthy) == 0 {
		return nil, &dbrouter.NoHealthyNodeError{Group: groupID, Role: string(role)}
	}

	var (
		errs *multierror.Error
		busy []*Pool
	)
	// A full pool passes the turn to the next candidate, waiting happens
	// only once every candidate is full.
	for _, p := range c.strategy.Order(strconv.Itoa(groupID)+"/"+string(role), healthy) {
		if !p.reserve() {
			busy = append(busy, p)
			continue
		}
		lease, err := c.connect(ctx, p)
		if err == nil {
			return lease, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		errs = multierror.Append(errs, err)
		if c.opts.DisableRetry {
			return nil, c.noHealthyNode(groupID, role, errs)
		}
	}

	if len(busy) > 0 && !c.opts.FailFast {
		p, err := awaitSlot(ctx, busy)
		if err != nil {
			return nil, err
		}
		lease, err := c.connect(ctx, p)
		if err == nil {
			return lease, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		errs = multierror.Append(errs, err)
	} else {
		for _, p := range busy {
			c.metrics.failed(p)
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", p.Addr(), dbrouter.ErrPoolExhausted))
		}
	}

	return nil, c.noHealthyNode(groupID, role, errs)
}

// connect opens a connection on a slot reserved in p. A failure other than
// a cancelled ctx counts against the pool's health.
func (c *Cluster) connect(ctx context.Context, p *Pool) (*Lease, error) {
	conn, err := p.connect(ctx)
	if err == nil {
		p.markSuccess()
		return c.newLease(p, conn), nil
	}
	if ctx.Err() == nil {
		c.metrics.failed(p)
		c.fail(p, err)
	}
	return nil, fmt.Errorf("%s: %w", p.Addr(), err)
}

func (c *Cluster) noHealthyNode(groupID int, role RoleKey, errs *multierror.Error) error {
	return &dbrouter.NoHealthyNodeError{
		Group: groupID,
		Role:  string(role),
		Cause: errs.ErrorOrNil(),
	}
}

// Release returns the lease to its pool.
func (c *Cluster) Release(lease *Lease) error {
	return lease.Release()
}

// Outstanding returns the number of leases not yet released.
func (c *Cluster) Outstanding() int {
	return c.leases.Size()
}

// CheckHealth re-checks every unhealthy pool now.
func (c *Cluster) CheckHealth(ctx context.Context) int {
	return c.recheck(ctx, true)
}

// Info returns a snapshot of all pools ordered by group and registration.
func (c *Cluster) Info() []PoolInfo {
	pools := c.pools()
	info := make([]PoolInfo, 0, len(pools))
	for _, p := range pools {
		info = append(info, p.info())
	}
	return info
}

// Collector returns the metrics of the cluster.
func (c *Cluster) Collector() prometheus.Collector {
	return c.metrics
}

// Close stops the health controller and closes every pool. Leases that were
// never released are reported and returned as ErrLeakedLease errors.
func (c *Cluster) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return dbrouter.ErrClosed
	}
	c.cancel()
	c.wg.Wait()

	var errs *multierror.Error
	c.leases.Range(func(id uuid.UUID, l *Lease) bool {
		c.logger.Report(dbrouter.LeakedLeaseEvent{
			NodeEvent: c.nodeEvent(l.pool),
			LeaseID:   id.String(),
			Age:       time.Since(l.acquired),
		})
		errs = multierror.Append(errs, fmt.Errorf("lease %s on %s: %w",
			id, l.pool.Addr(), dbrouter.ErrLeakedLease))
		return true
	})

	for _, p := range c.pools() {
		if err := p.db.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", p.Addr(), err))
		}
	}
	return errs.ErrorOrNil()
}

func (c *Cluster) candidates(groupID int, role RoleKey) ([]*Pool, error) {
	c.groupsMutex.RLock()
	defer c.groupsMutex.RUnlock()

	g, ok := c.groups[groupID]
	if !ok {
		return nil, &dbrouter.UnknownRoleError{Group: groupID, Role: string(role)}
	}
	if !role.IsSelector() {
		if p, ok := g.byRole[role]; ok {
			return []*Pool{p}, nil
		}
		return nil, &dbrouter.UnknownRoleError{Group: groupID, Role: string(role)}
	}

	matched := make([]*Pool, 0, len(g.pools))
	for _, p := range g.pools {
		if role.Matches(p.role) {
			matched = append(matched, p)
		}
	}
	if len(matched) == 0 {
		return nil, &dbrouter.UnknownRoleError{Group: groupID, Role: string(role)}
	}
	return matched, nil
}

func (c *Cluster) pools() []*Pool {
	c.groupsMutex.RLock()
	defer c.groupsMutex.RUnlock()

	ids := make([]int, 0, len(c.groups))
	for id := range c.groups {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	var pools []*Pool
	for _, id := range ids {
		pools = append(pools, c.groups[id].pools...)
	}
	return pools
}

func (c *Cluster) newLease(p *Pool, conn *sql.Conn) *Lease {
	lease := &Lease{
		id:       uuid.New(),
		conn:     conn,
		pool:     p,
		cluster:  c,
		acquired: time.Now(),
	}
	c.leases.Store(lease.id, lease)
	c.metrics.acquired(p)
	return lease
}

func (c *Cluster) fail(p *Pool, err error) {
	c.logger.Report(dbrouter.AcquireFailedEvent{
		NodeEvent: c.nodeEvent(p),
		Error:     err,
	})
	if !p.markFailure(c.opts.RemoveNodeErrorCount) {
		return
	}

	c.metrics.removed(p)
	c.logger.Report(dbrouter.NodeRemovedEvent{
		NodeEvent: c.nodeEvent(p),
		Failures:  p.Failures(),
		Error:     err,
	})
	if c.opts.NodeHandler != nil {
		c.opts.NodeHandler.Removed(p.info(), err)
	}
}

func (c *Cluster) recheck(ctx context.Context, force bool) int {
	restored := 0
	now := time.Now()
	for _, p := range c.pools() {
		if p.Health() != Unhealthy || (!force && !p.dueForCheck(now)) {
			continue
		}

		pingCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.opts.CheckTimeout > 0 {
			pingCtx, cancel = context.WithTimeout(ctx, c.opts.CheckTimeout)
		}
		err := p.db.PingContext(pingCtx)
		cancel()

		if err != nil {
			c.logger.Report(dbrouter.HealthCheckFailedEvent{
				NodeEvent: c.nodeEvent(p),
				NextCheck: p.scheduleCheck(time.Now()),
				Error:     err,
			})
			continue
		}
		if p.restore() {
			restored++
			c.metrics.restored(p)
			c.logger.Report(dbrouter.NodeRestoredEvent{NodeEvent: c.nodeEvent(p)})
			if c.opts.NodeHandler != nil {
				c.opts.NodeHandler.Restored(p.info())
			}
		}
	}
	return restored
}

func (c *Cluster) controller() {
	defer c.wg.Done()

	timer := time.NewTicker(c.opts.CheckTimeout)
	defer timer.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-timer.C:
			c.recheck(c.ctx, false)
		}
	}
}

func (c *Cluster) nodeEvent(p *Pool) dbrouter.NodeEvent {
	return dbrouter.NodeEvent{
		BaseEvent: dbrouter.NewBaseEvent(component),
		Group:     p.group,
		Role:      string(p.role),
		Addr:      p.Addr(),
	}
}
