package pool

import (
	"context"
	"database/sql"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ice-blockchain/go-dbrouter"
)

// Pool owns a bounded set of connections to one node, the (group, role)
// pair it was registered for.
type Pool struct {
	group int
	role  RoleKey
	cfg   dbrouter.EndpointConfig
	db    *sql.DB

	// Each outstanding lease holds a slot.
	slots    chan struct{}
	health   uint32
	failures atomic.Int32

	// This is used to schedule health checks of an unhealthy pool.
	checkMutex sync.Mutex
	backoff    *backoff.ExponentialBackOff
	nextCheck  time.Time
}

func newPool(group int, role RoleKey, cfg dbrouter.EndpointConfig, db *sql.DB,
	opts Opts) *Pool {
	capacity := cfg.Capacity()
	db.SetMaxOpenConns(capacity)
	db.SetMaxIdleConns(capacity)

	return &Pool{
		group: group,
		role:  role,
		cfg:   cfg,
		db:    db,
		slots: make(chan struct{}, capacity),
		backoff: &backoff.ExponentialBackOff{
			InitialInterval:     opts.RecheckInitialInterval,
			RandomizationFactor: 0.5,
			Multiplier:          2,
			MaxInterval:         opts.RecheckMaxInterval,
			MaxElapsedTime:      0,
			Stop:                backoff.Stop,
			Clock:               backoff.SystemClock,
		},
	}
}

func (p *Pool) Group() int    { return p.group }
func (p *Pool) Role() RoleKey { return p.role }
func (p *Pool) Addr() string  { return p.cfg.Addr() }
func (p *Pool) Capacity() int { return cap(p.slots) }

// Leases returns the number of connections currently leased out.
func (p *Pool) Leases() int { return len(p.slots) }

func (p *Pool) Health() Health {
	return Health(atomic.LoadUint32(&p.health))
}

func (p *Pool) Failures() int {
	return int(p.failures.Load())
}

// DB returns the underlying database handle.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// reserve takes a free slot without waiting.
func (p *Pool) reserve() bool {
	select {
	case p.slots <- struct{}{}:
		return true
	default:
		return false
	}
}

// connect opens a connection on a reserved slot. The slot is given back
// when the connection cannot be opened.
func (p *Pool) connect(ctx context.Context) (*sql.Conn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}
	return conn, nil
}

// awaitSlot blocks until one of the pools frees a slot and reserves it.
func awaitSlot(ctx context.Context, pools []*Pool) (*Pool, error) {
	cases := make([]reflect.SelectCase, 0, len(pools)+1)
	cases = append(cases, reflect.SelectCase{
		Dir:  reflect.SelectRecv,
		Chan: reflect.ValueOf(ctx.Done()),
	})
	for _, p := range pools {
		cases = append(cases, reflect.SelectCase{
			Dir:  reflect.SelectSend,
			Chan: reflect.ValueOf(p.slots),
			Send: reflect.ValueOf(struct{}{}),
		})
	}

	chosen, _, _ := reflect.Select(cases)
	if chosen == 0 {
		return nil, ctx.Err()
	}
	return pools[chosen-1], nil
}

func (p *Pool) release(conn *sql.Conn) error {
	err := conn.Close()
	<-p.slots
	return err
}

// markFailure counts a failed connection attempt. It reports whether the
// failure took the pool out of rotation.
func (p *Pool) markFailure(threshold int) bool {
	failures := int(p.failures.Add(1))
	if failures < threshold {
		return false
	}
	if !atomic.CompareAndSwapUint32(&p.health, uint32(Healthy), uint32(Unhealthy)) {
		return false
	}

	p.checkMutex.Lock()
	p.backoff.Reset()
	p.nextCheck = time.Now().Add(p.backoff.NextBackOff())
	p.checkMutex.Unlock()
	return true
}

func (p *Pool) markSuccess() {
	p.failures.Store(0)
}

// restore puts an unhealthy pool back into rotation.
func (p *Pool) restore() bool {
	p.failures.Store(0)
	return atomic.CompareAndSwapUint32(&p.health, uint32(Unhealthy), uint32(Healthy))
}

func (p *Pool) dueForCheck(now time.Time) bool {
	p.checkMutex.Lock()
	defer p.checkMutex.Unlock()
	return !now.Before(p.nextCheck)
}

// scheduleCheck postpones the next health check and returns the delay.
func (p *Pool) scheduleCheck(now time.Time) time.Duration {
	p.checkMutex.Lock()
	defer p.checkMutex.Unlock()

	delay := p.backoff.NextBackOff()
	if delay == backoff.Stop {
		delay = p.backoff.MaxInterval
	}
	p.nextCheck = now.Add(delay)
	return delay
}

func (p *Pool) info() PoolInfo {
	return PoolInfo{
		Group:    p.group,
		Role:     p.role,
		Addr:     p.Addr(),
		Health:   p.Health(),
		Failures: p.Failures(),
		Leases:   p.Leases(),
		Capacity: p.Capacity(),
	}
}

// PoolInfo is a snapshot of a pool state.
type PoolInfo struct {
	Group    int
	Role     RoleKey
	Addr     string
	Health   Health
	Failures int
	Leases   int
	Capacity int
}
