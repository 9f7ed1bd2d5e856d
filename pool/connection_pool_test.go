package pool_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ice-blockchain/go-dbrouter"
	. "github.com/ice-blockchain/go-dbrouter/pool"
	"github.com/ice-blockchain/go-dbrouter/test_helpers"
)

func endpoint(host string, size int) dbrouter.EndpointConfig {
	return dbrouter.EndpointConfig{Host: host, Port: 3306, Database: "app", PoolSize: size}
}

type testCluster struct {
	*Cluster
	backend *test_helpers.SQLBackend
	logger  *test_helpers.RecordingLogger
}

// newTestCluster registers a master and the slaves in group 0. Background
// health checks are off unless opts.CheckTimeout is set.
func newTestCluster(t *testing.T, opts Opts, size int, slaves ...string) testCluster {
	t.Helper()

	backend := test_helpers.NewSQLBackend()
	logger := &test_helpers.RecordingLogger{}
	opts.Opener = backend
	opts.Logger = logger
	if opts.CheckTimeout == 0 {
		opts.CheckTimeout = -1
	}

	c, err := NewCluster(opts)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	require.NoError(t, c.AddPool(0, Master, endpoint("master", size)))
	for i, host := range slaves {
		require.NoError(t, c.AddPool(0, SlaveRole(i+1), endpoint(host, size)))
	}
	return testCluster{Cluster: c, backend: backend, logger: logger}
}

func (c testCluster) health(role RoleKey) Health {
	for _, info := range c.Info() {
		if info.Role == role {
			return info.Health
		}
	}
	return Health(99)
}

func TestNewCluster_BadOpts(t *testing.T) {
	_, err := NewCluster(Opts{RemoveNodeErrorCount: -1})
	require.ErrorIs(t, err, ErrWrongRemoveCount)

	_, err = NewCluster(Opts{Selector: "LEAST"})
	require.Error(t, err)
}

func TestAddPool_Errors(t *testing.T) {
	c := newTestCluster(t, Opts{}, 1, "slave1")

	var cfgErr *dbrouter.ConfigError

	err := c.AddPool(0, Master, endpoint("other", 1))
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, "MASTER", cfgErr.Role)

	err = c.AddPool(0, SlaveRole(1), endpoint("other", 1))
	require.ErrorAs(t, err, &cfgErr)

	err = c.AddPool(0, AnySlave, endpoint("other", 1))
	require.ErrorAs(t, err, &cfgErr)

	err = c.AddPool(-1, Master, endpoint("other", 1))
	require.ErrorAs(t, err, &cfgErr)

	err = c.AddPool(1, Master, dbrouter.EndpointConfig{})
	require.ErrorAs(t, err, &cfgErr)
	require.Equal(t, 1, cfgErr.Group)

	require.Len(t, c.Info(), 2)
}

func TestAddPool_OpensNoConnections(t *testing.T) {
	c := newTestCluster(t, Opts{}, 2, "slave1")

	require.Equal(t, 0, c.backend.Node("master").Attempts())
	require.Equal(t, 0, c.backend.Node("slave1").Attempts())
	require.Equal(t, 2, c.logger.Count("pool_added"))
}

func TestAcquire_UnknownRole(t *testing.T) {
	c := newTestCluster(t, Opts{}, 1)
	ctx := context.Background()

	var unknown *dbrouter.UnknownRoleError

	_, err := c.Acquire(ctx, 0, SlaveRole(1))
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "SLAVE1", unknown.Role)

	_, err = c.Acquire(ctx, 0, AnySlave)
	require.ErrorAs(t, err, &unknown)

	_, err = c.Acquire(ctx, 3, Master)
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, 3, unknown.Group)
}

func TestAcquire_Master(t *testing.T) {
	c := newTestCluster(t, Opts{}, 2, "slave1")
	ctx := context.Background()

	lease, err := c.Acquire(ctx, 0, Master)
	require.NoError(t, err)
	require.Equal(t, Master, lease.Role())
	require.Equal(t, 0, lease.Group())
	require.Equal(t, "master:3306", lease.Addr())
	require.Equal(t, 1, c.Outstanding())

	var node, statement, args string
	err = lease.Conn().QueryRowContext(ctx, "SELECT ?", 7).Scan(&node, &statement, &args)
	require.NoError(t, err)
	require.Equal(t, "master", node)
	require.Equal(t, "7", args)

	require.NoError(t, c.Release(lease))
	require.True(t, lease.Released())
	require.Equal(t, 0, c.Outstanding())
	require.Empty(t, c.backend.Node("slave1").Statements())
}

func TestAcquire_AnySlaveRoundRobin(t *testing.T) {
	c := newTestCluster(t, Opts{}, 2, "slave1", "slave2")
	ctx := context.Background()

	var addrs []string
	for i := 0; i < 4; i++ {
		lease, err := c.Acquire(ctx, 0, AnySlave)
		require.NoError(t, err)
		addrs = append(addrs, lease.Addr())
		require.NoError(t, lease.Release())
	}

	require.Equal(t, []string{
		"slave1:3306", "slave2:3306", "slave1:3306", "slave2:3306",
	}, addrs)
	require.Equal(t, 0, c.backend.Node("master").Attempts())
}

func TestAcquire_AnyNode(t *testing.T) {
	c := newTestCluster(t, Opts{Selector: Order}, 1, "slave1")

	lease, err := c.Acquire(context.Background(), 0, AnyNode)
	require.NoError(t, err)
	require.Equal(t, Master, lease.Role())
	require.NoError(t, lease.Release())
}

func TestAcquire_CapacityFailFast(t *testing.T) {
	c := newTestCluster(t, Opts{FailFast: true}, 2)
	ctx := context.Background()

	first, err := c.Acquire(ctx, 0, Master)
	require.NoError(t, err)
	second, err := c.Acquire(ctx, 0, Master)
	require.NoError(t, err)

	_, err = c.Acquire(ctx, 0, Master)
	var noHealthy *dbrouter.NoHealthyNodeError
	require.ErrorAs(t, err, &noHealthy)
	require.ErrorIs(t, err, dbrouter.ErrPoolExhausted)
	require.Equal(t, Healthy, c.health(Master))

	require.NoError(t, first.Release())
	third, err := c.Acquire(ctx, 0, Master)
	require.NoError(t, err)

	require.NoError(t, second.Release())
	require.NoError(t, third.Release())
}

func TestAcquire_CapacityWaitsForContext(t *testing.T) {
	c := newTestCluster(t, Opts{}, 1)

	lease, err := c.Acquire(context.Background(), 0, Master)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Acquire(ctx, 0, Master)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, Healthy, c.health(Master))

	released := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		lease.Release()
		close(released)
	}()

	next, err := c.Acquire(context.Background(), 0, Master)
	require.NoError(t, err)
	<-released
	require.NoError(t, next.Release())
}

func TestAcquire_FullSlavePassesToNextCandidate(t *testing.T) {
	c := newTestCluster(t, Opts{}, 1, "slave1", "slave2")

	held, err := c.Acquire(context.Background(), 0, SlaveRole(1))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	for i := 0; i < 2; i++ {
		lease, err := c.Acquire(ctx, 0, AnySlave)
		require.NoError(t, err)
		require.Equal(t, SlaveRole(2), lease.Role())
		require.NoError(t, lease.Release())
	}
	require.Equal(t, Healthy, c.health(SlaveRole(1)))

	require.NoError(t, held.Release())
}

func TestAcquire_WaitsForAnyFullCandidate(t *testing.T) {
	c := newTestCluster(t, Opts{Selector: Order}, 1, "slave1", "slave2")
	ctx := context.Background()

	first, err := c.Acquire(ctx, 0, SlaveRole(1))
	require.NoError(t, err)
	second, err := c.Acquire(ctx, 0, SlaveRole(2))
	require.NoError(t, err)

	released := make(chan struct{})
	go func() {
		time.Sleep(20 * time.Millisecond)
		second.Release()
		close(released)
	}()

	lease, err := c.Acquire(ctx, 0, AnySlave)
	require.NoError(t, err)
	require.Equal(t, SlaveRole(2), lease.Role())
	<-released

	require.NoError(t, lease.Release())
	require.NoError(t, first.Release())
}

func TestAcquire_LeasesNeverExceedCapacity(t *testing.T) {
	const capacity = 3
	c := newTestCluster(t, Opts{}, capacity)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := c.Acquire(ctx, 0, Master)
			if err != nil {
				errs <- err
				return
			}
			info := c.Info()[0]
			if info.Leases > capacity {
				errs <- errors.New("capacity exceeded")
			}
			_, err = lease.Conn().ExecContext(ctx, "UPDATE t SET n = n + 1")
			if err != nil {
				errs <- err
			}
			errs <- lease.Release()
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, 0, c.Outstanding())
	require.LessOrEqual(t, c.backend.Node("master").MaxOpen(), capacity)
	require.Len(t, c.backend.Node("master").Statements(), 50)
}

func TestLease_DoubleRelease(t *testing.T) {
	c := newTestCluster(t, Opts{}, 1)

	lease, err := c.Acquire(context.Background(), 0, Master)
	require.NoError(t, err)

	require.NoError(t, lease.Release())
	require.ErrorIs(t, lease.Release(), dbrouter.ErrDoubleRelease)
	require.ErrorIs(t, c.Release(lease), dbrouter.ErrDoubleRelease)
	require.Equal(t, 2, c.logger.Count("double_release"))

	// The slot was freed once only.
	lease, err = c.Acquire(context.Background(), 0, Master)
	require.NoError(t, err)
	require.Equal(t, 1, c.Info()[0].Leases)
	require.NoError(t, lease.Release())
}

type recordingHandler struct {
	mutex    sync.Mutex
	removed  []RoleKey
	restored []RoleKey
}

func (h *recordingHandler) Removed(info PoolInfo, _ error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.removed = append(h.removed, info.Role)
}

func (h *recordingHandler) Restored(info PoolInfo) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.restored = append(h.restored, info.Role)
}

func TestAcquire_RemovesFailedNode(t *testing.T) {
	handler := &recordingHandler{}
	c := newTestCluster(t, Opts{NodeHandler: handler}, 2, "slave1", "slave2")
	ctx := context.Background()

	c.backend.Node("slave1").SetDown(true)

	for i := 0; i < 4; i++ {
		lease, err := c.Acquire(ctx, 0, AnySlave)
		require.NoError(t, err)
		require.Equal(t, SlaveRole(2), lease.Role())
		require.NoError(t, lease.Release())
	}

	require.Equal(t, Unhealthy, c.health(SlaveRole(1)))
	require.Equal(t, Healthy, c.health(SlaveRole(2)))
	require.Equal(t, 1, c.backend.Node("slave1").Attempts())
	require.Equal(t, 1, c.logger.Count("node_removed"))
	require.Equal(t, []RoleKey{SlaveRole(1)}, handler.removed)

	_, err := c.Acquire(ctx, 0, SlaveRole(1))
	var noHealthy *dbrouter.NoHealthyNodeError
	require.ErrorAs(t, err, &noHealthy)
	require.Nil(t, noHealthy.Cause)
}

func TestAcquire_AllNodesDown(t *testing.T) {
	c := newTestCluster(t, Opts{}, 1, "slave1", "slave2")

	c.backend.Node("slave1").SetDown(true)
	c.backend.Node("slave2").SetDown(true)

	_, err := c.Acquire(context.Background(), 0, AnySlave)
	var noHealthy *dbrouter.NoHealthyNodeError
	require.ErrorAs(t, err, &noHealthy)
	require.ErrorIs(t, err, test_helpers.ErrNodeDown)
	require.Equal(t, Unhealthy, c.health(SlaveRole(1)))
	require.Equal(t, Unhealthy, c.health(SlaveRole(2)))

	lease, err := c.Acquire(context.Background(), 0, Master)
	require.NoError(t, err)
	require.NoError(t, lease.Release())
}

func TestAcquire_DisableRetry(t *testing.T) {
	c := newTestCluster(t, Opts{Selector: Order, DisableRetry: true}, 1, "slave1", "slave2")

	c.backend.Node("slave1").SetDown(true)

	_, err := c.Acquire(context.Background(), 0, AnySlave)
	require.ErrorIs(t, err, test_helpers.ErrNodeDown)
	require.Equal(t, 0, c.backend.Node("slave2").Attempts())

	lease, err := c.Acquire(context.Background(), 0, AnySlave)
	require.NoError(t, err)
	require.Equal(t, SlaveRole(2), lease.Role())
	require.NoError(t, lease.Release())
}

func TestAcquire_RemoveNodeErrorCount(t *testing.T) {
	c := newTestCluster(t, Opts{RemoveNodeErrorCount: 2}, 1)
	ctx := context.Background()

	c.backend.Node("master").SetDown(true)

	_, err := c.Acquire(ctx, 0, Master)
	require.Error(t, err)
	require.Equal(t, Healthy, c.health(Master))

	_, err = c.Acquire(ctx, 0, Master)
	require.Error(t, err)
	require.Equal(t, Unhealthy, c.health(Master))
	require.Equal(t, 2, c.Info()[0].Failures)
}

func TestCheckHealth_RestoresNode(t *testing.T) {
	handler := &recordingHandler{}
	c := newTestCluster(t, Opts{NodeHandler: handler}, 1, "slave1")
	ctx := context.Background()

	c.backend.Node("slave1").SetDown(true)
	_, err := c.Acquire(ctx, 0, SlaveRole(1))
	require.Error(t, err)
	require.Equal(t, Unhealthy, c.health(SlaveRole(1)))

	require.Equal(t, 0, c.CheckHealth(ctx))
	require.Equal(t, 1, c.logger.Count("health_check_failed"))
	require.Equal(t, Unhealthy, c.health(SlaveRole(1)))

	c.backend.Node("slave1").SetDown(false)
	require.Equal(t, 1, c.CheckHealth(ctx))
	require.Equal(t, Healthy, c.health(SlaveRole(1)))
	require.Equal(t, 1, c.logger.Count("node_restored"))
	require.Equal(t, []RoleKey{SlaveRole(1)}, handler.restored)

	lease, err := c.Acquire(ctx, 0, SlaveRole(1))
	require.NoError(t, err)
	require.NoError(t, lease.Release())
	require.Equal(t, 0, c.CheckHealth(ctx))
}

func TestController_RestoresNode(t *testing.T) {
	c := newTestCluster(t, Opts{
		CheckTimeout:           10 * time.Millisecond,
		RecheckInitialInterval: time.Millisecond,
		RecheckMaxInterval:     5 * time.Millisecond,
	}, 1, "slave1")

	c.backend.Node("slave1").SetDown(true)
	_, err := c.Acquire(context.Background(), 0, SlaveRole(1))
	require.Error(t, err)

	c.backend.Node("slave1").SetDown(false)
	require.Eventually(t, func() bool {
		return c.health(SlaveRole(1)) == Healthy
	}, 2*time.Second, 10*time.Millisecond)
}

func TestClose(t *testing.T) {
	c := newTestCluster(t, Opts{}, 2, "slave1")
	ctx := context.Background()

	leaked, err := c.Acquire(ctx, 0, Master)
	require.NoError(t, err)
	released, err := c.Acquire(ctx, 0, AnySlave)
	require.NoError(t, err)
	require.NoError(t, released.Release())

	err = c.Close()
	require.ErrorIs(t, err, dbrouter.ErrLeakedLease)
	assert.Contains(t, err.Error(), leaked.ID().String())
	require.Equal(t, 1, c.logger.Count("leaked_lease"))

	require.ErrorIs(t, c.Close(), dbrouter.ErrClosed)
	_, err = c.Acquire(ctx, 0, Master)
	require.ErrorIs(t, err, dbrouter.ErrClosed)
	require.ErrorIs(t, c.AddPool(1, Master, endpoint("x", 1)), dbrouter.ErrClosed)
}

func TestCollector(t *testing.T) {
	c := newTestCluster(t, Opts{}, 1, "slave1")
	ctx := context.Background()

	lease, err := c.Acquire(ctx, 0, Master)
	require.NoError(t, err)
	require.NoError(t, lease.Release())

	c.backend.Node("slave1").SetDown(true)
	_, err = c.Acquire(ctx, 0, SlaveRole(1))
	require.Error(t, err)

	expected := `
# HELP dbrouter_pool_acquires_total The number of connection acquisitions by result.
# TYPE dbrouter_pool_acquires_total counter
dbrouter_pool_acquires_total{group="0",result="error",role="SLAVE1"} 1
dbrouter_pool_acquires_total{group="0",result="ok",role="MASTER"} 1
# HELP dbrouter_pool_healthy 1 if the node is in rotation, 0 otherwise.
# TYPE dbrouter_pool_healthy gauge
dbrouter_pool_healthy{group="0",role="MASTER"} 1
dbrouter_pool_healthy{group="0",role="SLAVE1"} 0
# HELP dbrouter_pool_removals_total The number of times a node was removed from rotation.
# TYPE dbrouter_pool_removals_total counter
dbrouter_pool_removals_total{group="0",role="SLAVE1"} 1
`
	require.NoError(t, testutil.CollectAndCompare(c.Collector(), strings.NewReader(expected),
		"dbrouter_pool_acquires_total", "dbrouter_pool_healthy", "dbrouter_pool_removals_total"))
}
