package pool_test

import (
	"context"
	"fmt"

	"github.com/ice-blockchain/go-dbrouter"
	"github.com/ice-blockchain/go-dbrouter/pool"
	"github.com/ice-blockchain/go-dbrouter/test_helpers"
)

func exampleCluster(backend *test_helpers.SQLBackend) (*pool.Cluster, error) {
	cluster, err := pool.NewCluster(pool.Opts{
		Opener:       backend,
		Logger:       dbrouter.NopLogger{},
		CheckTimeout: -1,
	})
	if err != nil {
		return nil, err
	}

	if err := cluster.AddPool(0, pool.Master, dbrouter.EndpointConfig{Host: "db1"}); err != nil {
		return nil, err
	}
	for i, host := range []string{"db2", "db3"} {
		if err := cluster.AddPool(0, pool.SlaveRole(i+1), dbrouter.EndpointConfig{Host: host}); err != nil {
			return nil, err
		}
	}
	return cluster, nil
}

func ExampleCluster_Acquire() {
	cluster, err := exampleCluster(test_helpers.NewSQLBackend())
	if err != nil {
		fmt.Println(err)
		return
	}
	defer cluster.Close()

	for i := 0; i < 3; i++ {
		lease, err := cluster.Acquire(context.Background(), 0, pool.AnySlave)
		if err != nil {
			fmt.Println(err)
			return
		}
		fmt.Println(lease.Role(), lease.Addr())
		lease.Release()
	}
	// Output:
	// SLAVE1 db2
	// SLAVE2 db3
	// SLAVE1 db2
}

func ExampleCluster_CheckHealth() {
	backend := test_helpers.NewSQLBackend()
	cluster, err := exampleCluster(backend)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer cluster.Close()

	ctx := context.Background()
	backend.Node("db2").SetDown(true)

	lease, err := cluster.Acquire(ctx, 0, pool.SlaveRole(1))
	fmt.Println(lease == nil, err != nil)
	fmt.Println(cluster.Info()[1].Health)

	backend.Node("db2").SetDown(false)
	fmt.Println(cluster.CheckHealth(ctx), cluster.Info()[1].Health)
	// Output:
	// true true
	// unhealthy
	// 1 healthy
}
