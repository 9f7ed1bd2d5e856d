package main

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ice-blockchain/go-dbrouter"
	"github.com/ice-blockchain/go-dbrouter/pool"
	"github.com/ice-blockchain/go-dbrouter/replication"
)

var (
	queryCmd = &cobra.Command{
		Use:   "query STATEMENT [ARGS...]",
		Short: "Run a query on a node of the given role",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runQuery,
	}
	execCmd = &cobra.Command{
		Use:   "exec STATEMENT [ARGS...]",
		Short: "Run a statement that returns no rows on a node of the given role",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runExec,
	}
	routeCmd = &cobra.Command{
		Use:   "route STATEMENT [ARGS...]",
		Short: "Run a statement on the master or a slave, depending on whether it writes",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRoute,
	}
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Check the health of every pool and print pool metrics",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}
)

func init() {
	for _, cmd := range []*cobra.Command{queryCmd, execCmd} {
		cmd.Flags().String("role", string(pool.Master), wrapString("role key: MASTER, SLAVE<i>, SLAVE* or *"))
	}
	for _, cmd := range []*cobra.Command{queryCmd, execCmd, routeCmd} {
		cmd.Flags().Int("group", 0, wrapString("index of the connection group"))
	}
}

func poolOpts(cfg dbrouter.RelationalConfig, logger dbrouter.Logger) pool.Opts {
	return pool.Opts{
		Selector:             pool.Selector(strings.ToUpper(cfg.Selector)),
		RemoveNodeErrorCount: cfg.RemoveNodeErrorCount,
		CheckTimeout:         cfg.CheckTimeout,
		FailFast:             cfg.FailFast,
		DisableRetry:         cfg.DisableRetry,
		Logger:               logger,
	}
}

// withRouter connects the relational connector and runs fn with the router
// of the --group group.
func withRouter(cmd *cobra.Command, fn func(ctx context.Context, r *replication.Router) (interface{}, error)) error {
	cfg, logger, ctx, cancel, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cancel()

	if len(cfg.Relational.Groups) == 0 {
		return errors.New("no relational groups configured")
	}
	conn, err := replication.NewConnector(cfg.Relational.Groups, replication.Opts{
		Pool:   poolOpts(cfg.Relational, logger),
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Connect(ctx); err != nil {
		return err
	}
	r, err := conn.RouterFor(viper.GetInt("group"))
	if err != nil {
		return err
	}

	res, err := fn(ctx, r)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func statementArgs(args []string) []interface{} {
	ret := make([]interface{}, 0, len(args))
	for _, arg := range args {
		ret = append(ret, arg)
	}
	return ret
}

func runQuery(cmd *cobra.Command, args []string) error {
	return withRouter(cmd, func(ctx context.Context, r *replication.Router) (interface{}, error) {
		role := pool.RoleKey(strings.ToUpper(viper.GetString("role")))
		return r.Query(ctx, role, args[0], statementArgs(args[1:])...)
	})
}

func runExec(cmd *cobra.Command, args []string) error {
	return withRouter(cmd, func(ctx context.Context, r *replication.Router) (interface{}, error) {
		role := pool.RoleKey(strings.ToUpper(viper.GetString("role")))
		return r.Exec(ctx, role, args[0], statementArgs(args[1:])...)
	})
}

func runRoute(cmd *cobra.Command, args []string) error {
	return withRouter(cmd, func(ctx context.Context, r *replication.Router) (interface{}, error) {
		return r.Route(ctx, args[0], statementArgs(args[1:])...)
	})
}

type poolStatus struct {
	Group    int    `json:"group"`
	Role     string `json:"role"`
	Addr     string `json:"addr"`
	Health   string `json:"health"`
	Leases   int    `json:"leases"`
	Capacity int    `json:"capacity"`
}

type metricSample struct {
	Labels map[string]string `json:"labels"`
	Value  float64           `json:"value"`
}

type status struct {
	Restored int                       `json:"restored"`
	Pools    []poolStatus              `json:"pools"`
	Metrics  map[string][]metricSample `json:"metrics"`
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, logger, ctx, cancel, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cancel()

	opts := poolOpts(cfg.Relational, logger)
	opts.CheckTimeout = -1
	cluster, err := pool.NewCluster(opts)
	if err != nil {
		return err
	}
	defer cluster.Close()

	for g, group := range cfg.Relational.Groups {
		if err := cluster.AddPool(g, pool.Master, group.Master); err != nil {
			return err
		}
		for i, slave := range group.Slaves {
			if err := cluster.AddPool(g, pool.SlaveRole(i+1), slave); err != nil {
				return err
			}
		}
	}

	// Every pool is tried once: a failed attempt takes it out of rotation,
	// CheckHealth puts the reachable ones back.
	for _, info := range cluster.Info() {
		if lease, err := cluster.Acquire(ctx, info.Group, info.Role); err == nil {
			lease.Release()
		}
	}
	restored := cluster.CheckHealth(ctx)

	metrics, err := gatherMetrics(cluster.Collector())
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), status{
		Restored: restored,
		Pools:    poolStatuses(cluster.Info()),
		Metrics:  metrics,
	})
}

func poolStatuses(infos []pool.PoolInfo) []poolStatus {
	ret := make([]poolStatus, 0, len(infos))
	for _, info := range infos {
		ret = append(ret, poolStatus{
			Group:    info.Group,
			Role:     string(info.Role),
			Addr:     info.Addr,
			Health:   info.Health.String(),
			Leases:   info.Leases,
			Capacity: info.Capacity,
		})
	}
	return ret
}

func gatherMetrics(collector prometheus.Collector) (map[string][]metricSample, error) {
	registry := prometheus.NewRegistry()
	if err := registry.Register(collector); err != nil {
		return nil, err
	}
	families, err := registry.Gather()
	if err != nil {
		return nil, err
	}

	ret := make(map[string][]metricSample, len(families))
	for _, family := range families {
		for _, m := range family.GetMetric() {
			ret[family.GetName()] = append(ret[family.GetName()], metricSample{
				Labels: labelMap(m.GetLabel()),
				Value:  metricValue(family.GetType(), m),
			})
		}
	}
	for _, samples := range ret {
		sort.Slice(samples, func(i, j int) bool {
			return labelKey(samples[i].Labels) < labelKey(samples[j].Labels)
		})
	}
	return ret, nil
}

func labelMap(pairs []*dto.LabelPair) map[string]string {
	ret := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		ret[pair.GetName()] = pair.GetValue()
	}
	return ret
}

func labelKey(labels map[string]string) string {
	keys := make([]string, 0, len(labels))
	for k, v := range labels {
		keys = append(keys, k+"="+v)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func metricValue(t dto.MetricType, m *dto.Metric) float64 {
	switch t {
	case dto.MetricType_COUNTER:
		return m.GetCounter().GetValue()
	case dto.MetricType_GAUGE:
		return m.GetGauge().GetValue()
	case dto.MetricType_UNTYPED:
		return m.GetUntyped().GetValue()
	}
	return 0
}
