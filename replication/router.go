package replication

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ice-blockchain/go-dbrouter"
	"github.com/ice-blockchain/go-dbrouter/balancer"
	"github.com/ice-blockchain/go-dbrouter/pool"
)

// Operation is executed on a leased connection. The connection must not be
// used after the operation returns.
type Operation func(ctx context.Context, conn *sql.Conn) error

// Row is a fully materialized result row keyed by column name.
type Row map[string]interface{}

// Result of a statement executed with Exec.
type Result struct {
	RowsAffected int64
	LastInsertID int64
}

// Router executes operations on connections leased from one connection
// group of a Pooler.
type Router struct {
	pooler   pool.Pooler
	group    int
	readRole pool.RoleKey
}

// NewRouter returns a router bound to the group. Reads routed with Route go
// to any slave.
func NewRouter(pooler pool.Pooler, group int) *Router {
	return &Router{
		pooler:   pooler,
		group:    group,
		readRole: pool.AnySlave,
	}
}

// Group returns the connection group the router is bound to.
func (r *Router) Group() int {
	return r.group
}

// WithGroup returns a copy of the router bound to another group.
func (r *Router) WithGroup(group int) *Router {
	cp := *r
	cp.group = group
	return &cp
}

// WithReadRole returns a copy of the router that routes reads to role.
func (r *Router) WithReadRole(role pool.RoleKey) *Router {
	cp := *r
	cp.readRole = role
	return &cp
}

// Execute acquires a connection for role, runs op on it and releases the
// connection before returning, also when op panics. A release error is
// returned only if op succeeded.
func (r *Router) Execute(ctx context.Context, role pool.RoleKey, op Operation) (err error) {
	lease, err := r.pooler.Acquire(ctx, r.group, role)
	if err != nil {
		return err
	}
	defer func() {
		if releaseErr := r.pooler.Release(lease); releaseErr != nil && err == nil {
			err = releaseErr
		}
	}()

	return op(ctx, lease.Conn())
}

// ExecuteValue is Execute for operations producing a value.
func ExecuteValue[T any](ctx context.Context, r *Router, role pool.RoleKey,
	op func(ctx context.Context, conn *sql.Conn) (T, error)) (T, error) {
	var value T
	err := r.Execute(ctx, role, func(ctx context.Context, conn *sql.Conn) error {
		var err error
		value, err = op(ctx, conn)
		return err
	})
	if err != nil {
		return *new(T), err
	}
	return value, nil
}

// Query runs a statement on role and returns all of its rows. The rows are
// read before the connection is released.
func (r *Router) Query(ctx context.Context, role pool.RoleKey, statement string,
	args ...interface{}) ([]Row, error) {
	return ExecuteValue(ctx, r, role, func(ctx context.Context, conn *sql.Conn) ([]Row, error) {
		rows, err := conn.QueryContext(ctx, statement, args...)
		if err != nil {
			return nil, err
		}
		return scanRows(rows)
	})
}

// Exec runs a statement that returns no rows on role.
func (r *Router) Exec(ctx context.Context, role pool.RoleKey, statement string,
	args ...interface{}) (Result, error) {
	return ExecuteValue(ctx, r, role, func(ctx context.Context, conn *sql.Conn) (Result, error) {
		res, err := conn.ExecContext(ctx, statement, args...)
		if err != nil {
			return Result{}, err
		}
		return newResult(res), nil
	})
}

// Route runs a statement on the master if it writes, or on the read role
// otherwise. Reads fall back to the master when no node of the read role is
// registered or healthy.
func (r *Router) Route(ctx context.Context, statement string, args ...interface{}) ([]Row, error) {
	statement, write := balancer.CheckIfRequiresWrite(statement, true)
	if write {
		return r.Query(ctx, pool.Master, statement, args...)
	}

	rows, err := r.Query(ctx, r.readRole, statement, args...)
	if isUnavailable(err) {
		return r.Query(ctx, pool.Master, statement, args...)
	}
	return rows, err
}

// RouteExec is Route for statements that return no rows.
func (r *Router) RouteExec(ctx context.Context, statement string, args ...interface{}) (Result, error) {
	statement, write := balancer.CheckIfRequiresWrite(statement, true)
	if write {
		return r.Exec(ctx, pool.Master, statement, args...)
	}

	res, err := r.Exec(ctx, r.readRole, statement, args...)
	if isUnavailable(err) {
		return r.Exec(ctx, pool.Master, statement, args...)
	}
	return res, err
}

// QueryAsync is Query in a separate goroutine.
func (r *Router) QueryAsync(ctx context.Context, role pool.RoleKey, statement string,
	args ...interface{}) *dbrouter.Future[[]Row] {
	return dbrouter.Async(func() ([]Row, error) {
		return r.Query(ctx, role, statement, args...)
	})
}

// ExecAsync is Exec in a separate goroutine.
func (r *Router) ExecAsync(ctx context.Context, role pool.RoleKey, statement string,
	args ...interface{}) *dbrouter.Future[Result] {
	return dbrouter.Async(func() (Result, error) {
		return r.Exec(ctx, role, statement, args...)
	})
}

func isUnavailable(err error) bool {
	var unknown *dbrouter.UnknownRoleError
	var unhealthy *dbrouter.NoHealthyNodeError
	return errors.As(err, &unknown) || errors.As(err, &unhealthy)
}

func newResult(res sql.Result) Result {
	var result Result
	// Drivers may not support one of them.
	if n, err := res.RowsAffected(); err == nil {
		result.RowsAffected = n
	}
	if id, err := res.LastInsertId(); err == nil {
		result.LastInsertID = id
	}
	return result
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	result := []Row{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		dest := make([]interface{}, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		row := make(Row, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result = append(result, row)
	}
	return result, rows.Err()
}
