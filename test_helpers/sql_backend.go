package test_helpers

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ice-blockchain/go-dbrouter"
)

var (
	ErrNodeDown        = errors.New("connection refused: node is down")
	ErrStatementFailed = errors.New("statement failed")
)

// SQLBackend is an in-memory relational backend. Each endpoint is a node
// named after its host; a query returns one row describing the node that
// served it. Open satisfies pool.Opener.
type SQLBackend struct {
	mutex sync.Mutex
	nodes map[string]*SQLNode
}

func NewSQLBackend() *SQLBackend {
	return &SQLBackend{nodes: make(map[string]*SQLNode)}
}

// Node returns the node with the name, creating it if needed.
func (b *SQLBackend) Node(name string) *SQLNode {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	node, ok := b.nodes[name]
	if !ok {
		node = &SQLNode{name: name}
		b.nodes[name] = node
	}
	return node
}

func (b *SQLBackend) Open(cfg dbrouter.EndpointConfig) (*sql.DB, error) {
	name := cfg.Host
	if name == "" {
		name = cfg.Addr()
	}
	if name == "" {
		return nil, errors.New("endpoint has no host")
	}
	return sql.OpenDB(&sqlConnector{node: b.Node(name)}), nil
}

// SQLNode is a single fake database server.
type SQLNode struct {
	name string
	down atomic.Bool

	attempts atomic.Int32
	connects atomic.Int32
	open     atomic.Int32
	maxOpen  atomic.Int32

	mutex      sync.Mutex
	statements []string
	lastID     int64
}

func (n *SQLNode) Name() string { return n.name }

// SetDown makes new connections fail and existing ones report themselves
// as broken.
func (n *SQLNode) SetDown(down bool) {
	n.down.Store(down)
}

func (n *SQLNode) Down() bool { return n.down.Load() }

// Attempts returns the number of connection attempts, failed ones included.
func (n *SQLNode) Attempts() int { return int(n.attempts.Load()) }

// Connects returns the number of established connections.
func (n *SQLNode) Connects() int { return int(n.connects.Load()) }

// Open returns the number of connections currently open.
func (n *SQLNode) Open() int { return int(n.open.Load()) }

// MaxOpen returns the highest number of simultaneously open connections.
func (n *SQLNode) MaxOpen() int { return int(n.maxOpen.Load()) }

// Statements returns the statements executed on the node in order.
func (n *SQLNode) Statements() []string {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	return append([]string(nil), n.statements...)
}

func (n *SQLNode) record(statement string) (int64, error) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	n.statements = append(n.statements, statement)
	if strings.HasPrefix(strings.TrimSpace(statement), "FAIL") {
		return 0, ErrStatementFailed
	}
	n.lastID++
	return n.lastID, nil
}

type sqlConnector struct {
	node *SQLNode
}

func (c *sqlConnector) Connect(ctx context.Context) (driver.Conn, error) {
	c.node.attempts.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.node.down.Load() {
		return nil, fmt.Errorf("%s: %w", c.node.name, ErrNodeDown)
	}

	c.node.connects.Add(1)
	open := c.node.open.Add(1)
	for {
		peak := c.node.maxOpen.Load()
		if open <= peak || c.node.maxOpen.CompareAndSwap(peak, open) {
			break
		}
	}
	return &sqlConn{node: c.node}, nil
}

func (c *sqlConnector) Driver() driver.Driver {
	return sqlDriver{}
}

type sqlDriver struct{}

func (sqlDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("use a connector")
}

type sqlConn struct {
	node   *SQLNode
	closed atomic.Bool
}

var (
	_ driver.QueryerContext    = (*sqlConn)(nil)
	_ driver.ExecerContext     = (*sqlConn)(nil)
	_ driver.Pinger            = (*sqlConn)(nil)
	_ driver.SessionResetter   = (*sqlConn)(nil)
	_ driver.Validator         = (*sqlConn)(nil)
	_ driver.ConnBeginTx       = (*sqlConn)(nil)
	_ driver.NamedValueChecker = (*sqlConn)(nil)
)

func (c *sqlConn) Prepare(query string) (driver.Stmt, error) {
	return &sqlStmt{conn: c, query: query}, nil
}

func (c *sqlConn) Close() error {
	if c.closed.CompareAndSwap(false, true) {
		c.node.open.Add(-1)
	}
	return nil
}

func (c *sqlConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *sqlConn) BeginTx(ctx context.Context, _ driver.TxOptions) (driver.Tx, error) {
	if _, err := c.node.record("BEGIN"); err != nil {
		return nil, err
	}
	return sqlTx{conn: c}, nil
}

func (c *sqlConn) CheckNamedValue(*driver.NamedValue) error {
	return nil
}

func (c *sqlConn) QueryContext(ctx context.Context, query string,
	args []driver.NamedValue) (driver.Rows, error) {
	if c.node.down.Load() {
		return nil, driver.ErrBadConn
	}
	if _, err := c.node.record(query); err != nil {
		return nil, err
	}
	return &sqlRows{values: []driver.Value{
		[]byte(c.node.name),
		query,
		formatArgs(args),
	}}, nil
}

func (c *sqlConn) ExecContext(ctx context.Context, query string,
	args []driver.NamedValue) (driver.Result, error) {
	if c.node.down.Load() {
		return nil, driver.ErrBadConn
	}
	id, err := c.node.record(query)
	if err != nil {
		return nil, err
	}
	return sqlResult{lastID: id, affected: 1}, nil
}

func (c *sqlConn) Ping(ctx context.Context) error {
	if c.node.down.Load() {
		return driver.ErrBadConn
	}
	return nil
}

func (c *sqlConn) ResetSession(ctx context.Context) error {
	if c.node.down.Load() {
		return driver.ErrBadConn
	}
	return nil
}

func (c *sqlConn) IsValid() bool {
	return !c.node.down.Load()
}

func formatArgs(args []driver.NamedValue) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, fmt.Sprint(arg.Value))
	}
	return strings.Join(parts, ",")
}

type sqlStmt struct {
	conn  *sqlConn
	query string
}

func (s *sqlStmt) Close() error  { return nil }
func (s *sqlStmt) NumInput() int { return -1 }

func (s *sqlStmt) Exec(args []driver.Value) (driver.Result, error) {
	return s.conn.ExecContext(context.Background(), s.query, named(args))
}

func (s *sqlStmt) Query(args []driver.Value) (driver.Rows, error) {
	return s.conn.QueryContext(context.Background(), s.query, named(args))
}

func named(args []driver.Value) []driver.NamedValue {
	values := make([]driver.NamedValue, len(args))
	for i, arg := range args {
		values[i] = driver.NamedValue{Ordinal: i + 1, Value: arg}
	}
	return values
}

type sqlTx struct {
	conn *sqlConn
}

func (tx sqlTx) Commit() error {
	_, err := tx.conn.node.record("COMMIT")
	return err
}

func (tx sqlTx) Rollback() error {
	_, err := tx.conn.node.record("ROLLBACK")
	return err
}

type sqlResult struct {
	lastID   int64
	affected int64
}

func (r sqlResult) LastInsertId() (int64, error) { return r.lastID, nil }
func (r sqlResult) RowsAffected() (int64, error) { return r.affected, nil }

// sqlRows holds a single row of (node, statement, args).
type sqlRows struct {
	values []driver.Value
	done   bool
}

func (r *sqlRows) Columns() []string {
	return []string{"node", "statement", "args"}
}

func (r *sqlRows) Close() error { return nil }

func (r *sqlRows) Next(dest []driver.Value) error {
	if r.done {
		return io.EOF
	}
	r.done = true
	copy(dest, r.values)
	return nil
}
