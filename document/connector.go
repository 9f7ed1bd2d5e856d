// Package document connects to one MongoDB master per connection group and
// runs collection operations on the group picked by a ShardResolver.
package document

import (
	"context"
	"sync"
	"time"

	"github.com/ice-blockchain/go-dbrouter"
)

const component = "dbrouter.document"

const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// Opts of a document Connector.
type Opts struct {
	// Dialer opens master sessions; MgoDialer by default.
	Dialer Dialer
	// Resolver picks the group of an operation; SingleShard by default.
	Resolver ShardResolver
	// DialTimeout is used by the default dialer.
	DialTimeout time.Duration
	Logger      dbrouter.Logger
}

// Connector keeps one master session per connection group.
type Connector struct {
	groups    []dbrouter.ConnectionGroup
	dialer    Dialer
	resolver  ShardResolver
	logger    dbrouter.Logger
	lifecycle *dbrouter.Lifecycle

	mutex    sync.RWMutex
	sessions []Session
}

var _ dbrouter.DataConnector = (*Connector)(nil)

func NewConnector(groups []dbrouter.ConnectionGroup, opts Opts) (*Connector, error) {
	if err := dbrouter.ValidateGroups(groups); err != nil {
		return nil, err
	}
	if opts.Dialer == nil {
		opts.Dialer = MgoDialer{Timeout: opts.DialTimeout}
	}
	if opts.Resolver == nil {
		opts.Resolver = SingleShard{}
	}
	logger := dbrouter.LoggerOrDefault(opts.Logger)

	return &Connector{
		groups:    groups,
		dialer:    opts.Dialer,
		resolver:  opts.Resolver,
		logger:    logger,
		lifecycle: dbrouter.NewLifecycle(component, logger),
	}, nil
}

// Connect dials the master of every group, one after another in group
// order. If any dial fails, the sessions opened so far are closed and none
// of them is ever used.
func (c *Connector) Connect(ctx context.Context) error {
	if err := c.lifecycle.Begin(); err != nil {
		return err
	}

	sessions := make([]Session, 0, len(c.groups))
	for i, g := range c.groups {
		session, err := c.dial(ctx, g.Master)
		if err != nil {
			c.logger.Report(dbrouter.ConnectFailedEvent{
				BaseEvent: dbrouter.NewBaseEvent(component),
				Shard:     i,
				Addr:      g.Master.Addr(),
				Error:     err,
			})
			for _, s := range sessions {
				s.Close()
			}
			c.lifecycle.Fail(err)
			return err
		}

		c.logger.Report(dbrouter.ShardConnectedEvent{
			BaseEvent: dbrouter.NewBaseEvent(component),
			Shard:     i,
			Addr:      g.Master.Addr(),
		})
		sessions = append(sessions, session)
	}

	c.mutex.Lock()
	c.sessions = sessions
	c.mutex.Unlock()

	if !c.lifecycle.Connected() {
		// Closed while dialing: Close may have run before the sessions
		// were stored.
		c.mutex.Lock()
		sessions = c.sessions
		c.sessions = nil
		c.mutex.Unlock()
		for _, s := range sessions {
			s.Close()
		}
		return dbrouter.ErrClosed
	}
	return nil
}

func (c *Connector) dial(ctx context.Context, cfg dbrouter.EndpointConfig) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.dialer.Dial(ctx, cfg)
}

// ResolveShard returns the group index serving the collection.
func (c *Connector) ResolveShard(collection string) (int, error) {
	shard := c.resolver.Resolve(collection)
	if shard < 0 || shard >= len(c.groups) {
		return 0, dbrouter.ErrShardOutOfRange
	}
	return shard, nil
}

func (c *Connector) session(collection string) (Session, error) {
	switch c.lifecycle.State() {
	case dbrouter.Connected:
	case dbrouter.Closed:
		return nil, dbrouter.ErrClosed
	default:
		return nil, dbrouter.ErrNotConnected
	}

	shard, err := c.ResolveShard(collection)
	if err != nil {
		return nil, err
	}

	c.mutex.RLock()
	defer c.mutex.RUnlock()
	if shard >= len(c.sessions) {
		return nil, dbrouter.ErrNotConnected
	}
	return c.sessions[shard], nil
}

// open copies the master session of the collection's group. A socket
// broken by a failed operation stays with the copy and is dropped when the
// copy is closed.
func (c *Connector) open(collection string) (Session, error) {
	master, err := c.session(collection)
	if err != nil {
		return nil, err
	}
	return master.Copy(), nil
}

// Collection returns the handle of a collection on its resolved group,
// backed by a session of its own. The caller must call release once done
// with the handle.
func (c *Connector) Collection(name string) (coll Collection, release func(), err error) {
	session, err := c.open(name)
	if err != nil {
		return nil, nil, err
	}
	return session.DB("").C(name), session.Close, nil
}

// withCollection runs fn on the collection through a session that is
// closed when fn returns.
func (c *Connector) withCollection(name string, fn func(coll Collection) error) error {
	session, err := c.open(name)
	if err != nil {
		return err
	}
	defer session.Close()
	return fn(session.DB("").C(name))
}

// Close closes every master session.
func (c *Connector) Close() error {
	c.mutex.Lock()
	sessions := c.sessions
	c.sessions = nil
	c.mutex.Unlock()

	if !c.lifecycle.Close() {
		return dbrouter.ErrClosed
	}
	for _, s := range sessions {
		s.Close()
	}
	return nil
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
