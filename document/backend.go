package document

import (
	"context"

	"github.com/juju/mgo/v3"

	"github.com/ice-blockchain/go-dbrouter"
)

// Dialer opens a session to a document store master.
type Dialer interface {
	Dial(ctx context.Context, cfg dbrouter.EndpointConfig) (Session, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, cfg dbrouter.EndpointConfig) (Session, error)

func (f DialerFunc) Dial(ctx context.Context, cfg dbrouter.EndpointConfig) (Session, error) {
	return f(ctx, cfg)
}

// Session is an established connection to one master.
type Session interface {
	// DB returns a handle to the named database, or to the database of the
	// endpoint if name is empty.
	DB(name string) Database
	// Run executes an administrative command.
	Run(cmd interface{}, result interface{}) error
	// Copy returns a new session to the same master, with its own socket
	// and the same credentials. It must be closed independently.
	Copy() Session
	Close()
}

type Database interface {
	Name() string
	C(name string) Collection
	CreateCollection(name string, info *mgo.CollectionInfo) error
}

// Collection is the set of collection operations used by the connector.
// Errors are passed through unmodified.
type Collection interface {
	Name() string
	Find(query interface{}) Query
	Insert(docs ...interface{}) error
	Update(selector, update interface{}) error
	UpdateAll(selector, update interface{}) (*mgo.ChangeInfo, error)
	Upsert(selector, update interface{}) (*mgo.ChangeInfo, error)
	RemoveAll(selector interface{}) (*mgo.ChangeInfo, error)
	DropCollection() error
	Pipe(pipeline interface{}) Pipe
}

// Query is built per materialization; every method but the terminal ones
// returns the refined query.
type Query interface {
	Limit(n int) Query
	Skip(n int) Query
	Sort(fields ...string) Query
	Select(selector interface{}) Query
	All(result interface{}) error
	One(result interface{}) error
	Count() (int, error)
}

type Pipe interface {
	All(result interface{}) error
}
