package document

import (
	"context"
	"time"

	"github.com/juju/mgo/v3"

	"github.com/ice-blockchain/go-dbrouter"
)

const DefaultDialTimeout = 10 * time.Second

// MgoDialer dials MongoDB masters directly, without discovering the rest of
// the replica set.
type MgoDialer struct {
	// Timeout bounds a dial when neither the endpoint nor the context set
	// one. DefaultDialTimeout if zero.
	Timeout time.Duration
}

func (d MgoDialer) Dial(ctx context.Context, cfg dbrouter.EndpointConfig) (Session, error) {
	info, err := d.dialInfo(ctx, cfg)
	if err != nil {
		return nil, err
	}

	session, err := mgo.DialWithInfo(info)
	if err != nil {
		return nil, err
	}
	session.SetMode(mgo.Strong, true)
	return mgoSession{session: session}, nil
}

func (d MgoDialer) dialInfo(ctx context.Context, cfg dbrouter.EndpointConfig) (*mgo.DialInfo, error) {
	info := &mgo.DialInfo{}
	if cfg.URL != "" {
		parsed, err := mgo.ParseURL(cfg.URL)
		if err != nil {
			return nil, err
		}
		info = parsed
	} else {
		info.Addrs = []string{cfg.Addr()}
	}
	if cfg.Database != "" {
		info.Database = cfg.Database
	}
	if cfg.User != "" {
		info.Username = cfg.User
		info.Password = cfg.Password
	}
	info.Direct = true

	timeout := d.Timeout
	if cfg.ConnectTimeout > 0 {
		timeout = cfg.ConnectTimeout
	}
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	info.Timeout = timeout
	return info, nil
}

type mgoSession struct {
	session *mgo.Session
}

func (s mgoSession) DB(name string) Database {
	return mgoDatabase{db: s.session.DB(name)}
}

func (s mgoSession) Run(cmd interface{}, result interface{}) error {
	return s.session.Run(cmd, result)
}

func (s mgoSession) Copy() Session {
	return mgoSession{session: s.session.Copy()}
}

func (s mgoSession) Close() {
	s.session.Close()
}

type mgoDatabase struct {
	db *mgo.Database
}

func (d mgoDatabase) Name() string {
	return d.db.Name
}

func (d mgoDatabase) C(name string) Collection {
	return mgoCollection{coll: d.db.C(name)}
}

func (d mgoDatabase) CreateCollection(name string, info *mgo.CollectionInfo) error {
	if info == nil {
		info = &mgo.CollectionInfo{}
	}
	return d.db.C(name).Create(info)
}

type mgoCollection struct {
	coll *mgo.Collection
}

func (c mgoCollection) Name() string {
	return c.coll.Name
}

func (c mgoCollection) Find(query interface{}) Query {
	return mgoQuery{query: c.coll.Find(query)}
}

func (c mgoCollection) Insert(docs ...interface{}) error {
	return c.coll.Insert(docs...)
}

func (c mgoCollection) Update(selector, update interface{}) error {
	return c.coll.Update(selector, update)
}

func (c mgoCollection) UpdateAll(selector, update interface{}) (*mgo.ChangeInfo, error) {
	return c.coll.UpdateAll(selector, update)
}

func (c mgoCollection) Upsert(selector, update interface{}) (*mgo.ChangeInfo, error) {
	return c.coll.Upsert(selector, update)
}

func (c mgoCollection) RemoveAll(selector interface{}) (*mgo.ChangeInfo, error) {
	return c.coll.RemoveAll(selector)
}

func (c mgoCollection) DropCollection() error {
	return c.coll.DropCollection()
}

func (c mgoCollection) Pipe(pipeline interface{}) Pipe {
	return c.coll.Pipe(pipeline)
}

type mgoQuery struct {
	query *mgo.Query
}

func (q mgoQuery) Limit(n int) Query {
	return mgoQuery{query: q.query.Limit(n)}
}

func (q mgoQuery) Skip(n int) Query {
	return mgoQuery{query: q.query.Skip(n)}
}

func (q mgoQuery) Sort(fields ...string) Query {
	return mgoQuery{query: q.query.Sort(fields...)}
}

func (q mgoQuery) Select(selector interface{}) Query {
	return mgoQuery{query: q.query.Select(selector)}
}

func (q mgoQuery) All(result interface{}) error {
	return q.query.All(result)
}

func (q mgoQuery) One(result interface{}) error {
	return q.query.One(result)
}

func (q mgoQuery) Count() (int, error) {
	return q.query.Count()
}
