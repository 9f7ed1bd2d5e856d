package test_helpers

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"

	"github.com/ice-blockchain/go-dbrouter"
	"github.com/ice-blockchain/go-dbrouter/document"
)

// DocBackend is an in-memory document store implementing document.Dialer.
// Nodes are named after the endpoint address. Conditions support field
// equality only; updates support $set, $inc, $unset and replacement;
// pipelines support $match, $skip and $limit.
type DocBackend struct {
	mutex       sync.Mutex
	data        map[string]map[string][]bson.M
	dials       []string
	sessions    []*DocSession
	commands    []string
	failDial    map[string]error
	failCommand map[string]error
	failNext    map[string]error
	findErr     error

	materialized atomic.Int32
	openCopies   atomic.Int32
}

func NewDocBackend() *DocBackend {
	return &DocBackend{
		data:        make(map[string]map[string][]bson.M),
		failDial:    make(map[string]error),
		failCommand: make(map[string]error),
		failNext:    make(map[string]error),
	}
}

// FailDial makes dials to the node fail with err.
func (b *DocBackend) FailDial(node string, err error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.failDial[node] = err
}

// FailCommand makes the admin command with the name fail with err.
func (b *DocBackend) FailCommand(name string, err error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.failCommand[name] = err
}

// FailNext makes the next collection operation on the node fail with err.
// Like a broken socket, the error sticks to the session that saw it: later
// operations through that session fail too, copies made afterwards work.
func (b *DocBackend) FailNext(node string, err error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.failNext[node] = err
}

// SetFindError makes every query materialization fail with err.
func (b *DocBackend) SetFindError(err error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.findErr = err
}

// OpenCopies returns the number of session copies not closed yet.
func (b *DocBackend) OpenCopies() int {
	return int(b.openCopies.Load())
}

// Dials returns the dialed nodes in order, failed dials included.
func (b *DocBackend) Dials() []string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return append([]string(nil), b.dials...)
}

// Sessions returns the established sessions in dial order.
func (b *DocBackend) Sessions() []*DocSession {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return append([]*DocSession(nil), b.sessions...)
}

// Commands returns the names of the admin commands run, failed ones
// included.
func (b *DocBackend) Commands() []string {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return append([]string(nil), b.commands...)
}

// Materialized returns the number of queries and pipelines executed.
func (b *DocBackend) Materialized() int {
	return int(b.materialized.Load())
}

// Docs returns a copy of the documents of a collection.
func (b *DocBackend) Docs(node, db, collection string) []bson.M {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	docs := b.data[node+"/"+db][collection]
	cp := make([]bson.M, 0, len(docs))
	for _, doc := range docs {
		cp = append(cp, copyDoc(doc))
	}
	return cp
}

func (b *DocBackend) Dial(ctx context.Context, cfg dbrouter.EndpointConfig) (document.Session, error) {
	node := cfg.Addr()

	b.mutex.Lock()
	defer b.mutex.Unlock()

	b.dials = append(b.dials, node)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.failDial[node]; err != nil {
		return nil, err
	}

	session := &DocSession{backend: b, node: node, db: databaseName(cfg)}
	b.sessions = append(b.sessions, session)
	return session, nil
}

func databaseName(cfg dbrouter.EndpointConfig) string {
	if cfg.Database != "" {
		return cfg.Database
	}
	if idx := strings.LastIndex(cfg.URL, "/"); idx >= 0 && idx < len(cfg.URL)-1 &&
		!strings.HasSuffix(cfg.URL[:idx], "/") {
		return strings.SplitN(cfg.URL[idx+1:], "?", 2)[0]
	}
	return "test"
}

// DocSession is a session of DocBackend.
type DocSession struct {
	backend *DocBackend
	node    string
	db      string
	closes  atomic.Int32
	copies  atomic.Int32
	copied  bool
	// Guarded by backend.mutex.
	broken error
}

func (s *DocSession) Node() string { return s.node }

// Closes returns how many times Close was called.
func (s *DocSession) Closes() int { return int(s.closes.Load()) }

// Copies returns how many copies of the session were made.
func (s *DocSession) Copies() int { return int(s.copies.Load()) }

// Copy returns a session to the same node. Closes of the copy are counted
// on the copy only.
func (s *DocSession) Copy() document.Session {
	s.copies.Add(1)
	s.backend.openCopies.Add(1)
	return &DocSession{backend: s.backend, node: s.node, db: s.db, copied: true}
}

// check must be called without the mutex held.
func (s *DocSession) check() error {
	s.backend.mutex.Lock()
	defer s.backend.mutex.Unlock()

	if s.broken != nil {
		return s.broken
	}
	if err := s.backend.failNext[s.node]; err != nil {
		delete(s.backend.failNext, s.node)
		s.broken = err
		return err
	}
	return nil
}

func (s *DocSession) DB(name string) document.Database {
	if name == "" {
		name = s.db
	}
	return docDatabase{backend: s.backend, session: s, key: s.node + "/" + name, name: name}
}

func (s *DocSession) Run(cmd interface{}, result interface{}) error {
	name := commandName(cmd)

	s.backend.mutex.Lock()
	s.backend.commands = append(s.backend.commands, name)
	err := s.backend.failCommand[name]
	s.backend.mutex.Unlock()

	if err != nil {
		return err
	}
	return decodeOne(bson.M{"ok": 1}, result)
}

func commandName(cmd interface{}) string {
	switch c := cmd.(type) {
	case string:
		return c
	case bson.D:
		if len(c) > 0 {
			return c[0].Name
		}
	case bson.M:
		for k := range c {
			return k
		}
	}
	return ""
}

func (s *DocSession) Close() {
	if s.closes.Add(1) == 1 && s.copied {
		s.backend.openCopies.Add(-1)
	}
}

type docDatabase struct {
	backend *DocBackend
	session *DocSession
	key     string
	name    string
}

func (d docDatabase) Name() string { return d.name }

func (d docDatabase) C(name string) document.Collection {
	return docCollection{backend: d.backend, session: d.session, key: d.key, name: name}
}

func (d docDatabase) CreateCollection(name string, _ *mgo.CollectionInfo) error {
	d.backend.mutex.Lock()
	defer d.backend.mutex.Unlock()

	colls := d.backend.collections(d.key)
	if _, ok := colls[name]; ok {
		return fmt.Errorf("collection %s already exists", name)
	}
	colls[name] = []bson.M{}
	return nil
}

// collections must be called with the mutex held.
func (b *DocBackend) collections(key string) map[string][]bson.M {
	colls, ok := b.data[key]
	if !ok {
		colls = make(map[string][]bson.M)
		b.data[key] = colls
	}
	return colls
}

type docCollection struct {
	backend *DocBackend
	session *DocSession
	key     string
	name    string
}

func (c docCollection) Name() string { return c.name }

func (c docCollection) Find(query interface{}) document.Query {
	cond, err := normalize(query)
	return docQuery{coll: c, cond: cond, err: err}
}

func (c docCollection) Insert(docs ...interface{}) error {
	normalized := make([]bson.M, 0, len(docs))
	for _, doc := range docs {
		m, err := normalize(doc)
		if err != nil {
			return err
		}
		if _, ok := m["_id"]; !ok {
			m["_id"] = bson.NewObjectId()
		}
		normalized = append(normalized, m)
	}
	if err := c.session.check(); err != nil {
		return err
	}

	c.backend.mutex.Lock()
	defer c.backend.mutex.Unlock()
	colls := c.backend.collections(c.key)
	colls[c.name] = append(colls[c.name], normalized...)
	return nil
}

func (c docCollection) Update(selector, update interface{}) error {
	info, err := c.update(selector, update, false)
	if err != nil {
		return err
	}
	if info.Matched == 0 {
		return mgo.ErrNotFound
	}
	return nil
}

func (c docCollection) UpdateAll(selector, update interface{}) (*mgo.ChangeInfo, error) {
	return c.update(selector, update, true)
}

func (c docCollection) Upsert(selector, update interface{}) (*mgo.ChangeInfo, error) {
	info, err := c.update(selector, update, false)
	if err != nil || info.Matched > 0 {
		return info, err
	}

	cond, err := normalize(selector)
	if err != nil {
		return nil, err
	}
	upd, err := normalize(update)
	if err != nil {
		return nil, err
	}

	doc := bson.M{}
	for k, v := range cond {
		if !strings.HasPrefix(k, "$") {
			doc[k] = v
		}
	}
	doc = applyUpdate(doc, upd)
	if _, ok := doc["_id"]; !ok {
		doc["_id"] = bson.NewObjectId()
	}

	c.backend.mutex.Lock()
	defer c.backend.mutex.Unlock()
	colls := c.backend.collections(c.key)
	colls[c.name] = append(colls[c.name], doc)
	return &mgo.ChangeInfo{UpsertedId: doc["_id"]}, nil
}

func (c docCollection) update(selector, update interface{}, multi bool) (*mgo.ChangeInfo, error) {
	cond, err := normalize(selector)
	if err != nil {
		return nil, err
	}
	upd, err := normalize(update)
	if err != nil {
		return nil, err
	}
	if err := c.session.check(); err != nil {
		return nil, err
	}

	c.backend.mutex.Lock()
	defer c.backend.mutex.Unlock()

	info := &mgo.ChangeInfo{}
	docs := c.backend.collections(c.key)[c.name]
	for i, doc := range docs {
		if !matches(doc, cond) {
			continue
		}
		docs[i] = applyUpdate(doc, upd)
		info.Matched++
		info.Updated++
		if !multi {
			break
		}
	}
	return info, nil
}

func (c docCollection) RemoveAll(selector interface{}) (*mgo.ChangeInfo, error) {
	cond, err := normalize(selector)
	if err != nil {
		return nil, err
	}

	c.backend.mutex.Lock()
	defer c.backend.mutex.Unlock()

	colls := c.backend.collections(c.key)
	kept := make([]bson.M, 0, len(colls[c.name]))
	info := &mgo.ChangeInfo{}
	for _, doc := range colls[c.name] {
		if matches(doc, cond) {
			info.Removed++
			info.Matched++
			continue
		}
		kept = append(kept, doc)
	}
	colls[c.name] = kept
	return info, nil
}

func (c docCollection) DropCollection() error {
	c.backend.mutex.Lock()
	defer c.backend.mutex.Unlock()

	colls := c.backend.collections(c.key)
	if _, ok := colls[c.name]; !ok {
		return errors.New("ns not found")
	}
	delete(colls, c.name)
	return nil
}

func (c docCollection) Pipe(pipeline interface{}) document.Pipe {
	return docPipe{coll: c, pipeline: pipeline}
}

// snapshot returns copies of the matching documents in insertion order.
func (c docCollection) snapshot(cond bson.M) ([]bson.M, error) {
	c.backend.materialized.Add(1)
	if err := c.session.check(); err != nil {
		return nil, err
	}

	c.backend.mutex.Lock()
	defer c.backend.mutex.Unlock()

	if c.backend.findErr != nil {
		return nil, c.backend.findErr
	}
	var docs []bson.M
	for _, doc := range c.backend.collections(c.key)[c.name] {
		if matches(doc, cond) {
			docs = append(docs, copyDoc(doc))
		}
	}
	return docs, nil
}

type docQuery struct {
	coll       docCollection
	cond       bson.M
	err        error
	limit      int
	skip       int
	sort       []string
	projection bson.M
}

func (q docQuery) Limit(n int) document.Query {
	q.limit = n
	return q
}

func (q docQuery) Skip(n int) document.Query {
	q.skip = n
	return q
}

func (q docQuery) Sort(fields ...string) document.Query {
	q.sort = append(append([]string(nil), q.sort...), fields...)
	return q
}

func (q docQuery) Select(selector interface{}) document.Query {
	projection, err := normalize(selector)
	if err != nil && q.err == nil {
		q.err = err
	}
	q.projection = projection
	return q
}

func (q docQuery) run() ([]bson.M, error) {
	if q.err != nil {
		return nil, q.err
	}
	docs, err := q.coll.snapshot(q.cond)
	if err != nil {
		return nil, err
	}

	if len(q.sort) > 0 {
		sortDocs(docs, q.sort)
	}
	if q.skip > 0 {
		if q.skip >= len(docs) {
			docs = nil
		} else {
			docs = docs[q.skip:]
		}
	}
	if q.limit > 0 && q.limit < len(docs) {
		docs = docs[:q.limit]
	}
	if len(q.projection) > 0 {
		for i, doc := range docs {
			docs[i] = project(doc, q.projection)
		}
	}
	return docs, nil
}

func (q docQuery) All(result interface{}) error {
	docs, err := q.run()
	if err != nil {
		return err
	}
	return decodeAll(docs, result)
}

func (q docQuery) One(result interface{}) error {
	q.limit = 1
	docs, err := q.run()
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return mgo.ErrNotFound
	}
	return decodeOne(docs[0], result)
}

func (q docQuery) Count() (int, error) {
	docs, err := q.run()
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

type docPipe struct {
	coll     docCollection
	pipeline interface{}
}

func (p docPipe) All(result interface{}) error {
	wrapped, err := normalize(bson.M{"pipeline": p.pipeline})
	if err != nil {
		return err
	}
	stages, _ := wrapped["pipeline"].([]interface{})

	docs, err := p.coll.snapshot(bson.M{})
	if err != nil {
		return err
	}
	for _, s := range stages {
		stage, ok := s.(bson.M)
		if !ok || len(stage) != 1 {
			return fmt.Errorf("invalid pipeline stage %v", s)
		}
		for op, arg := range stage {
			switch op {
			case "$match":
				cond, _ := arg.(bson.M)
				var kept []bson.M
				for _, doc := range docs {
					if matches(doc, cond) {
						kept = append(kept, doc)
					}
				}
				docs = kept
			case "$skip":
				n := int(toFloat(arg))
				if n >= len(docs) {
					docs = nil
				} else {
					docs = docs[n:]
				}
			case "$limit":
				if n := int(toFloat(arg)); n < len(docs) {
					docs = docs[:n]
				}
			default:
				return fmt.Errorf("unsupported pipeline stage %s", op)
			}
		}
	}
	return decodeAll(docs, result)
}

// normalize converts any document to the bson.M it decodes to, so stored
// values and conditions compare equal.
func normalize(v interface{}) (bson.M, error) {
	if v == nil {
		return bson.M{}, nil
	}
	data, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	m := bson.M{}
	if err := bson.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeOne(doc bson.M, result interface{}) error {
	data, err := bson.Marshal(doc)
	if err != nil {
		return err
	}
	return bson.Unmarshal(data, result)
}

func decodeAll(docs []bson.M, result interface{}) error {
	rv := reflect.ValueOf(result)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Slice {
		return errors.New("result argument must be a slice address")
	}

	sliceType := rv.Elem().Type()
	slice := reflect.MakeSlice(sliceType, 0, len(docs))
	for _, doc := range docs {
		elem := reflect.New(sliceType.Elem())
		if err := decodeOne(doc, elem.Interface()); err != nil {
			return err
		}
		slice = reflect.Append(slice, elem.Elem())
	}
	rv.Elem().Set(slice)
	return nil
}

func copyDoc(doc bson.M) bson.M {
	cp := make(bson.M, len(doc))
	for k, v := range doc {
		cp[k] = v
	}
	return cp
}

func matches(doc, cond bson.M) bool {
	for k, v := range cond {
		dv, ok := doc[k]
		if !ok || !reflect.DeepEqual(dv, v) {
			return false
		}
	}
	return true
}

func applyUpdate(doc, update bson.M) bson.M {
	operators := false
	for k := range update {
		if strings.HasPrefix(k, "$") {
			operators = true
			break
		}
	}

	if !operators {
		replaced := copyDoc(update)
		if id, ok := doc["_id"]; ok {
			replaced["_id"] = id
		}
		return replaced
	}

	updated := copyDoc(doc)
	if set, ok := update["$set"].(bson.M); ok {
		for k, v := range set {
			updated[k] = v
		}
	}
	if inc, ok := update["$inc"].(bson.M); ok {
		for k, v := range inc {
			updated[k] = add(updated[k], v)
		}
	}
	if unset, ok := update["$unset"].(bson.M); ok {
		for k := range unset {
			delete(updated, k)
		}
	}
	return updated
}

func add(a, b interface{}) interface{} {
	ai, aInt := a.(int)
	bi, bInt := b.(int)
	if (aInt || a == nil) && bInt {
		return ai + bi
	}
	return toFloat(a) + toFloat(b)
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

func compareValues(a, b interface{}) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	as, aStr := a.(string)
	bs, bStr := b.(string)
	if aStr && bStr {
		return strings.Compare(as, bs)
	}
	if !aStr && !bStr {
		af, bf := toFloat(a), toFloat(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		}
		return 0
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func sortDocs(docs []bson.M, fields []string) {
	sort.SliceStable(docs, func(i, j int) bool {
		for _, field := range fields {
			desc := strings.HasPrefix(field, "-")
			name := strings.TrimPrefix(strings.TrimPrefix(field, "-"), "+")
			c := compareValues(docs[i][name], docs[j][name])
			if c == 0 {
				continue
			}
			if desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

func project(doc, projection bson.M) bson.M {
	projected := bson.M{}
	withID := true
	for k, v := range projection {
		if k == "_id" {
			withID = toFloat(v) != 0 || v == true
			continue
		}
		if toFloat(v) != 0 || v == true {
			if dv, ok := doc[k]; ok {
				projected[k] = dv
			}
		}
	}
	if withID {
		if id, ok := doc["_id"]; ok {
			projected["_id"] = id
		}
	}
	return projected
}
