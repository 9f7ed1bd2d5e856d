package document

import (
	"errors"

	"github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"
)

// Cursor is a lazy query. Nothing is sent to the backend until one of All,
// AllTo, One or Count is called, and every call runs the query again on a
// session of its own. Refinements return a new Cursor and leave the
// receiver unchanged.
type Cursor struct {
	conn       *Connector
	collection string
	err        error
	condition  interface{}
	limit      int
	skip       int
	sort       []string
	projection interface{}
}

func newCursor(conn *Connector, collection string, condition interface{}) *Cursor {
	if condition == nil {
		condition = bson.M{}
	}
	return &Cursor{conn: conn, collection: collection, condition: condition}
}

func newErrorCursor(err error) *Cursor {
	return &Cursor{err: err}
}

func (c *Cursor) clone() *Cursor {
	cp := *c
	cp.sort = append([]string(nil), c.sort...)
	return &cp
}

// Condition returns the query condition.
func (c *Cursor) Condition() interface{} {
	return c.condition
}

// Limit bounds the number of documents. n <= 0 removes the bound.
func (c *Cursor) Limit(n int) *Cursor {
	cp := c.clone()
	cp.limit = n
	return cp
}

func (c *Cursor) Skip(n int) *Cursor {
	cp := c.clone()
	cp.skip = n
	return cp
}

// Sort orders the documents by fields; a "-" prefix sorts descending.
func (c *Cursor) Sort(fields ...string) *Cursor {
	cp := c.clone()
	cp.sort = append(cp.sort, fields...)
	return cp
}

// Select sets the projection.
func (c *Cursor) Select(projection interface{}) *Cursor {
	cp := c.clone()
	cp.projection = projection
	return cp
}

// run builds the query and passes it to fn.
func (c *Cursor) run(fn func(q Query) error) error {
	if c.err != nil {
		return c.err
	}
	return c.conn.withCollection(c.collection, func(coll Collection) error {
		q := coll.Find(c.condition)
		if c.skip > 0 {
			q = q.Skip(c.skip)
		}
		if c.limit > 0 {
			q = q.Limit(c.limit)
		}
		if len(c.sort) > 0 {
			q = q.Sort(c.sort...)
		}
		if c.projection != nil {
			q = q.Select(c.projection)
		}
		return fn(q)
	})
}

// All returns every document of the cursor in order.
func (c *Cursor) All() ([]bson.M, error) {
	docs := []bson.M{}
	if err := c.AllTo(&docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// AllTo decodes every document into result, which must be a pointer to a
// slice.
func (c *Cursor) AllTo(result interface{}) error {
	return c.run(func(q Query) error {
		return q.All(result)
	})
}

// One returns the first document, or nil if nothing matches.
func (c *Cursor) One() (bson.M, error) {
	var doc bson.M
	err := c.run(func(q Query) error {
		return q.One(&doc)
	})
	if errors.Is(err, mgo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Count returns the number of documents within the skip and limit bounds.
func (c *Cursor) Count() (int, error) {
	var n int
	err := c.run(func(q Query) (err error) {
		n, err = q.Count()
		return err
	})
	return n, err
}
