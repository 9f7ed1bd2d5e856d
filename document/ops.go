package document

import (
	"errors"

	"github.com/juju/mgo/v3"
	"github.com/juju/mgo/v3/bson"

	"github.com/ice-blockchain/go-dbrouter"
)

// FindOpts configures FindAsync.
type FindOpts struct {
	// Limit is clamped like in FindLimited.
	Limit int
	// OnComplete, if set, is called once with the result.
	OnComplete func(docs []bson.M, err error)
}

// UpdateOpts configures Update.
type UpdateOpts struct {
	// Multi updates every matching document.
	Multi bool
	// Upsert inserts a document when nothing matches the condition.
	Upsert bool
}

// PageOpts configures Pagination. PageNumber starts at 1.
type PageOpts struct {
	PageSize   int
	PageNumber int
	// Count asks for the number of documents on the page instead of the
	// documents themselves.
	Count bool
	Sort  []string
}

// Page is a result of Pagination. Items is nil in count mode.
type Page struct {
	Items []bson.M `json:"items,omitempty"`
	Count int      `json:"count"`
}

// ClampLimit applies DefaultLimit to non-positive limits and caps the
// others at MaxLimit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// Find returns a lazy cursor over the documents matching condition. A nil
// condition matches everything.
func (c *Connector) Find(collection string, condition interface{}) *Cursor {
	if _, err := c.session(collection); err != nil {
		return newErrorCursor(err)
	}
	return newCursor(c, collection, condition)
}

// FindLimited returns at most ClampLimit(limit) matching documents.
func (c *Connector) FindLimited(collection string, condition interface{}, limit int) ([]bson.M, error) {
	return c.Find(collection, condition).Limit(ClampLimit(limit)).All()
}

// FindAsync runs FindLimited in a separate goroutine.
func (c *Connector) FindAsync(collection string, condition interface{}, opts FindOpts) *dbrouter.Future[[]bson.M] {
	fut := dbrouter.Async(func() ([]bson.M, error) {
		return c.FindLimited(collection, condition, opts.Limit)
	})
	if opts.OnComplete != nil {
		fut.OnComplete(opts.OnComplete)
	}
	return fut
}

// FindOne returns the first matching document, or nil if there is none.
func (c *Connector) FindOne(collection string, condition interface{}) (bson.M, error) {
	return c.Find(collection, condition).One()
}

// FindCount returns the number of matching documents.
func (c *Connector) FindCount(collection string, condition interface{}) (int, error) {
	return c.Find(collection, condition).Count()
}

// Insert stores the documents. A bson.M document without _id gets a new
// ObjectId, set in the caller's map.
func (c *Connector) Insert(collection string, docs ...interface{}) error {
	return c.withCollection(collection, func(coll Collection) error {
		for _, doc := range docs {
			if m, ok := doc.(bson.M); ok {
				if _, ok := m["_id"]; !ok {
					m["_id"] = bson.NewObjectId()
				}
			}
		}
		return coll.Insert(docs...)
	})
}

// Update modifies documents matching condition.
//
// A condition holding _id and Upsert are applied as is, and Multi updates
// every match. Otherwise the update is narrowed to the first matching
// document: its _id is added to a copy of the condition and only that
// document is updated. If nothing matches, AmbiguousUpdateError is returned
// and nothing is written; a failing lookup is returned unchanged.
func (c *Connector) Update(collection string, condition bson.M, update interface{},
	opts UpdateOpts) (info *mgo.ChangeInfo, err error) {
	err = c.withCollection(collection, func(coll Collection) error {
		info, err = c.update(coll, condition, update, opts)
		return err
	})
	return info, err
}

func (c *Connector) update(coll Collection, condition bson.M, update interface{},
	opts UpdateOpts) (*mgo.ChangeInfo, error) {
	if condition == nil {
		condition = bson.M{}
	}

	switch {
	case opts.Multi:
		return coll.UpdateAll(condition, update)
	case opts.Upsert:
		return coll.Upsert(condition, update)
	}
	if _, ok := condition["_id"]; ok {
		if err := coll.Update(condition, update); err != nil {
			return nil, err
		}
		return &mgo.ChangeInfo{Updated: 1, Matched: 1}, nil
	}

	var match struct {
		ID interface{} `bson:"_id"`
	}
	err := coll.Find(condition).Select(bson.M{"_id": 1}).One(&match)
	if errors.Is(err, mgo.ErrNotFound) {
		return nil, &dbrouter.AmbiguousUpdateError{Collection: coll.Name(), Condition: condition}
	}
	if err != nil {
		return nil, err
	}

	narrowed := make(bson.M, len(condition)+1)
	for k, v := range condition {
		narrowed[k] = v
	}
	narrowed["_id"] = match.ID

	if err := coll.Update(narrowed, update); err != nil {
		return nil, err
	}
	return &mgo.ChangeInfo{Updated: 1, Matched: 1}, nil
}

// UpdateMany updates every document matching condition.
func (c *Connector) UpdateMany(collection string, condition bson.M, update interface{}) (*mgo.ChangeInfo, error) {
	return c.Update(collection, condition, update, UpdateOpts{Multi: true})
}

// Remove deletes every document matching condition.
func (c *Connector) Remove(collection string, condition interface{}) (info *mgo.ChangeInfo, err error) {
	if condition == nil {
		condition = bson.M{}
	}
	err = c.withCollection(collection, func(coll Collection) error {
		info, err = coll.RemoveAll(condition)
		return err
	})
	return info, err
}

func (c *Connector) Drop(collection string) error {
	return c.withCollection(collection, func(coll Collection) error {
		return coll.DropCollection()
	})
}

// CreateCollection creates the collection explicitly. info may be nil.
func (c *Connector) CreateCollection(collection string, info *mgo.CollectionInfo) error {
	if collection == "" {
		return dbrouter.ErrEmptyCollection
	}
	session, err := c.open(collection)
	if err != nil {
		return err
	}
	defer session.Close()
	return session.DB("").CreateCollection(collection, info)
}

// Pagination returns page PageNumber of PageSize documents, skipping
// PageSize*(PageNumber-1) of them.
func (c *Connector) Pagination(collection string, condition interface{}, opts PageOpts) (Page, error) {
	if opts.PageSize < 1 || opts.PageNumber < 1 {
		return Page{}, dbrouter.ErrInvalidPage
	}

	cursor := c.Find(collection, condition).
		Skip(opts.PageSize * (opts.PageNumber - 1)).
		Limit(opts.PageSize)
	if len(opts.Sort) > 0 {
		cursor = cursor.Sort(opts.Sort...)
	}

	if opts.Count {
		n, err := cursor.Count()
		if err != nil {
			return Page{}, err
		}
		return Page{Count: n}, nil
	}

	items, err := cursor.All()
	if err != nil {
		return Page{}, err
	}
	return Page{Items: items, Count: len(items)}, nil
}

// Aggregate runs the pipeline and returns its output documents.
func (c *Connector) Aggregate(collection string, pipeline interface{}) ([]bson.M, error) {
	docs := []bson.M{}
	err := c.withCollection(collection, func(coll Collection) error {
		return coll.Pipe(pipeline).All(&docs)
	})
	if err != nil {
		return nil, err
	}
	return docs, nil
}
