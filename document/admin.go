package document

import (
	"context"

	"github.com/juju/mgo/v3/bson"

	"github.com/ice-blockchain/go-dbrouter"
)

// AddShardCollection enables sharding on the database of the first group
// and then shards the collection by _id. It uses a dedicated admin session
// that is closed before returning; a failing step aborts the rest.
func (c *Connector) AddShardCollection(ctx context.Context, collection string) error {
	return c.admin(ctx, collection, func(session Session, db string) error {
		if err := c.runAdmin(session, "enableSharding", db, bson.D{
			{Name: "enableSharding", Value: db},
		}); err != nil {
			return err
		}
		ns := db + "." + collection
		return c.runAdmin(session, "shardCollection", ns, bson.D{
			{Name: "shardCollection", Value: ns},
			{Name: "key", Value: bson.M{"_id": 1}},
		})
	})
}

// RemoveShard runs removeShard for the collection namespace, with the same
// session handling as AddShardCollection.
func (c *Connector) RemoveShard(ctx context.Context, collection string) error {
	return c.admin(ctx, collection, func(session Session, db string) error {
		ns := db + "." + collection
		return c.runAdmin(session, "removeShard", ns, bson.D{
			{Name: "removeShard", Value: ns},
		})
	})
}

func (c *Connector) admin(ctx context.Context, collection string,
	run func(session Session, db string) error) error {
	if collection == "" {
		return dbrouter.ErrEmptyCollection
	}
	if c.lifecycle.State() == dbrouter.Closed {
		return dbrouter.ErrClosed
	}

	cfg := c.groups[0].Master
	session, err := c.dial(ctx, cfg)
	if err != nil {
		return err
	}
	defer session.Close()

	db := cfg.Database
	if db == "" {
		db = session.DB("").Name()
	}
	return run(session, db)
}

func (c *Connector) runAdmin(session Session, command, ns string, cmd bson.D) error {
	var result bson.M
	err := session.Run(cmd, &result)
	c.logger.Report(dbrouter.AdminCommandEvent{
		BaseEvent: dbrouter.NewBaseEvent(component),
		Command:   command,
		Namespace: ns,
		Error:     err,
	})
	return err
}
