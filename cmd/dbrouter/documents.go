package main

import (
	"context"
	"errors"

	"github.com/juju/mgo/v3/bson"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ice-blockchain/go-dbrouter/document"
)

var (
	findCmd = &cobra.Command{
		Use:   "find COLLECTION",
		Short: "Print the documents of a collection matching a filter",
		Args:  cobra.ExactArgs(1),
		RunE:  runFind,
	}
	countCmd = &cobra.Command{
		Use:   "count COLLECTION",
		Short: "Print the number of documents matching a filter",
		Args:  cobra.ExactArgs(1),
		RunE:  runCount,
	}
	pageCmd = &cobra.Command{
		Use:   "page COLLECTION",
		Short: "Print one page of the documents matching a filter",
		Args:  cobra.ExactArgs(1),
		RunE:  runPage,
	}
	shardCmd = &cobra.Command{
		Use:   "shard",
		Short: "Manage collection sharding",
	}
	shardAddCmd = &cobra.Command{
		Use:   "add COLLECTION",
		Short: "Enable sharding of the database and shard the collection by _id",
		Args:  cobra.ExactArgs(1),
		RunE:  runShardAdd,
	}
	shardRemoveCmd = &cobra.Command{
		Use:   "remove COLLECTION",
		Short: "Remove the shard of the collection",
		Args:  cobra.ExactArgs(1),
		RunE:  runShardRemove,
	}
)

func init() {
	for _, cmd := range []*cobra.Command{findCmd, countCmd, pageCmd} {
		cmd.Flags().String("filter", "", wrapString("query condition as a JSON object"))
	}
	findCmd.Flags().Int("limit", document.DefaultLimit, wrapString("maximum number of documents, capped at 500"))

	pageCmd.Flags().Int("size", 10, wrapString("page size"))
	pageCmd.Flags().Int("number", 1, wrapString("page number, starting at 1"))
	pageCmd.Flags().Bool("count", false, wrapString("print the number of documents on the page instead of the documents"))
	pageCmd.Flags().StringSlice("sort", nil, wrapString("sort fields, prefix with - for descending order"))

	shardCmd.AddCommand(shardAddCmd, shardRemoveCmd)
}

// withDocuments connects the document connector and runs fn with it.
func withDocuments(cmd *cobra.Command, fn func(ctx context.Context, c *document.Connector) (interface{}, error)) error {
	cfg, logger, ctx, cancel, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cancel()

	if len(cfg.Document.Groups) == 0 {
		return errors.New("no document groups configured")
	}
	conn, err := document.NewConnector(cfg.Document.Groups, document.Opts{
		DialTimeout: cfg.Document.DialTimeout,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.Connect(ctx); err != nil {
		return err
	}
	res, err := fn(ctx, conn)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), res)
}

func filter() (bson.M, error) {
	obj, err := parseJSONObject(viper.GetString("filter"))
	if err != nil {
		return nil, err
	}
	return bson.M(obj), nil
}

func runFind(cmd *cobra.Command, args []string) error {
	return withDocuments(cmd, func(_ context.Context, c *document.Connector) (interface{}, error) {
		condition, err := filter()
		if err != nil {
			return nil, err
		}
		return c.FindLimited(args[0], condition, viper.GetInt("limit"))
	})
}

func runCount(cmd *cobra.Command, args []string) error {
	return withDocuments(cmd, func(_ context.Context, c *document.Connector) (interface{}, error) {
		condition, err := filter()
		if err != nil {
			return nil, err
		}
		n, err := c.FindCount(args[0], condition)
		return map[string]int{"count": n}, err
	})
}

func runPage(cmd *cobra.Command, args []string) error {
	return withDocuments(cmd, func(_ context.Context, c *document.Connector) (interface{}, error) {
		condition, err := filter()
		if err != nil {
			return nil, err
		}
		return c.Pagination(args[0], condition, document.PageOpts{
			PageSize:   viper.GetInt("size"),
			PageNumber: viper.GetInt("number"),
			Count:      viper.GetBool("count"),
			Sort:       viper.GetStringSlice("sort"),
		})
	})
}

func runShardAdd(cmd *cobra.Command, args []string) error {
	return withDocuments(cmd, func(ctx context.Context, c *document.Connector) (interface{}, error) {
		return map[string]string{"sharded": args[0]}, c.AddShardCollection(ctx, args[0])
	})
}

func runShardRemove(cmd *cobra.Command, args []string) error {
	return withDocuments(cmd, func(ctx context.Context, c *document.Connector) (interface{}, error) {
		return map[string]string{"removed": args[0]}, c.RemoveShard(ctx, args[0])
	})
}
