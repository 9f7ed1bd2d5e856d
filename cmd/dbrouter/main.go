// Command dbrouter runs statements and document queries through the
// replication-aware connectors configured in a file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const Version = "0.3.0"

var (
	// rootCmd represents the base command when called without any subcommands
	rootCmd = &cobra.Command{
		Use:   "dbrouter",
		Short: "replication-aware database router",
		Long: fmt.Sprintf(`dbrouter (v%s)

Routes SQL statements to the master or a slave of a MySQL replication group
and runs document queries on the master of a MongoDB shard.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dbrouter",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dbrouter v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "dbrouter.yaml", wrapString("configuration file (yaml, json or toml)"))
	rootCmd.PersistentFlags().Duration("timeout", defaultTimeout, wrapString("timeout of a whole command"))
	rootCmd.PersistentFlags().String("log-level", "warn", wrapString("log level (debug, info, warn, error)"))

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(queryCmd, execCmd, routeCmd, statusCmd)
	rootCmd.AddCommand(findCmd, countCmd, pageCmd, shardCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
