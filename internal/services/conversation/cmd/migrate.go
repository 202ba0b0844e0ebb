package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the SQLite schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rootOpts.load()
			if err != nil {
				return err
			}
			_, closeDB, err := openGateway(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeDB()
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready at %s\n", cfg.SQLitePath)
			return nil
		},
	}
}
