package main

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/buildforge/requestd/pkg/configuration"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate [up|down|status]",
		Short: "Apply database migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := configuration.Use()
			db, err := sql.Open("postgres", conf.Database.Opts)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := goose.SetDialect("postgres"); err != nil {
				return err
			}
			switch args[0] {
			case "up":
				return goose.Up(db, conf.MigrationsDir)
			case "down":
				return goose.Down(db, conf.MigrationsDir)
			case "status":
				return goose.Status(db, conf.MigrationsDir)
			default:
				return fmt.Errorf("unknown migrate subcommand %q", args[0])
			}
		},
	}
	return cmd
}
