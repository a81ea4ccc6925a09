package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/buildforge/requestd/pkg/configuration"
)

func newUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage workflow users",
	}
	cmd.AddCommand(newUserAddCmd())
	return cmd
}

func newUserAddCmd() *cobra.Command {
	var email string
	var admin bool

	cmd := &cobra.Command{
		Use:   "add <login>",
		Short: "Create or update a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf := configuration.Use()
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			pool, err := pgxpool.New(ctx, conf.Database.Opts)
			if err != nil {
				return err
			}
			defer pool.Close()

			_, err = pool.Exec(ctx, `
				INSERT INTO users (login, email, admin)
				VALUES ($1, $2, $3)
				ON CONFLICT (login) DO UPDATE SET email = EXCLUDED.email, admin = EXCLUDED.admin
			`, args[0], email, admin)
			return err
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "user email address")
	cmd.Flags().BoolVar(&admin, "admin", false, "grant admin rights")
	return cmd
}
