package main

import (
	"log"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requestctl",
		Short: "Operational tooling for the request workflow service",
	}
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newUserCmd())
	return cmd
}

func execute() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatal(err)
	}
}
