package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "create or update the metadata store schema",
	Run: func(cmd *cobra.Command, args []string) {
		_, store, log, err := bootstrap()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if err := store.Migrate(); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		log.Info("migration complete")
	},
}
