package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kohakuhub/kohakuhub/internal/quota"
)

var (
	quotaUserID uint64
	quotaOrgID  uint64
)

func init() {
	quotaCmd.AddCommand(quotaRecomputeCmd)
	rootCmd.AddCommand(quotaCmd)

	quotaRecomputeCmd.Flags().Uint64Var(&quotaUserID, "user-id", 0, "recompute quota usage for this user")
	quotaRecomputeCmd.Flags().Uint64Var(&quotaOrgID, "org-id", 0, "recompute quota usage for this organization")
}

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "quota maintenance commands",
}

var quotaRecomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "recompute a namespace's used-bytes counters from the metadata store, correcting additive-update drift",
	Run: func(cmd *cobra.Command, args []string) {
		if quotaUserID == 0 && quotaOrgID == 0 {
			fmt.Fprintln(os.Stderr, "one of --user-id or --org-id is required")
			os.Exit(1)
		}

		_, store, log, err := bootstrap()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		owner := quota.Owner{}
		if quotaUserID != 0 {
			owner.UserID = &quotaUserID
		}
		if quotaOrgID != 0 {
			owner.OrganizationID = &quotaOrgID
		}

		if err := quota.Recompute(cmd.Context(), store.DB, store, owner); err != nil {
			log.Fatalf("recompute failed: %v", err)
		}
		log.Info("quota recomputed")
	},
}
