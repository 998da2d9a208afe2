package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Remove duplicate businesses and generated sites from the data files",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("compact"); err != nil {
			return err
		}

		res, err := initStore(nil).Compact(cmd.Context())
		if err != nil {
			return err
		}

		zap.L().Info("compaction complete",
			zap.Int("businesses_before", res.BusinessesBefore),
			zap.Int("businesses_after", res.BusinessesAfter),
			zap.Int("sites_before", res.SitesBefore),
			zap.Int("sites_after", res.SitesAfter),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "businesses: %d -> %d\nsites: %d -> %d\n",
			res.BusinessesBefore, res.BusinessesAfter, res.SitesBefore, res.SitesAfter)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(compactCmd)
}
