package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/dshills/roomscan-mcp/internal/app"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print scan counts and storage details",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}

		store, err := app.OpenStorage(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		status, err := store.GetStatus(cmd.Context())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	},
}
