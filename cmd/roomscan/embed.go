package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/roomscan-mcp/internal/app"
	"github.com/dshills/roomscan-mcp/internal/embedder"
)

var embedCmd = &cobra.Command{
	Use:   "embed TEXT...",
	Short: "Embed text with the configured provider and print a summary",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runEmbed,
}

type embedSummary struct {
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Dimension int       `json:"dimension"`
	Head      []float32 `json:"head"`
}

func runEmbed(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	emb, err := app.NewEmbedder(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = emb.Close() }()

	res, err := emb.GenerateEmbedding(cmd.Context(), embedder.EmbeddingRequest{Text: strings.Join(args, " ")})
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}

	head := res.Vector
	if len(head) > 8 {
		head = head[:8]
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(embedSummary{
		Provider:  res.Provider,
		Model:     res.Model,
		Dimension: len(res.Vector),
		Head:      head,
	})
}
