/*
Copyright © 2025 tieubaoca
*/
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tieubaoca/jwt-assistant-be/logger"
	"github.com/tieubaoca/jwt-assistant-be/types"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Scrape the JWT reference sources into the knowledge base",
	Long: `Scrapes the built-in JWT sources, any --url pages and, with --discover,
pages found through web search, then prints the ingestion report as JSON.
--rebuild clears the knowledge collection before scraping the built-in
sources again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		urls, _ := cmd.Flags().GetStringArray("url")
		discover, _ := cmd.Flags().GetString("discover")
		rebuild, _ := cmd.Flags().GetBool("rebuild")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()
		cfg.RAG.Enabled = true

		ctx := cmd.Context()
		knowledge, err := newKnowledgeStack(ctx, cfg)
		if err != nil {
			return err
		}
		defer knowledge.Close()
		if err := knowledge.requireIndex(); err != nil {
			return err
		}

		var report types.IngestionReport
		if rebuild {
			report, err = knowledge.ingestion.UpdateKnowledgeBase(ctx, false)
		} else {
			report, err = knowledge.ingestion.IngestFromWeb(ctx, urls, discover)
		}
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
		if report.Status != types.IngestionSuccess {
			return fmt.Errorf("ingestion finished with status %s", report.Status)
		}
		return nil
	},
}

var resetCollectionCmd = &cobra.Command{
	Use:       "reset-collection [" + types.KnowledgeCollection + "|" + types.QACollection + "]",
	Short:     "Drop every record of a vector collection",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{types.KnowledgeCollection, types.QACollection},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cobra.OnlyValidArgs(cmd, args); err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer logger.Sync()
		cfg.RAG.Enabled = true

		ctx := cmd.Context()
		knowledge, err := newKnowledgeStack(ctx, cfg)
		if err != nil {
			return err
		}
		defer knowledge.Close()
		if err := knowledge.requireIndex(); err != nil {
			return err
		}

		if err := knowledge.index.ResetCollection(ctx, args[0]); err != nil {
			return err
		}
		fmt.Println("Reset collection", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(resetCollectionCmd)

	ingestCmd.Flags().StringArrayP("url", "u", []string{}, "Extra page to scrape (repeatable)")
	ingestCmd.Flags().StringP("discover", "d", "", "Web search query used to discover more pages")
	ingestCmd.Flags().BoolP("rebuild", "r", false, "Clear the knowledge collection and scrape the built-in sources again")
}
