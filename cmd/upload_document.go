/*
Copyright © 2025 tieubaoca
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tieubaoca/jwt-assistant-be/logger"
	"github.com/tieubaoca/jwt-assistant-be/types"
)

// uploadDocumentCmd represents the uploadDocument command
var uploadDocumentCmd = &cobra.Command{
	Use:   "ingest-file [path...]",
	Short: "Add local documents to the knowledge base",
	Long: `Reads text, markdown and HTML documents and stores their chunks in the
knowledge collection. Directories are walked recursively; unsupported files
are skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reinit, _ := cmd.Flags().GetBool("reinit")

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

		if reinit {
			if err := knowledge.index.ResetCollection(ctx, types.KnowledgeCollection); err != nil {
				return err
			}
			fmt.Println("Reset collection", types.KnowledgeCollection)
		}

		var totalFiles, totalChunks int
		for _, path := range args {
			files, chunks, err := knowledge.files.IngestPath(ctx, path)
			if err != nil {
				return fmt.Errorf("failed to ingest %s: %w", path, err)
			}
			fmt.Printf("Ingested %s: %d files, %d chunks\n", path, files, chunks)
			totalFiles += files
			totalChunks += chunks
		}
		fmt.Printf("Done: %d files, %d chunks\n", totalFiles, totalChunks)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(uploadDocumentCmd)

	uploadDocumentCmd.Flags().BoolP("reinit", "r", false, "Clear the knowledge collection first")
}
