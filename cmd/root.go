/*
Copyright © 2025 tieubaoca
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "jwt-assistant-be",
	Short: "JWT inspection API with a retrieval augmented assistant",
	Long: `jwt-assistant-be decodes, explains and signs JSON Web Tokens and
answers questions about them with an LLM grounded in a JWT knowledge base.

Use "start" to run the HTTP server and the ingest commands to build the
knowledge base from the command line.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config/config.yaml", "config file")
}
