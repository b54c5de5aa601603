/*
Copyright © 2025 tieubaoca
*/
package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/tieubaoca/jwt-assistant-be/utils"
)

var adminTokenCmd = &cobra.Command{
	Use:   "admin-token",
	Short: "Issue a bearer token for the knowledge management routes",
	RunE: func(cmd *cobra.Command, args []string) error {
		subject, _ := cmd.Flags().GetString("subject")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Server.AdminSecret == "" {
			return errors.New("server.admin_secret (ADMIN_SECRET) is not set")
		}

		token, err := utils.GenerateAdminToken(subject, cfg.Server.AdminSecret, ttl)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(adminTokenCmd)

	adminTokenCmd.Flags().StringP("subject", "s", "admin", "Token subject")
	adminTokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
}
