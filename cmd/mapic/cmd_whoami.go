package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(whoamiCmd)
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the configured user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		uid, err := a.userID()
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "user_id: %s\n", uid)

		if cfg.UserID == "" && cfg.API.AccessToken != "" {
			claims, err := a.verifier.Parse(cfg.API.AccessToken)
			if err != nil {
				return err
			}
			if claims.Email != "" {
				fmt.Fprintf(os.Stdout, "email:   %s\n", claims.Email)
			}
			if claims.ExpiresAt != nil {
				fmt.Fprintf(os.Stdout, "expires: %s\n", claims.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
			}
			fmt.Fprintf(os.Stdout, "verified: %t\n", a.verifier.Verifies())
		}
		return nil
	},
}
