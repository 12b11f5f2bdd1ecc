package main

import (
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(shellCmd)
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Interactive generation session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		if err := a.connect(ctx); err != nil {
			return err
		}

		snap := a.sync.Snapshot()
		sh := newShell(a.sync, a.gallery.Save, cfg.DefaultModel, os.Stdout)
		sh.printf("Signed in as %s with %d generation(s). Type help for commands.\n", snap.UserID, len(snap.History))
		return sh.run(ctx, os.Stdin)
	},
}
