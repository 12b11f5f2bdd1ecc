package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(downloadCmd)
}

var downloadCmd = &cobra.Command{
	Use:   "download <id>",
	Short: "Save a generation's image to the local cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(loadConfig())
		if err != nil {
			return err
		}
		defer a.close()

		ctx := cmd.Context()
		if err := a.connect(ctx); err != nil {
			return err
		}

		snap := a.sync.Snapshot()
		gen, ok := snap.Find(args[0])
		if !ok {
			return fmt.Errorf("generation not found: %s", args[0])
		}
		path, err := a.gallery.Save(ctx, snap.UserID, gen)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, path)
		return nil
	},
}
