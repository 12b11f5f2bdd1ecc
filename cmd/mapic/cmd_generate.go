package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	generateModel    string
	generateDownload bool
)

func init() {
	generateCmd.Flags().StringVarP(&generateModel, "model", "m", "", "model id (default from config)")
	generateCmd.Flags().BoolVarP(&generateDownload, "download", "d", false, "save the image to the local cache")
	rootCmd.AddCommand(generateCmd)
}

var generateCmd = &cobra.Command{
	Use:   "generate <prompt>",
	Short: "Generate an image from a prompt",
	Args:  cobra.ExactArgs(1),
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

		model := generateModel
		if model == "" {
			model = cfg.DefaultModel
		}
		gen, err := a.sync.SubmitGeneration(ctx, args[0], model)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "%s\t%s\n", gen.ID, gen.PublicURL)
		if generateDownload {
			path, err := a.gallery.Save(ctx, a.sync.Snapshot().UserID, gen)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "Saved %s\n", path)
		}
		return nil
	},
}
