package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/mapic/pkg/imagegen"
)

func init() {
	rootCmd.AddCommand(modelsCmd)
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List supported models",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME")
		for _, m := range imagegen.Models() {
			id := m.ID
			if id == imagegen.DefaultModel {
				id += " (default)"
			}
			fmt.Fprintf(w, "%s\t%s\n", id, m.Name)
		}
		return w.Flush()
	},
}
