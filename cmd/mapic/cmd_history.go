package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/mapic/pkg/imagegen"
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyDeleteCmd)
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Manage generation history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List generations, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(loadConfig())
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.connect(cmd.Context()); err != nil {
			return err
		}

		history := a.sync.Snapshot().History
		if len(history) == 0 {
			fmt.Println("No generations found.")
			return nil
		}
		return printHistory(history, "")
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>...",
	Short: "Delete generations from history",
	Args:  cobra.MinimumNArgs(1),
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

		errs := make(chan error, len(args))
		for _, id := range args {
			go func() {
				if err := a.sync.DeleteGeneration(ctx, id); err != nil {
					errs <- fmt.Errorf("%s: %w", id, err)
					return
				}
				errs <- nil
			}()
		}

		var failed int
		for range args {
			if err := <-errs; err != nil {
				fmt.Fprintf(os.Stderr, "Delete failed: %s\n", imagegen.UserMessage(err))
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d deletes failed", failed, len(args))
		}
		fmt.Fprintf(os.Stdout, "Deleted %d generation(s).\n", len(args))
		return nil
	},
}

// printHistory writes a table of history, marking the selected id.
func printHistory(history []imagegen.Generation, selected string) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, " \tID\tMODEL\tCREATED\tPROMPT")
	for _, g := range history {
		mark := " "
		if g.ID == selected {
			mark = "*"
		}
		created := ""
		if !g.CreatedAt.IsZero() {
			created = g.CreatedAt.Local().Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", mark, g.ID, g.Model, created, truncate(g.Prompt, 60))
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
