package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/mapic/internal/types"
)

var activityLimit int

func init() {
	activityCmd.Flags().IntVarP(&activityLimit, "limit", "n", 20, "number of entries to show (0 for all)")
	rootCmd.AddCommand(activityCmd)
}

var activityCmd = &cobra.Command{
	Use:   "activity",
	Short: "Show recent activity for the configured user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(loadConfig())
		if err != nil {
			return err
		}
		defer a.close()

		uid, err := a.userID()
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		entries, err := a.activity.Tail(ctx, types.UserID(uid), activityLimit)
		if err != nil {
			return fmt.Errorf("read activity: %w", err)
		}
		if len(entries) == 0 {
			fmt.Println("No activity recorded.")
			return nil
		}

		total, err := a.activity.Count(ctx, types.UserID(uid))
		if err != nil {
			total = int64(len(entries))
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tTIME\tTYPE\tGENERATION\tDETAIL")
		for _, e := range entries {
			detail := e.Prompt
			if e.Error != "" {
				detail = e.Error
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				e.Seq,
				e.At.Local().Format("2006-01-02 15:04:05"),
				e.Type,
				e.GenerationID,
				truncate(detail, 60),
			)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%d of %d entries.\n", len(entries), total)
		return nil
	},
}
