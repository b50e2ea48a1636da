package cmd

import (
	"encoding/json"
	"fmt"
	"regexp"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/xerrors"
)

var auditCmd = &cobra.Command{
	Use:   "audit <room_id> [pattern]",
	Short: "Prints the join and leave history of a room.",
	Long: `Prints the audit log of a room. With a pattern, only events whose
user id, display name or action match the regular expression are shown.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID := args[0]
		var pattern string
		if len(args) == 2 {
			pattern = args[1]
			if _, err := regexp.Compile(pattern); err != nil {
				return xerrors.Errorf("invalid pattern: %w", err)
			}
		}
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx, cancel := commandContext(cmd)
		defer cancel()
		db, repo, err := openRepository(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		events, err := repo.SearchAuditEvents(ctx, roomID, pattern, limit)
		if err != nil {
			return err
		}
		if asJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, event := range events {
				if err := enc.Encode(event); err != nil {
					return err
				}
			}
			return nil
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, event := range events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				event.Time.Local().Format("2006-01-02 15:04:05"),
				event.Action,
				event.UserID,
				event.Role,
				event.Remote,
			)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().IntP("limit", "n", 100, "Maximum number of events")
	auditCmd.Flags().Bool("json", false, "Print one JSON object per event")
}
