/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ponyo877/collab/server/domain"
)

// grepCmd represents the grep command
var grepCmd = &cobra.Command{
	Use:   "grep <pattern> [room]",
	Short: "Searches the audit log of a room.",
	Long: `Prints the join, leave and expire events of a room whose user id,
display name or action match the regular expression.`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		pattern := args[0]
		room, err := targetRoom(args, 1)
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), err)
			return
		}
		limit, _ := cmd.Flags().GetInt("max-count")

		ctx, cancel := callContext(cmd)
		defer cancel()

		out, err := collabClient.SearchAudit(ctx, structArgs(map[string]any{
			"room_id": room,
			"pattern": pattern,
			"limit":   limit,
		}))
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error calling SearchAudit for pattern '%s' in %s: %v\n", pattern, room, err)
			return
		}
		var reply struct {
			Events []domain.AuditEvent `json:"events"`
		}
		if err := decodeStruct(out, &reply); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error decoding events:", err)
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, event := range reply.Events {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				event.Time.Local().Format("2006-01-02 15:04:05"),
				event.Action,
				event.UserID,
				event.DisplayName,
			)
		}
		_ = w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(grepCmd)
	grepCmd.Flags().IntP("max-count", "m", 100, "Stop after this many events")
}
