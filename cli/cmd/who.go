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

// whoCmd represents the who command
var whoCmd = &cobra.Command{
	Use:   "who [room]",
	Short: "Lists the participants of a room.",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		room, err := targetRoom(args, 0)
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), err)
			return
		}

		ctx, cancel := callContext(cmd)
		defer cancel()

		out, err := collabClient.ListParticipants(ctx, structArgs(map[string]any{"room_id": room}))
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error calling ListParticipants for %s: %v\n", room, err)
			return
		}
		var reply struct {
			Participants []domain.Participant `json:"participants"`
		}
		if err := decodeStruct(out, &reply); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error decoding participants:", err)
			return
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, p := range reply.Participants {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%dms\t%s\n",
				p.UserID, p.DisplayName, p.Status, p.Quality, p.LatencyMS, describeActivity(p))
		}
		_ = w.Flush()
	},
}

func describeActivity(p domain.Participant) string {
	switch {
	case p.Role == domain.RoleViewer:
		return "viewing"
	case p.ActiveElement != nil:
		return "editing " + *p.ActiveElement
	case p.Typing:
		return "typing"
	default:
		return ""
	}
}

func init() {
	rootCmd.AddCommand(whoCmd)
}
