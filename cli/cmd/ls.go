/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// lsCmd represents the ls command
var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "Lists rooms.",
	Long: `Lists the rooms that currently have participants, followed by the
registered rooms nobody is in. LIVE rows show the participant count.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := callContext(cmd)
		defer cancel()

		reply, err := listRooms(ctx, collabClient)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error calling ListRooms: %v\n", err)
			return
		}

		if len(reply.Active) == 0 && len(reply.Registered) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No rooms.")
			return
		}

		live := map[string]bool{}
		for _, room := range reply.Active {
			live[room.RoomID] = true
			fmt.Fprintf(cmd.OutOrStdout(), "LIVE %3d  %s %s\n", room.Participants, formatTime(room.CreatedAt), room.RoomID)
		}
		for _, room := range reply.Registered {
			if live[room.ID] {
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "IDLE   -  %s %s\n", formatTime(room.CreatedAt), room.ID)
		}
	},
}

// formatTime renders t the way ls -l does.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "           "
	}
	t = t.Local()
	return fmt.Sprintf("%s %2d %s", t.Format("Jan"), t.Day(), t.Format("15:04"))
}

func init() {
	rootCmd.AddCommand(lsCmd)
}
