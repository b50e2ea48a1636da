/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/ponyo877/collab/server/domain"
)

var follow bool // Flag for -f option

// tailCmd represents the tail command
var tailCmd = &cobra.Command{
	Use:   "tail [-f] [room]",
	Short: "Prints the raw event stream of a room.",
	Long: `Joins a room as a viewer and prints the events it receives, one JSON
frame per line. Without -f it prints the room snapshot and leaves.
With -f it keeps following until interrupted.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		room, err := targetRoom(args, 0)
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), err)
			return
		}

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer cancel()

		s, err := joinRoom(ctx, collabClient, room, domain.RoleViewer)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error joining %s: %v\n", room, err)
			return
		}
		defer func() { _ = s.close() }()

		for {
			response, frame, err := s.recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				if ctx.Err() == context.Canceled {
					break
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Error receiving events for %s: %v\n", room, err)
				break
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(frame))
			if response.Event == domain.EventError.String() {
				fmt.Fprintln(cmd.ErrOrStderr(), gjson.GetBytes(response.Data, "message").String())
				return
			}
			if !follow && response.Event == domain.EventRoomSnapshot.String() {
				return
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(tailCmd)
	tailCmd.Flags().BoolVarP(&follow, "follow", "f", false, "Keep printing events as they arrive")
}
