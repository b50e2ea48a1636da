/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// mkroomCmd represents the mkroom command
var mkroomCmd = &cobra.Command{
	Use:   "mkroom <room...>",
	Short: "Registers rooms in the directory.",
	Long:  `Registers one or more diagram ids so they can be joined when the server only allows registered rooms.`,
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := callContext(cmd)
		defer cancel()

		for _, room := range args {
			if _, err := collabClient.RegisterRoom(ctx, structArgs(map[string]any{"room_id": room})); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error calling RegisterRoom for %s: %v\n", room, err)
				continue // Continue with the next room if one fails
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Room registered: %s\n", room)
		}
	},
}

func init() {
	rootCmd.AddCommand(mkroomCmd)
}
