/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rmroomCmd represents the rmroom command
var rmroomCmd = &cobra.Command{
	Use:   "rmroom <room...>",
	Short: "Removes rooms from the directory.",
	Long: `Removes one or more diagram ids from the directory. People already in
the room stay; new joins are refused when the server requires registration.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := callContext(cmd)
		defer cancel()

		for _, room := range args {
			if _, err := collabClient.UnregisterRoom(ctx, structArgs(map[string]any{"room_id": room})); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Error calling UnregisterRoom for %s: %v\n", room, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed: %s\n", room)

			if viper.GetString(currentRoomKey) == room {
				viper.Set(currentRoomKey, "")
				if err := saveConfig(); err != nil {
					fmt.Fprintln(cmd.ErrOrStderr(), "Error writing config file:", err)
				}
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(rmroomCmd)
}
