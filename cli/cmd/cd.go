/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ponyo877/collab/server/domain"
)

// cdCmd represents the cd command
var cdCmd = &cobra.Command{
	Use:   "cd [room]",
	Short: "Changes the current room.",
	Long: `Changes the room that who, tail, top, echo and grep use when no room
is given. Without an argument the current room is cleared.
The room is stored in the configuration file.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var room string
		if len(args) == 1 {
			room = args[0]
			if !domain.ValidRoomID(room) {
				fmt.Fprintf(cmd.ErrOrStderr(), "Invalid room id: %s\n", room)
				return
			}
		}

		viper.Set(currentRoomKey, room)
		if err := saveConfig(); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error writing config file:", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(cdCmd)
}
