/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// pwdCmd represents the pwd command
var pwdCmd = &cobra.Command{
	Use:   "pwd",
	Short: "Prints the current room.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		room := viper.GetString(currentRoomKey)
		if room == "" {
			fmt.Fprintln(cmd.ErrOrStderr(), "No current room.")
			return
		}
		fmt.Fprintln(cmd.OutOrStdout(), room)
	},
}

func init() {
	rootCmd.AddCommand(pwdCmd)
}
