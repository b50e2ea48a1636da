/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config [new_display_name]",
	Short: "Gets or sets the display name.",
	Long: `Manages configuration for the collab client.
If called without arguments, it displays the current configuration.
If called with an argument, it sets the display name shown to other
participants and stores it in the configuration file.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "Server: %s\n", viper.GetString(grpcServerAddressKey))
			fmt.Fprintf(cmd.OutOrStdout(), "User ID: %s\n", viper.GetString(userIDKey))
			fmt.Fprintf(cmd.OutOrStdout(), "Display Name: %s\n", viper.GetString(displayNameKey))
			fmt.Fprintf(cmd.OutOrStdout(), "Current Room: %s\n", viper.GetString(currentRoomKey))
			return
		}

		viper.Set(displayNameKey, args[0])
		if err := saveConfig(); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "Error writing config file:", err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Display name set to: %s\n", args[0])
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
