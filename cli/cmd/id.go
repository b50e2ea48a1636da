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

// idCmd represents the id command
var idCmd = &cobra.Command{
	Use:   "id",
	Short: "Prints the identity used to join rooms.",
	Long: `Prints the user id, display name and the cursor color other
participants see for you in the current room.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		userID := viper.GetString(userIDKey)
		name := viper.GetString(displayNameKey)
		if name == "" {
			name = userID
		}
		fmt.Fprintf(cmd.OutOrStdout(), "uid=%s name=%s", userID, name)
		if room := viper.GetString(currentRoomKey); room != "" {
			fmt.Fprintf(cmd.OutOrStdout(), " room=%s color=%s", room, domain.ColorFor(room, userID))
		}
		fmt.Fprintln(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(idCmd)
}
