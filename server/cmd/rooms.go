package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/ponyo877/collab/server/domain"
)

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "Manages the room directory.",
	Long: `Manages the directory of diagram ids that may be joined when the
server runs with require_registered_rooms.`,
}

var roomsAddCmd = &cobra.Command{
	Use:   "add <room_id...>",
	Short: "Registers rooms.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		db, repo, err := openRepository(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		for _, roomID := range args {
			if !domain.ValidRoomID(roomID) {
				return xerrors.Errorf("invalid room id %q", roomID)
			}
			if err := repo.CreateRoom(ctx, roomID); err != nil {
				return xerrors.Errorf("register %s: %w", roomID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered: %s\n", roomID)
		}
		return nil
	},
}

var roomsRmCmd = &cobra.Command{
	Use:   "rm <room_id...>",
	Short: "Removes rooms from the directory.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		db, repo, err := openRepository(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		for _, roomID := range args {
			if err := repo.DeleteRoom(ctx, roomID); err != nil {
				return xerrors.Errorf("remove %s: %w", roomID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed: %s\n", roomID)
		}
		return nil
	},
}

var roomsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "Lists registered rooms.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		db, repo, err := openRepository(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		rooms, err := repo.ListRooms(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, room := range rooms {
			fmt.Fprintf(w, "%s\t%s\n", room.CreatedAt.Local().Format("Jan _2 15:04"), room.ID)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(roomsCmd)
	roomsCmd.AddCommand(roomsAddCmd, roomsRmCmd, roomsLsCmd)
}
