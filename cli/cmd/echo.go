/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"golang.org/x/xerrors"

	"github.com/ponyo877/collab/server/domain"
)

// echoCmd represents the echo command
var echoCmd = &cobra.Command{
	Use:   "echo <payload_json> [room]",
	Short: "Publishes one delta to a room.",
	Long: `Joins a room, publishes the given delta payload as a diagram_update and
leaves again. The payload is a JSON object with a "type" field, e.g.
  echo '{"type":"shape_moved","shape_id":"s1","x":10,"y":20}' file:42`,
	Args: cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		payload := args[0]
		if !gjson.Valid(payload) {
			fmt.Fprintln(cmd.ErrOrStderr(), "Payload is not valid JSON.")
			return
		}
		room, err := targetRoom(args, 1)
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), err)
			return
		}

		ctx, cancel := callContext(cmd)
		defer cancel()

		if err := publish(ctx, room, json.RawMessage(payload)); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error publishing to %s: %v\n", room, err)
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Published %s to %s\n", gjson.Get(payload, "type").String(), room)
	},
}

// publish joins room, sends one update and waits until the server has
// handled it. The heartbeat ack arrives after the update was processed.
func publish(ctx context.Context, room string, payload json.RawMessage) error {
	s, err := joinRoom(ctx, collabClient, room, domain.RoleEditor)
	if err != nil {
		return err
	}
	defer func() { _ = s.close() }()

	if err := waitFor(s, domain.EventRoomSnapshot); err != nil {
		return err
	}
	if err := s.send(domain.RequestUpdate, map[string]any{"payload": payload}); err != nil {
		return err
	}
	if err := s.heartbeat(); err != nil {
		return err
	}
	return waitFor(s, domain.EventHeartbeatAck)
}

// waitFor reads events until one of the given type arrives. An error
// event ends the wait.
func waitFor(s *roomStream, event domain.StreamEventType) error {
	for {
		response, _, err := s.recv()
		if err != nil {
			return err
		}
		switch response.Event {
		case event.String():
			return nil
		case domain.EventError.String():
			return xerrors.Errorf("%s: %s",
				gjson.GetBytes(response.Data, "code").String(),
				gjson.GetBytes(response.Data, "message").String())
		}
	}
}

func init() {
	rootCmd.AddCommand(echoCmd)
}
