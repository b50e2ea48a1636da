package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
	"golang.org/x/xerrors"

	"github.com/ponyo877/collab/server/adaptor/collabpb"
	"github.com/ponyo877/collab/server/domain"
)

const topHeartbeatInterval = 10 * time.Second

var topCmd = &cobra.Command{
	Use:   "top [room]",
	Short: "Shows a live board of a room's participants",
	Long: `Joins a room and shows its participants with presence, connection
quality and what they are doing, updated as events arrive.
Type a delta payload (JSON) at the bottom to publish it.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		room, err := targetRoom(args, 0)
		if err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), err)
			return
		}
		viewer, _ := cmd.Flags().GetBool("viewer")
		role := domain.RoleEditor
		if viewer {
			role = domain.RoleViewer
		}

		if err := runTop(cmd.Context(), collabClient, room, role); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Top UI error: %v\n", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(topCmd)
	topCmd.Flags().Bool("viewer", false, "Join read-only")
}

func statusColor(status domain.PresenceStatus) string {
	switch status {
	case domain.StatusOnline:
		return "green"
	case domain.StatusAway:
		return "yellow"
	default:
		return "gray"
	}
}

func qualityColor(quality domain.QualityTier) string {
	switch quality {
	case domain.QualityExcellent, domain.QualityGood:
		return "green"
	case domain.QualityFair:
		return "yellow"
	default:
		return "red"
	}
}

func drawBoard(table *tview.Table, b *board) {
	table.Clear()
	for col, title := range []string{"USER", "NAME", "STATUS", "QUALITY", "LATENCY", "CURSOR", "ACTIVITY"} {
		table.SetCell(0, col, tview.NewTableCell(title).SetTextColor(tcell.ColorYellow).SetSelectable(false))
	}
	for i, p := range b.rows() {
		row := i + 1
		name := p.DisplayName
		if p.ConnectionID == b.self.ConnectionID {
			name += " (you)"
		}
		cursor := "-"
		if p.Cursor != nil {
			cursor = fmt.Sprintf("%.0f,%.0f", p.Cursor.X, p.Cursor.Y)
		}
		table.SetCell(row, 0, tview.NewTableCell(p.UserID).SetTextColor(tcell.GetColor(p.Color)))
		table.SetCell(row, 1, tview.NewTableCell(name))
		table.SetCell(row, 2, tview.NewTableCell(fmt.Sprintf("[%s]%s", statusColor(p.Status), p.Status)))
		table.SetCell(row, 3, tview.NewTableCell(fmt.Sprintf("[%s]%s", qualityColor(p.Quality), p.Quality)))
		table.SetCell(row, 4, tview.NewTableCell(fmt.Sprintf("%dms", p.LatencyMS)).SetAlign(tview.AlignRight))
		table.SetCell(row, 5, tview.NewTableCell(cursor))
		table.SetCell(row, 6, tview.NewTableCell(describeActivity(p)))
	}
}

func runTop(parent context.Context, client collabpb.CollabClient, room string, role domain.Role) error {
	app := tview.NewApplication()

	table := tview.NewTable().SetFixed(1, 0)
	table.SetBorder(true).SetTitle(" " + room + " ")

	events := tview.NewTextView().
		SetDynamicColors(true).
		SetWordWrap(true).
		SetScrollable(true).
		ScrollToEnd()
	events.SetBorder(true).SetTitle(" events ")

	inputField := tview.NewInputField().
		SetLabel("delta ❯❯ ").
		SetFieldWidth(0).
		SetAcceptanceFunc(tview.InputFieldMaxLength(1024))

	flex := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(table, 0, 2, false).
		AddItem(events, 0, 1, false).
		AddItem(inputField, 1, 0, true)

	app.SetRoot(flex, true).SetFocus(inputField)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	s, err := joinRoom(ctx, client, room, role)
	if err != nil {
		return xerrors.Errorf("join %s: %w", room, err)
	}
	defer func() { _ = s.close() }()

	logf := func(format string, args ...any) {
		fmt.Fprintf(events, "[white][%s] ", time.Now().Format("15:04:05"))
		fmt.Fprintf(events, format+"\n", args...)
		events.ScrollToEnd()
	}

	b := newBoard()
	go func() {
		for {
			response, _, err := s.recv()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if err == io.EOF {
					app.QueueUpdateDraw(func() { logf("[red]Stream closed by server.") })
					return
				}
				app.QueueUpdateDraw(func() { logf("[red]Error receiving events: %v", err) })
				return
			}
			app.QueueUpdateDraw(func() {
				line, err := b.apply(response)
				if err != nil {
					logf("[red]Bad %s event: %v", response.Event, err)
					return
				}
				if line != "" {
					logf("%s", tview.Escape(line))
				}
				drawBoard(table, b)
			})
		}
	}()

	// Keep our own quality column meaningful.
	go func() {
		ticker := time.NewTicker(topHeartbeatInterval)
		defer ticker.Stop()
		for {
			if err := s.heartbeat(); err != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	// Publish the typed delta when Enter is pressed.
	inputField.SetDoneFunc(func(key tcell.Key) {
		if key != tcell.KeyEnter {
			return
		}
		text := strings.TrimSpace(inputField.GetText())
		if text == "" {
			return
		}
		inputField.SetText("")
		if !gjson.Valid(text) {
			logf("[red]Not valid JSON: %s", tview.Escape(text))
			return
		}
		frame := fmt.Sprintf(`{"event":%q,"data":{"payload":%s}}`, domain.RequestUpdate.String(), text)
		if err := s.sendFrame([]byte(frame)); err != nil {
			logf("[red]Failed to send delta: %v", err)
		}
	})

	// Leave and exit on Ctrl+C
	app.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if event.Key() == tcell.KeyCtrlC {
			cancel()
			app.Stop()
			return nil
		}
		return event
	})

	if err := app.Run(); err != nil {
		return err
	}
	return nil
}
