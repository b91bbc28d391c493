package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/user/aegis/internal/room"
	"github.com/user/aegis/internal/session"
	"github.com/user/aegis/internal/types"
)

func init() {
	rootCmd.AddCommand(roomCmd)
	roomCmd.AddCommand(roomListCmd, roomOpenCmd, roomCloseCmd, roomShowCmd,
		roomSayCmd, roomSubmitCmd, roomTakeoverCmd, roomPanelCmd, roomTailCmd)

	roomCmd.PersistentFlags().String("server", "", "server URL (default derived from http.listen)")
	roomShowCmd.Flags().Int("limit", 20, "transcript entries to show")
	roomTailCmd.Flags().String("identity", "observer", "participant identity to join as")
}

func roomClient(cmd *cobra.Command) *apiClient {
	base, _ := cmd.Flags().GetString("server")
	if base == "" {
		base = localURL(loadConfig().HTTP.Listen)
	}
	return newAPIClient(base)
}

func formatEntry(e types.TranscriptEntry) string {
	return fmt.Sprintf("[%s] %s: %s", e.Timestamp.Local().Format("15:04:05"), e.Sender, e.Text)
}

type roomSummary struct {
	Room       string `json:"room"`
	Mode       string `json:"mode"`
	Panel      string `json:"panel"`
	Entries    int    `json:"entries"`
	Connection string `json:"connection"`
}

type roomSnapshot struct {
	Room         string                  `json:"room"`
	Mode         string                  `json:"mode"`
	Panel        string                  `json:"panel"`
	Idle         bool                    `json:"idle"`
	Connection   string                  `json:"connection"`
	Participants []types.Participant     `json:"participants"`
	Transcript   []types.TranscriptEntry `json:"transcript"`
	Notices      []room.Notice           `json:"notices"`
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}

var roomCmd = &cobra.Command{
	Use:   "room",
	Short: "Inspect and drive interview rooms on a running server",
}

var roomListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open rooms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var rooms []roomSummary
		if err := roomClient(cmd).do(http.MethodGet, "/api/rooms", nil, &rooms); err != nil {
			return err
		}
		if len(rooms) == 0 {
			fmt.Println("No open rooms.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ROOM\tMODE\tPANEL\tENTRIES\tCONNECTION")
		for _, r := range rooms {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", r.Room, r.Mode, orNone(r.Panel), r.Entries, r.Connection)
		}
		return w.Flush()
	},
}

var roomOpenCmd = &cobra.Command{
	Use:   "open <room>",
	Short: "Open a room and join it as the operator",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{"room": args[0]}
		if err := roomClient(cmd).do(http.MethodPost, "/api/rooms", body, nil); err != nil {
			return err
		}
		fmt.Printf("Room %s opened.\n", args[0])
		return nil
	},
}

var roomCloseCmd = &cobra.Command{
	Use:   "close <room>",
	Short: "Close a room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := roomClient(cmd).do(http.MethodDelete, roomPath(args[0]), nil, nil); err != nil {
			return err
		}
		fmt.Printf("Room %s closed.\n", args[0])
		return nil
	},
}

var roomShowCmd = &cobra.Command{
	Use:   "show <room>",
	Short: "Show a room's state and recent transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		var snap roomSnapshot
		if err := roomClient(cmd).do(http.MethodGet, roomPath(args[0]), nil, &snap); err != nil {
			return err
		}

		fmt.Printf("Room:        %s\n", snap.Room)
		fmt.Printf("Mode:        %s\n", snap.Mode)
		fmt.Printf("Panel:       %s\n", orNone(snap.Panel))
		fmt.Printf("Connection:  %s\n", snap.Connection)
		fmt.Printf("Idle:        %t\n", snap.Idle)
		ids := make([]string, 0, len(snap.Participants))
		for _, p := range snap.Participants {
			ids = append(ids, string(p.Identity))
		}
		fmt.Printf("Participants: %s\n", orNone(strings.Join(ids, ", ")))
		for _, n := range snap.Notices {
			fmt.Printf("Notice (%s): %s\n", n.Kind, n.Message)
		}

		entries := snap.Transcript
		if limit > 0 && len(entries) > limit {
			entries = entries[len(entries)-limit:]
		}
		fmt.Println()
		for _, e := range entries {
			fmt.Println(formatEntry(e))
		}
		return nil
	},
}

var roomSayCmd = &cobra.Command{
	Use:   "say <room> <text>...",
	Short: "Post a chat line as the operator",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{"text": strings.Join(args[1:], " ")}
		var entry types.TranscriptEntry
		if err := roomClient(cmd).do(http.MethodPost, roomPath(args[0], "chat"), body, &entry); err != nil {
			return err
		}
		fmt.Println(formatEntry(entry))
		return nil
	},
}

var roomSubmitCmd = &cobra.Command{
	Use:   "submit <room> [file]",
	Short: "Submit code to the interviewer from a file or stdin",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			code []byte
			err  error
		)
		if len(args) == 2 && args[1] != "-" {
			code, err = os.ReadFile(args[1])
		} else {
			code, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return fmt.Errorf("read code: %w", err)
		}

		var resp struct {
			Published bool   `json:"published"`
			Error     string `json:"error"`
		}
		body := map[string]string{"code": string(code)}
		if err := roomClient(cmd).do(http.MethodPost, roomPath(args[0], "code"), body, &resp); err != nil {
			return err
		}
		if !resp.Published {
			fmt.Printf("Submission recorded but not delivered: %s\n", resp.Error)
			return nil
		}
		fmt.Println("Submission sent.")
		return nil
	},
}

var roomTakeoverCmd = &cobra.Command{
	Use:   "takeover <room>",
	Short: "Take over the interview from the AI",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Engaged bool `json:"engaged"`
		}
		if err := roomClient(cmd).do(http.MethodPost, roomPath(args[0], "takeover"), nil, &resp); err != nil {
			return err
		}
		if !resp.Engaged {
			fmt.Println("Takeover already engaged.")
			return nil
		}
		fmt.Println(room.TakeoverText)
		return nil
	},
}

var roomPanelCmd = &cobra.Command{
	Use:   "panel <room> <terminal|notepad>",
	Short: "Toggle the terminal or notepad panel",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Panel string `json:"panel"`
		}
		body := map[string]string{"panel": args[1]}
		if err := roomClient(cmd).do(http.MethodPost, roomPath(args[0], "panel"), body, &resp); err != nil {
			return err
		}
		fmt.Printf("Panel: %s\n", orNone(resp.Panel))
		return nil
	},
}

var roomTailCmd = &cobra.Command{
	Use:   "tail <room>",
	Short: "Join a room through the relay and print its transcript as it arrives",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		identity, _ := cmd.Flags().GetString("identity")
		base, _ := cmd.Flags().GetString("server")
		cfg := loadConfig()
		setupLogging(cfg)
		if base == "" {
			base = localURL(cfg.HTTP.Listen)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		client, err := session.Dial(dialCtx, session.Config{
			URL:         base,
			Room:        types.RoomName(args[0]),
			Identity:    types.ParticipantID(identity),
			Kind:        "observer",
			MaxAttempts: 5,
		})
		cancel()
		if err != nil {
			return fmt.Errorf("join room: %w", err)
		}
		defer client.Close()

		view := room.NewView(types.RoomName(args[0]), client,
			room.WithConfig(roomConfig(cfg)),
			room.WithEntryHook(func(e types.TranscriptEntry) {
				fmt.Println(formatEntry(e))
			}),
		)
		defer view.Close()

		alerts, unsubscribe := view.Board().Subscribe(16)
		defer unsubscribe()
		go func() {
			for ev := range alerts {
				if ev.Type == room.NoticeRaised && ev.Notice.Kind == room.KindAlert {
					fmt.Printf("!! %s\n", ev.Notice.Message)
				}
			}
		}()

		fmt.Fprintf(os.Stderr, "Joined %s as %s. Press Ctrl-C to leave.\n", args[0], identity)
		if err := view.Run(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}
