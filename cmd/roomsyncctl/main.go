package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/matheus3301/roomsync/internal/api"
	"github.com/matheus3301/roomsync/internal/lock"
	"github.com/matheus3301/roomsync/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if _, held, _ := lock.Read(session.Dir(sessionName)); !held {
		fail(fmt.Errorf("no daemon running for session %q (start roomsyncd)", sessionName))
	}

	c, err := api.Dial(session.SocketPath(sessionName))
	if err != nil {
		fail(fmt.Errorf("cannot connect to daemon for session %q: %w", sessionName, err))
	}
	defer func() { _ = c.Close() }()

	if args[0] == "watch" {
		cmdWatch(c, *jsonFlag)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "rooms":
		cmdRooms(ctx, c, *jsonFlag)
	case "messages":
		fs := flag.NewFlagSet("messages", flag.ExitOnError)
		limit := fs.Int("limit", 20, "number of messages to show")
		refresh := fs.Bool("refresh", false, "fetch from the server first")
		_ = fs.Parse(args[1:])
		if fs.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "usage: roomsyncctl messages [--limit N] [--refresh] <room-id>")
			os.Exit(1)
		}
		cmdMessages(ctx, c, fs.Arg(0), *limit, *refresh, *jsonFlag)
	case "read":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: roomsyncctl read <room-id> <message-id>...")
			os.Exit(1)
		}
		cmdRead(ctx, c, args[1], args[2:], *jsonFlag)
	case "sync":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "usage: roomsyncctl sync <start|status>")
			os.Exit(1)
		}
		cmdSync(ctx, c, args[1], *jsonFlag)
	case "logout":
		if _, err := c.Logout(ctx, &api.LogoutRequest{}); err != nil {
			fail(err)
		}
		fmt.Println("Logged out. Cache cleared.")
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: roomsyncctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                    Show sync status")
	fmt.Fprintln(os.Stderr, "  rooms                     List rooms, most recent first")
	fmt.Fprintln(os.Stderr, "  messages <room-id>        List a room's messages")
	fmt.Fprintln(os.Stderr, "  read <room-id> <msg>...   Mark messages read")
	fmt.Fprintln(os.Stderr, "  sync start                Force a room list refresh")
	fmt.Fprintln(os.Stderr, "  sync status               Same as status")
	fmt.Fprintln(os.Stderr, "  watch                     Stream store changes")
	fmt.Fprintln(os.Stderr, "  logout                    Clear cache and state")
}

func cmdStatus(ctx context.Context, c *api.Client, jsonOut bool) {
	resp, err := c.GetSyncStatus(ctx, &api.GetSyncStatusRequest{})
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Session:   %s\n", resp.Session)
	fmt.Printf("Status:    %s (since %s)\n", resp.State, resp.Since.Local().Format(time.DateTime))
	fmt.Printf("Rooms:     %d\n", resp.Rooms)
	if resp.LastSaved != nil {
		fmt.Printf("Saved:     %s ago\n", time.Since(*resp.LastSaved).Truncate(time.Second))
	} else {
		fmt.Println("Saved:     never")
	}
	fmt.Printf("Receipts:  %d pending\n", resp.PendingReceipts)
}

func cmdRooms(ctx context.Context, c *api.Client, jsonOut bool) {
	resp, err := c.ListRooms(ctx, &api.ListRoomsRequest{})
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	if len(resp.Rooms) == 0 {
		fmt.Println("No rooms.")
		return
	}
	for _, r := range resp.Rooms {
		name := r.Name
		if name == "" {
			name = r.ID
		}
		preview := ""
		if r.LastMessage != nil {
			preview = truncate(r.LastMessage.Content, 40)
		}
		unread := ""
		if r.UnreadCount > 0 {
			unread = fmt.Sprintf("(%d)", r.UnreadCount)
		}
		fmt.Printf("%-24s %-7s %5s  %s\n", truncate(name, 24), r.Type, unread, preview)
	}
}

func cmdMessages(ctx context.Context, c *api.Client, roomID string, limit int, refresh, jsonOut bool) {
	resp, err := c.ListMessages(ctx, &api.ListMessagesRequest{RoomID: roomID, Limit: limit, Refresh: refresh})
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	for _, m := range resp.Messages {
		mark := " "
		if m.IsRead {
			mark = "✓"
		}
		fmt.Printf("%s %s %-12s %s\n", m.CreatedAt.Local().Format(time.DateTime), mark, truncate(m.SenderID, 12), m.Content)
	}
}

func cmdRead(ctx context.Context, c *api.Client, roomID string, ids []string, jsonOut bool) {
	resp, err := c.MarkRead(ctx, &api.MarkReadRequest{RoomID: roomID, MessageIDs: ids})
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Result: %s (receipt %s)\n", resp.Result, resp.ReceiptID)
}

func cmdSync(ctx context.Context, c *api.Client, subcmd string, jsonOut bool) {
	switch subcmd {
	case "start":
		resp, err := c.StartSync(ctx, &api.StartSyncRequest{})
		if err != nil {
			fail(err)
		}
		if jsonOut {
			outputJSON(resp)
			return
		}
		fmt.Printf("Status: %s, %d rooms\n", resp.State, resp.Rooms)
	case "status":
		cmdStatus(ctx, c, jsonOut)
	default:
		fmt.Fprintf(os.Stderr, "unknown sync subcommand: %s\n", subcmd)
		os.Exit(1)
	}
}

func cmdWatch(c *api.Client, jsonOut bool) {
	err := c.WatchRoomUpdates(context.Background(), func(env *api.EventEnvelope) error {
		if jsonOut {
			outputJSON(env)
			return nil
		}
		fmt.Printf("%s %-24s %s\n", env.OccurredAt.Local().Format(time.TimeOnly), env.Kind, env.RoomID)
		return nil
	})
	if err != nil {
		fail(err)
	}
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
