package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"

	"github.com/legatus-hq/legatus/pkg/models"
)

// Broadcast frames can carry whole agent outputs, so allow a generous frame.
const followReadLimit = 1 << 20

var (
	logsLimit  int
	logsFollow bool
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Show recent activity",
	Long: `Show the activity log: agent status changes, task transitions,
checkpoint events, and anything the agents report while working.

Use --follow to stream events live over a WebSocket instead of
fetching a snapshot.`,
	RunE: runLogs,
}

func init() {
	logsCmd.Flags().IntVarP(&logsLimit, "limit", "n", 50, "Number of entries to show")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Stream new events as they happen")
}

func runLogs(cmd *cobra.Command, args []string) error {
	client := newAPIClient()

	if logsFollow {
		return followLogs(cmd.Context(), client)
	}

	var entries []map[string]any
	if err := client.get(cmd.Context(), fmt.Sprintf("/logs?limit=%d", logsLimit), &entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No activity yet.")
		return nil
	}

	// Newest first on the wire; print oldest first so the log reads down.
	for i := len(entries) - 1; i >= 0; i-- {
		fmt.Println(formatLogEntry(entries[i]))
	}
	return nil
}

// followLogs streams broadcast events until interrupted.
func followLogs(ctx context.Context, client *apiClient) error {
	conn, _, err := websocket.Dial(ctx, client.wsURL(), nil)
	if err != nil {
		return fmt.Errorf("cannot connect to %s (is legatus running?): %w", client.wsURL(), err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(followReadLimit)

	fmt.Println("Streaming events. Ctrl+C to exit.")
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("stream closed: %w", err)
		}

		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch string(msg.Type) {
		case "connection.established", "pong":
			continue
		}
		fmt.Println(formatMessage(&msg))
	}
}

// formatLogEntry renders one activity-log entry as a single line:
// HH:MM:SS [agent] (task) text.
func formatLogEntry(entry map[string]any) string {
	clock := "--:--:--"
	if raw, ok := entry["timestamp"].(string); ok {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			clock = ts.Local().Format("15:04:05")
		}
	}

	agent := ""
	if v, ok := entry["agent_id"].(string); ok && v != "" {
		agent = fmt.Sprintf(" [%s]", v)
	}
	task := ""
	if v, ok := entry["task_id"].(string); ok && v != "" {
		task = fmt.Sprintf(" (%s)", shortID(v))
	}

	text, _ := entry["type"].(string)
	if data, ok := entry["data"].(map[string]any); ok {
		if msg, ok := data["message"].(string); ok && msg != "" {
			text = msg
		}
	}

	return fmt.Sprintf("%s%s%s %s", clock, agent, task, text)
}

func formatMessage(msg *models.Message) string {
	clock := msg.Timestamp.Local().Format("15:04:05")
	agent := ""
	if msg.AgentID != "" {
		agent = fmt.Sprintf(" [%s]", msg.AgentID)
	}
	task := ""
	if msg.TaskID != "" {
		task = fmt.Sprintf(" (%s)", shortID(msg.TaskID))
	}

	text := string(msg.Type)
	if m := msg.DataString("message"); m != "" {
		text = m
	}

	return fmt.Sprintf("%s%s%s %s", clock, agent, task, text)
}
