// Package main provides the operator CLI for inspecting live sessions.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
)

var (
	app    = kingpin.New("callroulette-opscli", "Callroulette operator client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()

	// sessions command
	sessionsCmd   = app.Command("sessions", "List call sessions")
	sessionsState = sessionsCmd.Flag("state", "Session state to list").Default("waiting").String()
)

type sessionView struct {
	ID       string `json:"id"`
	State    string `json:"state"`
	RoomID   string `json:"room_id"`
	Location string `json:"location"`
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	switch command {
	case sessionsCmd.FullCommand():
		listSessions(*server, *sessionsState)
	}
}

func listSessions(server, state string) {
	endpoint := fmt.Sprintf("%s/api/sessions?state=%s", server, url.QueryEscape(state))
	resp, err := http.Get(endpoint)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Printf("Error: server returned %s\n", resp.Status)
		os.Exit(1)
	}

	var views []sessionView
	if err := json.NewDecoder(resp.Body).Decode(&views); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if len(views) == 0 {
		fmt.Printf("No sessions in state %q\n", state)
		return
	}

	fmt.Printf("%d session(s) in state %q:\n\n", len(views), state)
	for _, v := range views {
		fmt.Printf("  %s %s\n", formatState(v.State), v.ID)
		fmt.Printf("    Caller: %s\n", v.Location)
		if v.RoomID != "" {
			fmt.Printf("    Room: %s\n", v.RoomID)
		}
		fmt.Println()
	}
}

func formatState(state string) string {
	switch state {
	case "initial":
		return "🆕"
	case "greeting":
		return "👋"
	case "waiting":
		return "⏳"
	case "in_conference":
		return "🗣 "
	case "ended":
		return "⏹ "
	case "timed_out":
		return "⏱ "
	default:
		return "❓"
	}
}
