// Command deskchat is a terminal client for a deskchat server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/eldtechnologies/deskchat/clients/go/deskchat"
)

var (
	baseURL string
	verbose bool
)

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	idStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	dateStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	nameStyle    = lipgloss.NewStyle().Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

var rootCmd = &cobra.Command{
	Use:   "deskchat",
	Short: "Customer service chat from the terminal",
	Long: `A terminal client for a deskchat server.

Log in once and the session is kept in ~/.deskchat/session.json
(or $DESKCHAT_CONFIG/session.json).

Quick Start:
  deskchat login customer1              # sign in
  deskchat available                    # who can I talk to?
  deskchat start <agent-id>             # open a chat
  deskchat send <chat> "hello"          # post a message
  deskchat watch                        # follow chats live`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", errorStyle.Render("Error:"), err)
		os.Exit(1)
	}
}

func init() {
	defaultURL := os.Getenv("DESKCHAT_URL")
	if defaultURL == "" {
		defaultURL = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().StringVar(&baseURL, "url", defaultURL, "Server URL (env DESKCHAT_URL)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log engine activity to stderr")
}

func newLogger() zerolog.Logger {
	if !verbose {
		return zerolog.Nop()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().
		Timestamp().
		Logger()
}

// signedIn returns a client with a saved session.
func signedIn() (*deskchat.Client, error) {
	client := deskchat.NewClient(baseURL)
	if client.Token == "" || client.User == nil {
		return nil, errors.New("not logged in, run: deskchat login <username>")
	}
	return client, nil
}

// startEngine opens an engine session without a live stream. The roster
// snapshots are loaded before it returns.
func startEngine(ctx context.Context, client *deskchat.Client) (*deskchat.Engine, error) {
	engine := deskchat.NewEngine(client, deskchat.NewStream(newLogger()), newLogger())
	if err := engine.Start(ctx, *client.User, ""); err != nil {
		return nil, err
	}
	return engine, nil
}

// findChat resolves a chat by full id or unique id prefix across both
// roster collections.
func findChat(state deskchat.State, ref string) (*deskchat.Chat, error) {
	var match *deskchat.Chat
	for _, chats := range [][]deskchat.Chat{state.Active, state.Archived} {
		for i := range chats {
			c := &chats[i]
			if c.ID == ref {
				return c, nil
			}
			if strings.HasPrefix(c.ID, ref) {
				if match != nil {
					return nil, fmt.Errorf("chat %q is ambiguous", ref)
				}
				match = c
			}
		}
	}
	if match == nil {
		return nil, fmt.Errorf("no chat matches %q", ref)
	}
	return match, nil
}

// interruptible returns a context cancelled on SIGINT or SIGTERM.
func interruptible() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func displayName(u *deskchat.User) string {
	switch {
	case u == nil:
		return "unassigned"
	case u.Name != "":
		return u.Name
	case u.Username != "":
		return u.Username
	}
	return shortID(u.ID)
}

func onlineMark(u *deskchat.User) string {
	if u != nil && u.IsOnline {
		return successStyle.Render("●")
	}
	return dateStyle.Render("○")
}

// counterpart is the other side of chat as seen by me.
func counterpart(chat deskchat.Chat, me *deskchat.User) *deskchat.User {
	if me != nil && me.Role.IsCustomer() {
		return chat.Agent
	}
	return chat.Customer
}

func ago(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return humanize.Time(t)
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return s
}
