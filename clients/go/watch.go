package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/eldtechnologies/deskchat/clients/go/deskchat"
)

var watchCmd = &cobra.Command{
	Use:   "watch [chat]",
	Short: "Follow chats live until interrupted",
	Long: `Follow chats live until interrupted.

Without arguments, new chats, new messages and presence changes across
the roster are printed. With a chat, its conversation is printed and
followed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := signedIn()
		if err != nil {
			return err
		}
		ctx, stop := interruptible()
		defer stop()

		logger := newLogger()
		stream := deskchat.NewStream(logger)
		engine := deskchat.NewEngine(client, stream, logger)
		if err := engine.Start(ctx, *client.User, client.StreamURL()); err != nil {
			// snapshots and the stream fail independently; keep going on
			// whatever loaded
			fmt.Println(warningStyle.Render(err.Error()))
		}
		defer engine.Stop()

		state := engine.State()
		if len(args) == 1 {
			chat, err := findChat(state, args[0])
			if err != nil {
				return err
			}
			if err := engine.SelectChat(ctx, chat); err != nil {
				return err
			}
			state = engine.State()
			printConversation(*chat, state.Messages, state.Identity)
		} else {
			printChats("Active chats", state.Active, state.Identity)
		}
		fmt.Println(dateStyle.Render("watching, Ctrl-C to stop"))

		w := newWatcher(state)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-stream.Done():
				return errors.New("event stream closed")
			case <-engine.Changes():
				w.report(engine.State())
			}
		}
	},
}

// watcher prints what changed between successive engine states.
type watcher struct {
	seen   map[string]struct{} // message ids already printed
	last   map[string]string   // chat id -> last message id
	online map[string]bool
}

func newWatcher(s deskchat.State) *watcher {
	w := &watcher{
		seen:   make(map[string]struct{}),
		last:   make(map[string]string),
		online: make(map[string]bool),
	}
	w.remember(s)
	return w
}

func (w *watcher) remember(s deskchat.State) {
	for _, m := range s.Messages {
		w.seen[m.ID] = struct{}{}
	}
	for _, c := range s.Active {
		if c.LastMessage != nil {
			w.last[c.ID] = c.LastMessage.ID
		} else if _, ok := w.last[c.ID]; !ok {
			w.last[c.ID] = ""
		}
		if other := counterpart(c, s.Identity); other != nil {
			w.online[other.ID] = other.IsOnline
		}
	}
}

func (w *watcher) report(s deskchat.State) {
	defer w.remember(s)

	if s.Selected != nil {
		for _, m := range s.Messages {
			if _, ok := w.seen[m.ID]; !ok {
				printMessage(m, *s.Selected, s.Identity)
			}
		}
	}

	flipped := make(map[string]bool)
	for _, c := range s.Active {
		other := counterpart(c, s.Identity)
		prev, known := w.last[c.ID]
		switch {
		case !known:
			fmt.Printf("%s new chat %s with %s\n", successStyle.Render("+"), idStyle.Render(shortID(c.ID)), nameStyle.Render(displayName(other)))
		case s.Selected == nil && c.LastMessage != nil && c.LastMessage.ID != prev:
			fmt.Printf("  %s %s %s\n", idStyle.Render(shortID(c.ID)),
				nameStyle.Render(senderName(*c.LastMessage, c, s.Identity)+":"), preview(c.LastMessage.Content, 60))
		}
		if other == nil || flipped[other.ID] {
			continue
		}
		if was, ok := w.online[other.ID]; ok && was != other.IsOnline {
			flipped[other.ID] = true
			state := "went offline"
			if other.IsOnline {
				state = "is online"
			}
			fmt.Printf("%s %s %s\n", onlineMark(other), nameStyle.Render(displayName(other)), dateStyle.Render(state))
		}
	}
}
