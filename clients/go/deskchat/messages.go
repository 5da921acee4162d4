package deskchat

import (
	"slices"
	"sync/atomic"
)

type messageState struct {
	chatID   string
	messages []Message
}

// MessageLog holds the message list of the one open chat, in the order the
// messages were accepted. Like Roster it publishes immutable copies and
// expects a single writer.
type MessageLog struct {
	state atomic.Pointer[messageState]
}

// NewMessageLog returns a log with no chat open.
func NewMessageLog() *MessageLog {
	l := &MessageLog{}
	l.state.Store(&messageState{})
	return l
}

// ChatID returns the open chat, or "".
func (l *MessageLog) ChatID() string {
	return l.state.Load().chatID
}

// Messages returns the open chat's messages in accepted order.
func (l *MessageLog) Messages() []Message {
	return slices.Clone(l.state.Load().messages)
}

// Open switches the log to chatID with an empty list, unless that chat is
// already open.
func (l *MessageLog) Open(chatID string) {
	if l.state.Load().chatID == chatID {
		return
	}
	l.state.Store(&messageState{chatID: chatID})
}

// Load replaces the log with a snapshot for chatID. The snapshot's order is
// trusted as chronological. Messages already appended live for the same
// chat that the snapshot does not contain are kept after it.
func (l *MessageLog) Load(chatID string, snapshot []Message) {
	next := &messageState{chatID: chatID, messages: make([]Message, 0, len(snapshot))}
	seen := make(map[string]struct{}, len(snapshot))
	for _, m := range snapshot {
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		next.messages = append(next.messages, m)
	}

	if cur := l.state.Load(); cur.chatID == chatID {
		for _, m := range cur.messages {
			if _, dup := seen[m.ID]; !dup {
				next.messages = append(next.messages, m)
			}
		}
	}
	l.state.Store(next)
}

// Append adds msg at the end of the open chat's list. It is a no-op when no
// chat is open, when msg belongs to another chat, or when a message with the
// same id was already accepted.
func (l *MessageLog) Append(msg Message) bool {
	cur := l.state.Load()
	if cur.chatID == "" || msg.ChatID != cur.chatID {
		return false
	}
	if slices.ContainsFunc(cur.messages, func(m Message) bool { return m.ID == msg.ID }) {
		return false
	}
	messages := make([]Message, len(cur.messages), len(cur.messages)+1)
	copy(messages, cur.messages)
	l.state.Store(&messageState{chatID: cur.chatID, messages: append(messages, msg)})
	return true
}

// Clear closes the open chat.
func (l *MessageLog) Clear() {
	l.state.Store(&messageState{})
}
