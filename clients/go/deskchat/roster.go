package deskchat

import (
	"slices"
	"sync/atomic"
)

// RosterState is one immutable version of the roster. Readers may keep it
// for as long as they like; writers never modify a published state.
type RosterState struct {
	Active             []Chat
	Archived           []Chat
	AvailableAgents    []User
	AvailableCustomers []User
}

// Roster holds the active and archived chats plus the available
// counterparts of the current identity.
//
// Every mutation copies the affected collections and publishes the result
// with one pointer swap, so concurrent readers always observe a complete
// state. Mutations are not synchronized with each other: the Engine is the
// only writer and serializes them.
type Roster struct {
	state atomic.Pointer[RosterState]
}

// NewRoster returns an empty roster.
func NewRoster() *Roster {
	r := &Roster{}
	r.state.Store(&RosterState{})
	return r
}

// Snapshot returns the current state. Callers must not modify it.
func (r *Roster) Snapshot() *RosterState {
	return r.state.Load()
}

// ActiveChats returns the active chats ordered by most recent activity,
// newest first. The sort happens on every read so it always reflects the
// latest state.
func (r *Roster) ActiveChats() []Chat {
	chats := slices.Clone(r.Snapshot().Active)
	sortByActivity(chats)
	return chats
}

// ArchivedChats returns the archived chats in stored order.
func (r *Roster) ArchivedChats() []Chat {
	return slices.Clone(r.Snapshot().Archived)
}

// Find looks a chat up in both collections.
func (r *Roster) Find(chatID string) (Chat, ChatStatus, bool) {
	s := r.Snapshot()
	if i := indexOf(s.Active, chatID); i >= 0 {
		return s.Active[i], StatusActive, true
	}
	if i := indexOf(s.Archived, chatID); i >= 0 {
		return s.Archived[i], StatusArchived, true
	}
	return Chat{}, "", false
}

// ReplaceActive swaps in a new active collection. Chats listed here leave
// the archived collection in the same replacement.
func (r *Roster) ReplaceActive(chats []Chat) {
	r.update(func(s *RosterState) bool {
		s.Active = normalize(chats, StatusActive)
		s.Archived = excluding(s.Archived, s.Active)
		return true
	})
}

// ReplaceArchived swaps in a new archived collection. Chats listed here
// leave the active collection in the same replacement.
func (r *Roster) ReplaceArchived(chats []Chat) {
	r.update(func(s *RosterState) bool {
		s.Archived = normalize(chats, StatusArchived)
		s.Active = excluding(s.Active, s.Archived)
		return true
	})
}

// ReplaceAvailableAgents swaps in the agents a customer may start a chat with.
func (r *Roster) ReplaceAvailableAgents(users []User) {
	r.update(func(s *RosterState) bool {
		s.AvailableAgents = slices.Clone(users)
		return true
	})
}

// ReplaceAvailableCustomers swaps in the customers an agent may start a chat with.
func (r *Roster) ReplaceAvailableCustomers(users []User) {
	r.update(func(s *RosterState) bool {
		s.AvailableCustomers = slices.Clone(users)
		return true
	})
}

// UpsertActive inserts chat at the head of the active collection unless a
// chat with the same id is already known. A known active chat is refreshed
// only when the incoming copy is newer; an archived one is left alone.
// It reports whether an insertion happened.
func (r *Roster) UpsertActive(chat Chat) bool {
	inserted := false
	r.update(func(s *RosterState) bool {
		if indexOf(s.Archived, chat.ID) >= 0 {
			return false
		}
		chat = chat.clone()
		chat.Status, chat.IsActive = StatusActive, true

		i := indexOf(s.Active, chat.ID)
		if i < 0 {
			s.Active = append([]Chat{chat}, s.Active...)
			inserted = true
			return true
		}

		existing := s.Active[i]
		if !chat.UpdatedAt.After(existing.UpdatedAt) {
			return false
		}
		if existing.LastMessage != nil &&
			(chat.LastMessage == nil || existing.LastMessage.Timestamp.After(chat.LastMessage.Timestamp)) {
			chat.LastMessage = existing.LastMessage
		}
		s.Active = slices.Clone(s.Active)
		s.Active[i] = chat
		return true
	})
	return inserted
}

// MoveToArchived moves a chat from active to archived, tagging it archived.
// It returns the moved chat, or false when the chat is not active.
func (r *Roster) MoveToArchived(chatID string) (Chat, bool) {
	var moved Chat
	ok := r.update(func(s *RosterState) bool {
		i := indexOf(s.Active, chatID)
		if i < 0 {
			return false
		}
		moved = s.Active[i]
		moved.Status, moved.IsActive = StatusArchived, false
		s.Active = slices.Delete(slices.Clone(s.Active), i, i+1)
		s.Archived = append(slices.Clone(s.Archived), moved)
		return true
	})
	return moved, ok
}

// MoveToActive moves a chat from archived to the head of active, tagging it
// active. It returns the moved chat, or false when the chat is not archived.
func (r *Roster) MoveToActive(chatID string) (Chat, bool) {
	var moved Chat
	ok := r.update(func(s *RosterState) bool {
		i := indexOf(s.Archived, chatID)
		if i < 0 {
			return false
		}
		moved = s.Archived[i]
		moved.Status, moved.IsActive = StatusActive, true
		s.Archived = slices.Delete(slices.Clone(s.Archived), i, i+1)
		s.Active = append([]Chat{moved}, s.Active...)
		return true
	})
	return moved, ok
}

// PatchLastMessage records msg as the chat's last message and advances
// UpdatedAt to its timestamp, never moving it backwards. A message older than the current last message,
// or the same message again, changes nothing.
func (r *Roster) PatchLastMessage(chatID string, msg Message) bool {
	return r.update(func(s *RosterState) bool {
		patch := func(chats []Chat) ([]Chat, bool) {
			i := indexOf(chats, chatID)
			if i < 0 {
				return chats, false
			}
			last := chats[i].LastMessage
			if last != nil && (last.ID == msg.ID || last.Timestamp.After(msg.Timestamp)) {
				return chats, false
			}
			m := msg
			chats = slices.Clone(chats)
			chats[i].LastMessage = &m
			if msg.Timestamp.After(chats[i].UpdatedAt) {
				chats[i].UpdatedAt = msg.Timestamp
			}
			return chats, true
		}
		var ok bool
		if s.Active, ok = patch(s.Active); ok {
			return true
		}
		s.Archived, ok = patch(s.Archived)
		return ok
	})
}

// RemoveAvailableAgent drops an agent from the available agents.
func (r *Roster) RemoveAvailableAgent(userID string) bool {
	return r.update(func(s *RosterState) bool {
		next, ok := withoutUser(s.AvailableAgents, userID)
		s.AvailableAgents = next
		return ok
	})
}

// RemoveAvailableCustomer drops a customer from the available customers.
func (r *Roster) RemoveAvailableCustomer(userID string) bool {
	return r.update(func(s *RosterState) bool {
		next, ok := withoutUser(s.AvailableCustomers, userID)
		s.AvailableCustomers = next
		return ok
	})
}

// Reset empties every collection.
func (r *Roster) Reset() {
	r.state.Store(&RosterState{})
}

// update applies fn to a shallow copy of the current state and publishes
// it when fn reports a change. fn must replace, never modify, the slices it
// touches.
func (r *Roster) update(fn func(s *RosterState) bool) bool {
	next := *r.state.Load()
	if !fn(&next) {
		return false
	}
	r.state.Store(&next)
	return true
}

func sortByActivity(chats []Chat) {
	slices.SortStableFunc(chats, func(a, b Chat) int {
		return b.ActivityAt().Compare(a.ActivityAt())
	})
}

func indexOf(chats []Chat, chatID string) int {
	return slices.IndexFunc(chats, func(c Chat) bool { return c.ID == chatID })
}

// normalize copies chats, drops repeated ids and tags each with status.
func normalize(chats []Chat, status ChatStatus) []Chat {
	out := make([]Chat, 0, len(chats))
	seen := make(map[string]struct{}, len(chats))
	for _, c := range chats {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		c.Status, c.IsActive = status, status == StatusActive
		out = append(out, c)
	}
	return out
}

// excluding returns chats minus any id present in other.
func excluding(chats, other []Chat) []Chat {
	if len(chats) == 0 || len(other) == 0 {
		return chats
	}
	ids := make(map[string]struct{}, len(other))
	for _, c := range other {
		ids[c.ID] = struct{}{}
	}
	return slices.DeleteFunc(slices.Clone(chats), func(c Chat) bool {
		_, ok := ids[c.ID]
		return ok
	})
}

func withoutUser(users []User, userID string) ([]User, bool) {
	i := slices.IndexFunc(users, func(u User) bool { return u.ID == userID })
	if i < 0 {
		return users, false
	}
	return slices.Delete(slices.Clone(users), i, i+1), true
}
