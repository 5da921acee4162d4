package deskchat

import "slices"

// Presence fans a single online/offline change out to every roster entry
// that references the user.
type Presence struct {
	roster *Roster
}

// NewPresence returns a propagator writing to roster.
func NewPresence(roster *Roster) *Presence {
	return &Presence{roster: roster}
}

// Apply sets IsOnline on every Customer or Agent matching userID, in both
// collections, as one roster replacement. It reports whether anything
// changed.
func (p *Presence) Apply(userID string, online bool) bool {
	return p.roster.PatchPresence(userID, online)
}

// PatchPresence is the roster side of Presence.Apply.
func (r *Roster) PatchPresence(userID string, online bool) bool {
	return r.update(func(s *RosterState) bool {
		active, a := patchPresence(s.Active, userID, online)
		archived, b := patchPresence(s.Archived, userID, online)
		if !a && !b {
			return false
		}
		s.Active, s.Archived = active, archived
		return true
	})
}

// patchPresence returns a copy of chats with the user's flag updated, or
// chats itself when no entry needed a change.
func patchPresence(chats []Chat, userID string, online bool) ([]Chat, bool) {
	var out []Chat
	for i, c := range chats {
		stale := (c.Customer != nil && c.Customer.ID == userID && c.Customer.IsOnline != online) ||
			(c.Agent != nil && c.Agent.ID == userID && c.Agent.IsOnline != online)
		if !stale {
			continue
		}
		if out == nil {
			out = slices.Clone(chats)
		}
		c = c.clone()
		if c.Customer != nil && c.Customer.ID == userID {
			c.Customer.IsOnline = online
		}
		if c.Agent != nil && c.Agent.ID == userID {
			c.Agent.IsOnline = online
		}
		out[i] = c
	}
	if out == nil {
		return chats, false
	}
	return out, true
}
