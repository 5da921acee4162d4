package deskchat

import (
	"testing"
)

func TestPresenceFansOutToEveryChat(t *testing.T) {
	r := NewRoster()
	agent := func() *User { return &User{ID: "ag1", Role: RoleAgent} }
	r.ReplaceActive([]Chat{
		{ID: "x", Customer: &User{ID: "cu1"}, Agent: agent()},
		{ID: "y", Customer: &User{ID: "cu2"}, Agent: agent()},
		{ID: "z", Customer: &User{ID: "cu3"}},
	})
	r.ReplaceArchived([]Chat{{ID: "old", Customer: &User{ID: "cu4"}, Agent: agent()}})
	before := r.Snapshot()

	p := NewPresence(r)
	if !p.Apply("ag1", true) {
		t.Fatal("expected presence change")
	}

	s := r.Snapshot()
	for _, c := range append(append([]Chat{}, s.Active...), s.Archived...) {
		if c.Agent != nil && !c.Agent.IsOnline {
			t.Fatalf("chat %s agent not online", c.ID)
		}
	}
	if s.Active[2].Customer.IsOnline {
		t.Fatal("unrelated customer changed")
	}
	for _, c := range before.Active {
		if c.Agent != nil && c.Agent.IsOnline {
			t.Fatal("previous snapshot was mutated")
		}
	}

	if p.Apply("ag1", true) {
		t.Fatal("repeated presence should be a no-op")
	}
}

func TestPresenceDoesNotReorder(t *testing.T) {
	r := NewRoster()
	r.ReplaceActive([]Chat{
		{ID: "a", Customer: &User{ID: "cu1"}, UpdatedAt: at(1)},
		{ID: "b", Customer: &User{ID: "cu2"}, UpdatedAt: at(2)},
	})
	NewPresence(r).Apply("cu1", true)
	equalIDs(t, r.ActiveChats(), "b", "a")
}

func TestPresenceCustomerSide(t *testing.T) {
	r := NewRoster()
	r.ReplaceActive([]Chat{{ID: "a", Customer: &User{ID: "cu1", IsOnline: true}}})
	if !NewPresence(r).Apply("cu1", false) {
		t.Fatal("expected change")
	}
	if r.Snapshot().Active[0].Customer.IsOnline {
		t.Fatal("customer should be offline")
	}
}
