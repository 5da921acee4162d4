package deskchat

import (
	"testing"
	"time"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return epoch.Add(time.Duration(minutes) * time.Minute)
}

func chatAt(id string, created, updated int) Chat {
	c := Chat{ID: id, CustomerID: "c-" + id, CreatedAt: at(created)}
	if updated >= 0 {
		c.UpdatedAt = at(updated)
	}
	return c
}

func ids(chats []Chat) []string {
	out := make([]string, len(chats))
	for i, c := range chats {
		out[i] = c.ID
	}
	return out
}

func equalIDs(t *testing.T, got []Chat, want ...string) {
	t.Helper()
	g := ids(got)
	if len(g) != len(want) {
		t.Fatalf("expected %v, got %v", want, g)
	}
	for i := range want {
		if g[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, g)
		}
	}
}

func TestActiveChatsSortedByActivity(t *testing.T) {
	r := NewRoster()
	r.ReplaceActive([]Chat{
		chatAt("a", 0, 5),
		chatAt("b", 10, -1), // no updatedAt, falls back to createdAt
		chatAt("c", 1, 20),
	})
	equalIDs(t, r.ActiveChats(), "c", "b", "a")
}

func TestActiveChatsStableForEqualActivity(t *testing.T) {
	r := NewRoster()
	r.ReplaceActive([]Chat{chatAt("x", 0, 3), chatAt("y", 0, 3), chatAt("z", 0, 3)})
	equalIDs(t, r.ActiveChats(), "x", "y", "z")
}

func TestReplaceKeepsCollectionsDisjoint(t *testing.T) {
	r := NewRoster()
	r.ReplaceArchived([]Chat{chatAt("a", 0, 0), chatAt("b", 0, 0)})
	r.ReplaceActive([]Chat{chatAt("b", 0, 1), chatAt("c", 0, 2)})

	equalIDs(t, r.ArchivedChats(), "a")
	for _, c := range r.ActiveChats() {
		if c.Status != StatusActive || !c.IsActive {
			t.Fatalf("chat %s not tagged active: %+v", c.ID, c)
		}
	}
}

func TestReplaceDropsDuplicateIDs(t *testing.T) {
	r := NewRoster()
	r.ReplaceActive([]Chat{chatAt("a", 0, 1), chatAt("a", 0, 9)})
	got := r.ActiveChats()
	equalIDs(t, got, "a")
	if !got[0].UpdatedAt.Equal(at(1)) {
		t.Fatalf("expected first occurrence kept, got %v", got[0].UpdatedAt)
	}
}

func TestUpsertActiveIdempotent(t *testing.T) {
	r := NewRoster()
	if !r.UpsertActive(chatAt("a", 0, 0)) {
		t.Fatal("first upsert should insert")
	}
	if r.UpsertActive(chatAt("a", 0, 0)) {
		t.Fatal("second upsert should not insert")
	}
	equalIDs(t, r.ActiveChats(), "a")
}

func TestUpsertActiveOnlyNewerFieldsUpdate(t *testing.T) {
	r := NewRoster()
	first := chatAt("a", 0, 5)
	first.LastMessage = &Message{ID: "m2", ChatID: "a", Timestamp: at(5)}
	r.UpsertActive(first)

	older := chatAt("a", 0, 1)
	older.Status = StatusArchived
	r.UpsertActive(older)
	c, _, _ := r.Find("a")
	if !c.UpdatedAt.Equal(at(5)) {
		t.Fatalf("older copy must not overwrite, got %v", c.UpdatedAt)
	}

	newer := chatAt("a", 0, 9)
	newer.LastMessage = &Message{ID: "m1", ChatID: "a", Timestamp: at(2)}
	r.UpsertActive(newer)
	c, _, _ = r.Find("a")
	if !c.UpdatedAt.Equal(at(9)) {
		t.Fatalf("newer copy should update, got %v", c.UpdatedAt)
	}
	if c.LastMessage == nil || c.LastMessage.ID != "m2" {
		t.Fatalf("newer last message must survive, got %+v", c.LastMessage)
	}
}

func TestUpsertActiveIgnoresArchived(t *testing.T) {
	r := NewRoster()
	r.ReplaceArchived([]Chat{chatAt("a", 0, 0)})
	if r.UpsertActive(chatAt("a", 0, 1)) {
		t.Fatal("archived chat must not be re-inserted as active")
	}
	equalIDs(t, r.ActiveChats())
}

func TestMoveBetweenCollections(t *testing.T) {
	r := NewRoster()
	r.ReplaceActive([]Chat{chatAt("a", 0, 0), chatAt("b", 0, 1)})

	moved, ok := r.MoveToArchived("a")
	if !ok || moved.Status != StatusArchived || moved.IsActive {
		t.Fatalf("unexpected move result %+v %v", moved, ok)
	}
	equalIDs(t, r.ActiveChats(), "b")
	equalIDs(t, r.ArchivedChats(), "a")

	if _, ok := r.MoveToArchived("a"); ok {
		t.Fatal("moving an archived chat to archived should fail")
	}

	moved, ok = r.MoveToActive("a")
	if !ok || moved.Status != StatusActive {
		t.Fatalf("unexpected move result %+v %v", moved, ok)
	}
	if got := r.Snapshot().Active; got[0].ID != "a" {
		t.Fatalf("unarchived chat should be at the head, got %v", ids(got))
	}
	equalIDs(t, r.ArchivedChats())
}

func TestPatchLastMessage(t *testing.T) {
	r := NewRoster()
	r.ReplaceActive([]Chat{chatAt("a", 0, 0), chatAt("b", 0, 10)})

	msg := Message{ID: "m1", ChatID: "a", Content: "hi", Timestamp: at(20)}
	if !r.PatchLastMessage("a", msg) {
		t.Fatal("expected patch")
	}
	equalIDs(t, r.ActiveChats(), "a", "b")

	if r.PatchLastMessage("a", msg) {
		t.Fatal("same message should not patch twice")
	}
	if r.PatchLastMessage("a", Message{ID: "m0", ChatID: "a", Timestamp: at(15)}) {
		t.Fatal("older message should not patch")
	}
	if r.PatchLastMessage("missing", msg) {
		t.Fatal("unknown chat should not patch")
	}
}

func TestPatchLastMessageNeverRewindsActivity(t *testing.T) {
	r := NewRoster()
	r.ReplaceActive([]Chat{chatAt("a", 0, 30), chatAt("b", 0, 20)})

	if !r.PatchLastMessage("a", Message{ID: "m1", ChatID: "a", Timestamp: at(10)}) {
		t.Fatal("first message should patch")
	}
	chats := r.ActiveChats()
	equalIDs(t, chats, "a", "b")
	if !chats[0].UpdatedAt.Equal(at(30)) {
		t.Fatalf("activity moved backwards to %v", chats[0].UpdatedAt)
	}
}

func TestPatchLastMessageArchived(t *testing.T) {
	r := NewRoster()
	r.ReplaceArchived([]Chat{chatAt("a", 0, 0)})
	if !r.PatchLastMessage("a", Message{ID: "m1", ChatID: "a", Timestamp: at(3)}) {
		t.Fatal("archived chats should track last message")
	}
	equalIDs(t, r.ActiveChats())
}

func TestRemoveAvailable(t *testing.T) {
	r := NewRoster()
	r.ReplaceAvailableAgents([]User{{ID: "a1"}, {ID: "a2"}})
	r.ReplaceAvailableCustomers([]User{{ID: "c1"}})

	if !r.RemoveAvailableAgent("a1") || r.RemoveAvailableAgent("a1") {
		t.Fatal("agent removal should happen once")
	}
	if !r.RemoveAvailableCustomer("c1") {
		t.Fatal("customer removal failed")
	}
	s := r.Snapshot()
	if len(s.AvailableAgents) != 1 || s.AvailableAgents[0].ID != "a2" || len(s.AvailableCustomers) != 0 {
		t.Fatalf("unexpected counterparts %+v", s)
	}
}

func TestSnapshotsAreImmutable(t *testing.T) {
	r := NewRoster()
	r.ReplaceActive([]Chat{chatAt("a", 0, 0)})
	before := r.Snapshot()

	r.PatchLastMessage("a", Message{ID: "m1", ChatID: "a", Timestamp: at(1)})
	r.MoveToArchived("a")

	if len(before.Active) != 1 || before.Active[0].LastMessage != nil || len(before.Archived) != 0 {
		t.Fatalf("published state was modified: %+v", before)
	}
}
