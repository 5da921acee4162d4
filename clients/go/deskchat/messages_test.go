package deskchat

import "testing"

func msgIDs(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestMessageLogAppendDedup(t *testing.T) {
	l := NewMessageLog()
	l.Open("c1")

	if !l.Append(Message{ID: "m1", ChatID: "c1"}) {
		t.Fatal("first append should be accepted")
	}
	if l.Append(Message{ID: "m1", ChatID: "c1"}) {
		t.Fatal("duplicate append should be rejected")
	}
	if l.Append(Message{ID: "m2", ChatID: "other"}) {
		t.Fatal("message for another chat should be rejected")
	}
	if got := l.Messages(); len(got) != 1 {
		t.Fatalf("expected 1 message, got %v", msgIDs(got))
	}
}

func TestMessageLogAppendWithoutOpenChat(t *testing.T) {
	l := NewMessageLog()
	if l.Append(Message{ID: "m1", ChatID: "c1"}) {
		t.Fatal("append with no open chat should be rejected")
	}
}

func TestMessageLogArrivalOrder(t *testing.T) {
	l := NewMessageLog()
	l.Open("c1")
	// timestamps deliberately out of order
	l.Append(Message{ID: "late", ChatID: "c1", Timestamp: at(10)})
	l.Append(Message{ID: "early", ChatID: "c1", Timestamp: at(1)})

	got := msgIDs(l.Messages())
	if got[0] != "late" || got[1] != "early" {
		t.Fatalf("expected arrival order, got %v", got)
	}
}

func TestMessageLogLoadKeepsLiveMessages(t *testing.T) {
	l := NewMessageLog()
	l.Open("c1")
	l.Append(Message{ID: "live", ChatID: "c1"})
	l.Append(Message{ID: "m2", ChatID: "c1"})

	l.Load("c1", []Message{
		{ID: "m1", ChatID: "c1"},
		{ID: "m2", ChatID: "c1"},
		{ID: "m1", ChatID: "c1"},
	})

	got := msgIDs(l.Messages())
	want := []string{"m1", "m2", "live"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestMessageLogOpenSwitchesChat(t *testing.T) {
	l := NewMessageLog()
	l.Open("c1")
	l.Append(Message{ID: "m1", ChatID: "c1"})

	l.Open("c1")
	if len(l.Messages()) != 1 {
		t.Fatal("reopening the same chat should keep its messages")
	}

	l.Open("c2")
	if l.ChatID() != "c2" || len(l.Messages()) != 0 {
		t.Fatalf("expected empty c2, got %s %v", l.ChatID(), msgIDs(l.Messages()))
	}

	l.Clear()
	if l.ChatID() != "" {
		t.Fatal("clear should close the chat")
	}
}
