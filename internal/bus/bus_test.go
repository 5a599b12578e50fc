package bus

import (
	"sync/atomic"
	"testing"
)

func TestEmitDispatchesToTypedAndWildcard(t *testing.T) {
	b := New()

	var typed, wild int
	b.On("task:started", func(ev Event) { typed++ })
	b.OnAny(func(ev Event) { wild++ })

	b.Emit("task:started", nil)
	b.Emit("task:completed", nil)

	if typed != 1 {
		t.Errorf("typed handler calls = %d, want 1", typed)
	}
	if wild != 2 {
		t.Errorf("wildcard handler calls = %d, want 2", wild)
	}
}

func TestEmitAssignsIDAndTimestamp(t *testing.T) {
	b := New()
	ev1 := b.Emit("x", nil)
	ev2 := b.Emit("x", nil)
	if ev1.ID == "" || ev2.ID == "" {
		t.Fatal("events must carry ids")
	}
	if ev1.ID == ev2.ID {
		t.Error("event ids must be unique")
	}
	if ev1.Timestamp.IsZero() {
		t.Error("event timestamp must be set")
	}
}

func TestHandlerPanicIsolated(t *testing.T) {
	b := New()

	var after int
	b.On("boom", func(ev Event) { panic("handler bug") })
	b.On("boom", func(ev Event) { after++ })

	b.Emit("boom", nil)

	if after != 1 {
		t.Errorf("handler after panicking one ran %d times, want 1", after)
	}
}

func TestEveryHandlerInvokedExactlyOnce(t *testing.T) {
	b := New()

	const handlers = 5
	counts := make([]int32, handlers)
	for i := 0; i < handlers; i++ {
		i := i
		b.On("tick", func(ev Event) { atomic.AddInt32(&counts[i], 1) })
	}

	b.Emit("tick", nil)

	for i, c := range counts {
		if c != 1 {
			t.Errorf("handler %d invoked %d times, want 1", i, c)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()

	var calls int
	off := b.On("x", func(ev Event) { calls++ })
	b.Emit("x", nil)
	off()
	b.Emit("x", nil)

	if calls != 1 {
		t.Errorf("calls = %d, want 1 after unsubscribe", calls)
	}
	if n := b.ListenerCount("x"); n != 0 {
		t.Errorf("ListenerCount = %d, want 0", n)
	}
}

func TestOnceFiresOnce(t *testing.T) {
	b := New()

	var calls int
	b.Once("x", func(ev Event) { calls++ })
	b.Emit("x", nil)
	b.Emit("x", nil)

	if calls != 1 {
		t.Errorf("once handler ran %d times, want 1", calls)
	}
}

func TestOffRemovesAllForType(t *testing.T) {
	b := New()
	b.On("x", func(ev Event) { t.Error("should not run") })
	b.On("x", func(ev Event) { t.Error("should not run") })
	b.Off("x")
	b.Emit("x", nil)
}

func TestRemoveAllListeners(t *testing.T) {
	b := New()
	b.On("x", func(ev Event) { t.Error("typed should not run") })
	b.OnAny(func(ev Event) { t.Error("wildcard should not run") })
	b.RemoveAllListeners()
	b.Emit("x", nil)
}

func TestHistoryRing(t *testing.T) {
	b := NewWithHistory(3)
	b.Emit("e1", nil)
	b.Emit("e2", nil)
	b.Emit("e3", nil)
	b.Emit("e4", nil)

	got := b.History(0)
	if len(got) != 3 {
		t.Fatalf("history length = %d, want 3", len(got))
	}
	want := []string{"e2", "e3", "e4"}
	for i, ev := range got {
		if ev.Type != want[i] {
			t.Errorf("history[%d] = %q, want %q", i, ev.Type, want[i])
		}
	}

	got = b.History(2)
	if len(got) != 2 || got[0].Type != "e3" || got[1].Type != "e4" {
		t.Errorf("History(2) = %v, want e3,e4", got)
	}
}

func TestEmitOptionsCarried(t *testing.T) {
	b := New()
	var got Event
	b.On("x", func(ev Event) { got = ev })
	b.Emit("x", TaskPayload{TaskID: "t1"}, EmitOptions{Source: "queue", CorrelationID: "run-1"})

	if got.Source != "queue" {
		t.Errorf("source = %q, want queue", got.Source)
	}
	if got.CorrelationID != "run-1" {
		t.Errorf("correlation id = %q, want run-1", got.CorrelationID)
	}
	p, ok := got.Payload.(TaskPayload)
	if !ok || p.TaskID != "t1" {
		t.Errorf("payload = %#v, want TaskPayload{t1}", got.Payload)
	}
}
