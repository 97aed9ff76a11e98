package events

import (
	"reflect"
	"testing"
)

// TestExactSubscription verifies a pattern without wildcards matches one
// event name only.
func TestExactSubscription(t *testing.T) {
	e := NewEmitter()
	var got []string
	e.On(AfterBacklogCreate, func(event string, _ Payload) {
		got = append(got, event)
	}, false)

	e.Emit(AfterBacklogCreate, nil)
	e.Emit(AfterBacklogDelete, nil)
	e.Emit(BeforeBacklogCreate, nil)

	if want := []string{AfterBacklogCreate}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

// TestWildcardSubscription verifies '*' matches any run of characters,
// including in the middle of a pattern.
func TestWildcardSubscription(t *testing.T) {
	e := NewEmitter()
	var got []string
	e.On("After*", func(event string, _ Payload) {
		got = append(got, event)
	}, false)
	e.On("*Pomodoro*", func(event string, _ Payload) {
		got = append(got, "mid:"+event)
	}, false)

	e.Emit(AfterUserCreate, nil)
	e.Emit(BeforePomodoroAdd, nil)
	e.Emit(AfterPomodoroAdd, nil)

	want := []string{
		AfterUserCreate,
		"mid:" + BeforePomodoroAdd,
		AfterPomodoroAdd,
		"mid:" + AfterPomodoroAdd,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

// TestLastOrdering verifies last-flagged subscribers run after all
// normal ones regardless of registration order.
func TestLastOrdering(t *testing.T) {
	e := NewEmitter()
	var got []string
	e.On("Ev", func(string, Payload) { got = append(got, "last1") }, true)
	e.On("Ev", func(string, Payload) { got = append(got, "a") }, false)
	e.On("Ev", func(string, Payload) { got = append(got, "b") }, false)
	e.On("Ev", func(string, Payload) { got = append(got, "last2") }, true)

	e.Emit("Ev", nil)

	if want := []string{"a", "b", "last1", "last2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

// TestMuteDropsEvents verifies muted events are dropped, not queued, and
// that Mute calls nest.
func TestMuteDropsEvents(t *testing.T) {
	e := NewEmitter()
	count := 0
	e.On("*", func(string, Payload) { count++ }, false)

	e.Mute()
	e.Mute()
	e.Emit("Ev", nil)
	e.Unmute()
	e.Emit("Ev", nil)
	e.Unmute()
	e.Emit("Ev", nil)

	if count != 1 {
		t.Errorf("got %d deliveries, want 1: muted events must be dropped", count)
	}
}

// TestEmitForceBypassesMute verifies connection state events reach
// subscribers even during bulk replay.
func TestEmitForceBypassesMute(t *testing.T) {
	e := NewEmitter()
	count := 0
	e.On(WentOnline, func(string, Payload) { count++ }, false)

	e.Mute()
	e.EmitForce(WentOnline, nil)
	if !e.Muted() {
		t.Error("EmitForce must not clear the mute state")
	}
	e.Unmute()

	if count != 1 {
		t.Errorf("got %d deliveries, want 1", count)
	}
}

// TestUnsubscribeByHandle verifies a handle removes exactly its own
// registration, even when several subscribers share a function literal.
func TestUnsubscribeByHandle(t *testing.T) {
	e := NewEmitter()
	counts := make(map[int]int)
	subscribe := func(id int) Subscription {
		return e.On("Ev", func(string, Payload) { counts[id]++ }, false)
	}
	first := subscribe(1)
	subscribe(2)

	e.Unsubscribe(first)
	e.Emit("Ev", nil)

	if counts[1] != 0 {
		t.Errorf("unsubscribed handle fired %d times", counts[1])
	}
	if counts[2] != 1 {
		t.Errorf("sibling subscription fired %d times, want 1", counts[2])
	}

	// Stale handles are a no-op.
	e.Unsubscribe(first)
	e.Emit("Ev", nil)
	if counts[2] != 2 {
		t.Errorf("sibling subscription fired %d times, want 2", counts[2])
	}
}

// TestCancelPattern verifies Cancel drops subscriptions covered by the
// given pattern.
func TestCancelPattern(t *testing.T) {
	e := NewEmitter()
	count := 0
	e.On(AfterUserCreate, func(string, Payload) { count++ }, false)
	e.On("After*", func(string, Payload) { count++ }, false)
	e.On(BeforeUserCreate, func(string, Payload) { count++ }, false)

	e.Cancel("After*")
	e.Emit(AfterUserCreate, nil)
	e.Emit(BeforeUserCreate, nil)

	if count != 1 {
		t.Errorf("got %d deliveries after Cancel, want 1", count)
	}
}

// TestNilPayloadNormalized verifies subscribers always see a non-nil
// payload map.
func TestNilPayloadNormalized(t *testing.T) {
	e := NewEmitter()
	e.On("Ev", func(_ string, p Payload) {
		if p == nil {
			t.Error("payload must not be nil")
		}
	}, false)
	e.Emit("Ev", nil)
}
