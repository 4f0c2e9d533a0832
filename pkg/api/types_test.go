package api

import (
	"testing"
	"time"
)

func TestStatusClassification(t *testing.T) {
	t.Parallel()

	active := []Status{StatusRunning, StatusInterrupted, StatusStalled}
	for _, s := range active {
		if !s.Active() {
			t.Errorf("expected %s to be active", s)
		}
		if s.Terminal() {
			t.Errorf("expected %s not to be terminal", s)
		}
	}

	terminal := []Status{StatusCompleted, StatusFailed}
	for _, s := range terminal {
		if s.Active() {
			t.Errorf("expected %s not to be active", s)
		}
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
}

func TestStateCloneIsIndependent(t *testing.T) {
	st := State{"clientName": "Jane", "reminderCount": 1}
	cl := st.Clone()
	cl["clientName"] = "Bob"

	if got := st.String("clientName"); got != "Jane" {
		t.Fatalf("clone mutated the original: clientName=%q", got)
	}
}

func TestStateCloneNil(t *testing.T) {
	var st State
	cl := st.Clone()
	if cl == nil {
		t.Fatal("expected non-nil clone of nil state")
	}
	cl["k"] = "v"
}

func TestStateMergeOverwrites(t *testing.T) {
	st := State{"status": "new", "source": "web"}
	st.Merge(State{"status": "approved", "action": "approve"})

	if got := st.String("status"); got != "approved" {
		t.Fatalf("expected status overwritten, got %q", got)
	}
	if got := st.String("source"); got != "web" {
		t.Fatalf("expected untouched key preserved, got %q", got)
	}
	if got := st.String("action"); got != "approve" {
		t.Fatalf("expected new key merged, got %q", got)
	}
}

func TestStateIntAcceptsJSONNumbers(t *testing.T) {
	t.Parallel()

	// JSON decoding turns numbers into float64; writes from Go code use int.
	st := State{"a": 3, "b": int64(4), "c": float64(5), "d": "nope"}

	if got := st.Int("a"); got != 3 {
		t.Errorf("int: got %d", got)
	}
	if got := st.Int("b"); got != 4 {
		t.Errorf("int64: got %d", got)
	}
	if got := st.Int("c"); got != 5 {
		t.Errorf("float64: got %d", got)
	}
	if got := st.Int("d"); got != 0 {
		t.Errorf("non-number: got %d", got)
	}
	if got := st.Int("missing"); got != 0 {
		t.Errorf("missing: got %d", got)
	}
}

func TestStateTimeRoundTrip(t *testing.T) {
	t.Parallel()

	st := State{}
	now := time.Date(2025, 6, 1, 12, 30, 0, 123456789, time.UTC)
	st.SetTime(KeyLastActivity, now)

	got := st.Time(KeyLastActivity)
	if !got.Equal(now) {
		t.Fatalf("expected %v, got %v", now, got)
	}

	if !st.Time("missing").IsZero() {
		t.Fatal("expected zero time for missing key")
	}
	st["bad"] = "not-a-timestamp"
	if !st.Time("bad").IsZero() {
		t.Fatal("expected zero time for malformed value")
	}
}

func TestInstanceLastActivityFallsBackToUpdatedAt(t *testing.T) {
	updated := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	inst := &Instance{State: State{}, UpdatedAt: updated}

	if got := inst.LastActivity(); !got.Equal(updated) {
		t.Fatalf("expected UpdatedAt fallback, got %v", got)
	}

	activity := updated.Add(time.Hour)
	inst.State.SetTime(KeyLastActivity, activity)
	if got := inst.LastActivity(); !got.Equal(activity) {
		t.Fatalf("expected state lastActivity, got %v", got)
	}
}

func TestInstanceCloneIsDeepForState(t *testing.T) {
	inst := &Instance{
		ID:      "i-1",
		Step:    "review",
		State:   State{"status": "new"},
		Pending: &PendingInterrupt{Step: "review", Reason: "waiting"},
		Version: 2,
		Status:  StatusInterrupted,
	}

	cl := inst.Clone()
	cl.State["status"] = "changed"
	cl.Pending.Reason = "other"
	cl.Version = 9

	if got := inst.State.String("status"); got != "new" {
		t.Fatalf("clone shares state map: %q", got)
	}
	if inst.Pending.Reason != "waiting" {
		t.Fatalf("clone shares pending interrupt: %q", inst.Pending.Reason)
	}
	if inst.Version != 2 {
		t.Fatalf("clone shares version: %d", inst.Version)
	}
}
