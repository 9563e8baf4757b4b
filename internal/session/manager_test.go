package session

import (
	"testing"
	"time"
)

func newManagerSession(id string) (*Session, *fakeRecognizer) {
	rec := &fakeRecognizer{}
	cfg := Config{
		SettleTimeout: 100 * time.Millisecond,
		SettleDelay:   time.Millisecond,
		GoodbyeGrace:  time.Millisecond,
		RetryDelay:    time.Millisecond,
	}
	factory := &synthFactory{}
	sess := New(id, cfg, testLogger(), rec, &fakeResponder{}, factory.new, &fakeSender{})
	return sess, rec
}

func TestManagerAddAndGet(t *testing.T) {
	mgr := NewManager(testLogger(), time.Minute, 0)
	defer mgr.Stop()

	sess, _ := newManagerSession("MZ-1")
	if err := mgr.Add("MZ-1", sess); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got, ok := mgr.Get("MZ-1")
	if !ok || got != sess {
		t.Error("Get did not return the registered session")
	}
	if mgr.Count() != 1 {
		t.Errorf("expected count 1, got %d", mgr.Count())
	}
}

func TestManagerRejectsDuplicateStream(t *testing.T) {
	mgr := NewManager(testLogger(), time.Minute, 0)
	defer mgr.Stop()

	first, _ := newManagerSession("MZ-1")
	second, _ := newManagerSession("MZ-1")

	if err := mgr.Add("MZ-1", first); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := mgr.Add("MZ-1", second); err == nil {
		t.Error("expected duplicate stream ID to be rejected")
	}
}

func TestManagerEnforcesConcurrentCallLimit(t *testing.T) {
	mgr := NewManager(testLogger(), time.Minute, 1)
	defer mgr.Stop()

	first, _ := newManagerSession("MZ-1")
	second, _ := newManagerSession("MZ-2")

	if err := mgr.Add("MZ-1", first); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := mgr.Add("MZ-2", second); err == nil {
		t.Error("expected concurrent call limit to reject the second session")
	}
}

func TestManagerRemoveStopsSession(t *testing.T) {
	mgr := NewManager(testLogger(), time.Minute, 0)
	defer mgr.Stop()

	sess, rec := newManagerSession("MZ-1")
	if err := mgr.Add("MZ-1", sess); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if !mgr.Remove("MZ-1") {
		t.Fatal("Remove returned false for a live session")
	}
	if mgr.Remove("MZ-1") {
		t.Error("Remove returned true for an already removed session")
	}

	if sess.State() != StateEnded {
		t.Errorf("removed session not ended, state %s", sess.State())
	}
	if rec.closes() != 1 {
		t.Errorf("recognizer close count = %d", rec.closes())
	}
	if mgr.Count() != 0 {
		t.Errorf("expected count 0, got %d", mgr.Count())
	}
}

func TestManagerCleanupEndsStaleSessions(t *testing.T) {
	mgr := NewManager(testLogger(), 10*time.Millisecond, 0)
	defer mgr.Stop()

	sess, _ := newManagerSession("MZ-1")
	if err := mgr.Add("MZ-1", sess); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	mgr.cleanupStaleSessions()

	if mgr.Count() != 0 {
		t.Errorf("stale session not evicted, count %d", mgr.Count())
	}
	if sess.State() != StateEnded {
		t.Errorf("stale session not ended, state %s", sess.State())
	}
}

func TestManagerStopEndsAllSessions(t *testing.T) {
	mgr := NewManager(testLogger(), time.Minute, 0)

	first, _ := newManagerSession("MZ-1")
	second, _ := newManagerSession("MZ-2")
	_ = mgr.Add("MZ-1", first)
	_ = mgr.Add("MZ-2", second)

	mgr.Stop()

	if first.State() != StateEnded || second.State() != StateEnded {
		t.Error("Stop must end every live session")
	}
	if mgr.Count() != 0 {
		t.Errorf("expected count 0 after Stop, got %d", mgr.Count())
	}
}

func TestManagerSnapshots(t *testing.T) {
	mgr := NewManager(testLogger(), time.Minute, 0)
	defer mgr.Stop()

	sess, _ := newManagerSession("MZ-1")
	_ = mgr.Add("MZ-1", sess)

	infos := mgr.Snapshots()
	if len(infos) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(infos))
	}
	if infos[0].StreamID != "MZ-1" {
		t.Errorf("unexpected stream ID %q", infos[0].StreamID)
	}
	if infos[0].State != StateConnecting.String() {
		t.Errorf("unexpected state %q", infos[0].State)
	}
}
