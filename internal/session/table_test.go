package session

import "testing"

func TestNewTableDefaultsCapacity(t *testing.T) {
	tbl := NewTable(0)
	if tbl.Capacity() != 32 {
		t.Errorf("Capacity = %d, want default 32", tbl.Capacity())
	}
}

func TestTableClaim(t *testing.T) {
	tbl := NewTable(2)

	s, ok := tbl.Claim("/tmp/req1", "/tmp/resp1", "/tmp/notif1")
	if !ok {
		t.Fatal("Claim should succeed on a fresh table")
	}
	if s.State != StateOpening {
		t.Errorf("claimed session state = %v, want StateOpening", s.State)
	}
	if !s.Active {
		t.Error("claimed session should be Active")
	}
	if s.NotifFD != -1 {
		t.Errorf("claimed session NotifFD = %d, want -1", s.NotifFD)
	}
}

func TestTableClaimFullCapacity(t *testing.T) {
	tbl := NewTable(1)

	if _, ok := tbl.Claim("/tmp/req1", "/tmp/resp1", "/tmp/notif1"); !ok {
		t.Fatal("first Claim should succeed")
	}
	if _, ok := tbl.Claim("/tmp/req2", "/tmp/resp2", "/tmp/notif2"); ok {
		t.Fatal("second Claim on a full table should fail")
	}
}

func TestTableClaimReusesFreedSlot(t *testing.T) {
	tbl := NewTable(1)

	s, _ := tbl.Claim("/tmp/req1", "/tmp/resp1", "/tmp/notif1")
	tbl.Release(s)

	_, ok := tbl.Claim("/tmp/req2", "/tmp/resp2", "/tmp/notif2")
	if !ok {
		t.Fatal("Claim should reuse a slot freed by Release")
	}
}

func TestTableActivate(t *testing.T) {
	tbl := NewTable(1)
	s, _ := tbl.Claim("/tmp/req1", "/tmp/resp1", "/tmp/notif1")

	called := false
	tbl.Activate(s, nil, 7, func() { called = true })

	if s.State != StateRunning {
		t.Errorf("state after Activate = %v, want StateRunning", s.State)
	}
	if s.NotifFD != 7 {
		t.Errorf("NotifFD after Activate = %d, want 7", s.NotifFD)
	}
	tbl.Cancel(s)
	if !called {
		t.Error("Cancel should invoke the func installed by Activate")
	}
}

func TestTableRelease(t *testing.T) {
	tbl := NewTable(1)
	s, _ := tbl.Claim("/tmp/req1", "/tmp/resp1", "/tmp/notif1")
	s.SubscribedKeys = []string{"a", "b"}
	tbl.Activate(s, nil, -1, func() {})

	tbl.Release(s)

	if s.Active {
		t.Error("released session should not be Active")
	}
	if s.State != StateClosed {
		t.Errorf("released session state = %v, want StateClosed", s.State)
	}
	if s.SubscribedKeys != nil {
		t.Error("released session should have cleared SubscribedKeys")
	}
}

func TestTableForEachActiveSkipsFreeSlots(t *testing.T) {
	tbl := NewTable(3)
	tbl.Claim("/tmp/req1", "/tmp/resp1", "/tmp/notif1")

	seen := 0
	tbl.ForEachActive(func(s *Session) { seen++ })

	if seen != 1 {
		t.Errorf("ForEachActive visited %d sessions, want 1", seen)
	}
}

func TestTableActiveCount(t *testing.T) {
	tbl := NewTable(3)
	if tbl.ActiveCount() != 0 {
		t.Fatal("a fresh table should report 0 active sessions")
	}
	tbl.Claim("/tmp/req1", "/tmp/resp1", "/tmp/notif1")
	tbl.Claim("/tmp/req2", "/tmp/resp2", "/tmp/notif2")
	if tbl.ActiveCount() != 2 {
		t.Errorf("ActiveCount = %d, want 2", tbl.ActiveCount())
	}
}

func TestMarkLossy(t *testing.T) {
	tbl := NewTable(1)
	s, _ := tbl.Claim("/tmp/req1", "/tmp/resp1", "/tmp/notif1")

	if s.Lossy.Load() {
		t.Fatal("a freshly claimed session should not be lossy")
	}
	MarkLossy(s)
	if !s.Lossy.Load() {
		t.Error("MarkLossy should set the Lossy flag")
	}
}

func TestTableWithLock(t *testing.T) {
	tbl := NewTable(1)
	ran := false
	tbl.WithLock(func() { ran = true })
	if !ran {
		t.Error("WithLock should invoke the supplied func")
	}
}

func TestStateString(t *testing.T) {
	cases := map[State]string{
		StateFree:     "free",
		StateOpening:  "opening",
		StateRunning:  "running",
		StateClosing:  "closing",
		StateClosed:   "closed",
		State(99):     "unknown",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", state, got, want)
		}
	}
}
