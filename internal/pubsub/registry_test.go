package pubsub

import (
	"testing"

	"kvsd/internal/session"
)

type fakeStore struct {
	present map[string]bool
}

func (f *fakeStore) Exists(key string) (bool, error) {
	return f.present[key], nil
}

func newTestSession(t *testing.T, tbl *session.Table) *session.Session {
	t.Helper()
	s, ok := tbl.Claim("/tmp/req", "/tmp/resp", "/tmp/notif")
	if !ok {
		t.Fatal("failed to claim a session slot")
	}
	return s
}

func TestRegistrySubscribe(t *testing.T) {
	tbl := session.NewTable(4)
	store := &fakeStore{present: map[string]bool{"alpha": true}}
	reg := NewRegistry(tbl, store, 0)
	s := newTestSession(t, tbl)

	if err := reg.Subscribe(s, "alpha"); err != nil {
		t.Fatalf("Subscribe(alpha) = %v, want nil", err)
	}
	if len(s.SubscribedKeys) != 1 || s.SubscribedKeys[0] != "alpha" {
		t.Errorf("SubscribedKeys = %v, want [alpha]", s.SubscribedKeys)
	}
}

func TestRegistrySubscribeNoSuchKey(t *testing.T) {
	tbl := session.NewTable(4)
	store := &fakeStore{present: map[string]bool{}}
	reg := NewRegistry(tbl, store, 0)
	s := newTestSession(t, tbl)

	if err := reg.Subscribe(s, "missing"); err != ErrNoSuchKey {
		t.Errorf("Subscribe(missing) = %v, want ErrNoSuchKey", err)
	}
}

func TestRegistrySubscribeAlreadySubscribed(t *testing.T) {
	tbl := session.NewTable(4)
	store := &fakeStore{present: map[string]bool{"alpha": true}}
	reg := NewRegistry(tbl, store, 0)
	s := newTestSession(t, tbl)

	reg.Subscribe(s, "alpha")
	if err := reg.Subscribe(s, "alpha"); err != ErrAlreadySubscribed {
		t.Errorf("second Subscribe(alpha) = %v, want ErrAlreadySubscribed", err)
	}
}

func TestRegistrySubscribeCapacity(t *testing.T) {
	tbl := session.NewTable(4)
	store := &fakeStore{present: map[string]bool{"a": true, "b": true}}
	reg := NewRegistry(tbl, store, 1)
	s := newTestSession(t, tbl)

	if err := reg.Subscribe(s, "a"); err != nil {
		t.Fatalf("first Subscribe = %v, want nil", err)
	}
	if err := reg.Subscribe(s, "b"); err != ErrCapacity {
		t.Errorf("Subscribe over capacity = %v, want ErrCapacity", err)
	}
}

func TestRegistryUnsubscribe(t *testing.T) {
	tbl := session.NewTable(4)
	store := &fakeStore{present: map[string]bool{"alpha": true}}
	reg := NewRegistry(tbl, store, 0)
	s := newTestSession(t, tbl)
	reg.Subscribe(s, "alpha")

	if !reg.Unsubscribe(s, "alpha") {
		t.Error("Unsubscribe(alpha) should report wasSubscribed=true")
	}
	if len(s.SubscribedKeys) != 0 {
		t.Errorf("SubscribedKeys after unsubscribe = %v, want empty", s.SubscribedKeys)
	}
}

func TestRegistryUnsubscribeNotSubscribed(t *testing.T) {
	tbl := session.NewTable(4)
	store := &fakeStore{present: map[string]bool{}}
	reg := NewRegistry(tbl, store, 0)
	s := newTestSession(t, tbl)

	if reg.Unsubscribe(s, "alpha") {
		t.Error("Unsubscribe on a key never subscribed should report false")
	}
}

func TestRegistryUnsubscribePreservesOrder(t *testing.T) {
	tbl := session.NewTable(4)
	store := &fakeStore{present: map[string]bool{"a": true, "b": true, "c": true}}
	reg := NewRegistry(tbl, store, 0)
	s := newTestSession(t, tbl)
	reg.Subscribe(s, "a")
	reg.Subscribe(s, "b")
	reg.Subscribe(s, "c")

	reg.Unsubscribe(s, "b")

	want := []string{"a", "c"}
	if len(s.SubscribedKeys) != len(want) {
		t.Fatalf("SubscribedKeys = %v, want %v", s.SubscribedKeys, want)
	}
	for i := range want {
		if s.SubscribedKeys[i] != want[i] {
			t.Errorf("SubscribedKeys[%d] = %q, want %q", i, s.SubscribedKeys[i], want[i])
		}
	}
}

func TestRegistryDropAll(t *testing.T) {
	tbl := session.NewTable(4)
	store := &fakeStore{present: map[string]bool{"a": true, "b": true}}
	reg := NewRegistry(tbl, store, 0)
	s := newTestSession(t, tbl)
	reg.Subscribe(s, "a")
	reg.Subscribe(s, "b")

	reg.DropAll(s)

	if len(s.SubscribedKeys) != 0 {
		t.Errorf("SubscribedKeys after DropAll = %v, want empty", s.SubscribedKeys)
	}
}
