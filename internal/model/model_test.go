package model

import "testing"

func TestTransferKindStringRoundTrip(t *testing.T) {
	for k := Sync; k <= StateFile; k++ {
		got, ok := ParseTransferKind(k.String())
		if !ok || got != k {
			t.Fatalf("ParseTransferKind(%q) = %v, %v; want %v, true", k.String(), got, ok, k)
		}
	}
}

func TestHandleStateTerminal(t *testing.T) {
	cases := map[HandleState]bool{
		Created:    true,
		Dispatched: false,
		Completed:  true,
		Error:      true,
		Cancelled:  true,
	}
	for state, want := range cases {
		if got := state.Terminal(); got != want {
			t.Errorf("%v.Terminal() = %v, want %v", state, got, want)
		}
	}
}

func TestHandleAddFileOrderAndDuplicate(t *testing.T) {
	h := NewHandle(1, Sync, "alice", "")
	if !h.AddFile("/a", "/dst/a") {
		t.Fatal("first AddFile should succeed")
	}
	if !h.AddFile("/b", "/dst/b") {
		t.Fatal("second AddFile should succeed")
	}
	if h.AddFile("/a", "/dst/other") {
		t.Fatal("duplicate source should be rejected")
	}

	var order []string
	h.RangeFiles(func(fe *FileEntry) { order = append(order, fe.Source) })
	if len(order) != 2 || order[0] != "/a" || order[1] != "/b" {
		t.Fatalf("unexpected file order: %v", order)
	}
}

func TestHandleAggregateStates(t *testing.T) {
	h := NewHandle(1, Sync, "alice", "")
	h.AddFile("/a", "/dst/a")
	h.AddFile("/b", "/dst/b")

	if h.AllAtDestination() {
		t.Fatal("expected not all at destination yet")
	}
	h.Entries["/a"].State = AtDestination
	h.Entries["/b"].State = AtDestination
	if !h.AllAtDestination() {
		t.Fatal("expected all at destination")
	}
	if h.AnyError() {
		t.Fatal("expected no error")
	}

	h.Entries["/b"].State = FileError
	if !h.AnyError() {
		t.Fatal("expected AnyError true")
	}
	if h.AllAtDestination() {
		t.Fatal("AllAtDestination should be false once a file errors")
	}
}
