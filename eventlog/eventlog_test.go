package eventlog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mosbree/embedkeeper/dbopen"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	s := NewStore(db)
	if err := s.Init(); err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRecordAndRecent(t *testing.T) {
	s := testStore(t)

	for i := 0; i < 5; i++ {
		s.RecordAsync(&Event{
			PassID:   "pass_1",
			Node:     int64(i + 1),
			Kind:     "status",
			Outcome:  "measured",
			HeightPx: 500 + i,
		})
	}
	// Close drains the buffer, so everything is flushed.
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	events, err := s.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 5 {
		t.Fatalf("got %d events, want 5", len(events))
	}
	// Newest first.
	if events[0].Node != 5 || events[4].Node != 1 {
		t.Fatalf("unexpected order: first node %d, last node %d", events[0].Node, events[4].Node)
	}
	for _, e := range events {
		if e.Timestamp == 0 {
			t.Fatal("timestamp not stamped")
		}
		if e.PassID != "pass_1" {
			t.Fatalf("pass = %q", e.PassID)
		}
	}
}

func TestRecentLimit(t *testing.T) {
	s := testStore(t)
	for i := 0; i < 10; i++ {
		s.RecordAsync(&Event{PassID: "p", Node: int64(i), Kind: "k", Outcome: "fallback"})
	}
	s.Close()

	events, err := s.Recent(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	s.RecordAsync(&Event{PassID: "p", Node: 1, Kind: "status", Outcome: "measured"})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Reopen and read back.
	s2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	events, err := s2.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events after reopen, want 1", len(events))
	}
}

func TestCloseIdempotent(t *testing.T) {
	s := testStore(t)
	s.Close()
	s.Close()
}
