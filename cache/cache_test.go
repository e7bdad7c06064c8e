package cache

import (
	"context"
	"testing"
	"time"

	"github.com/marktorrescoding/straightshotauto/coerce"
	"github.com/marktorrescoding/straightshotauto/dbopen"
	"github.com/marktorrescoding/straightshotauto/snapshot"
	_ "modernc.org/sqlite"
)

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s := New(dbopen.OpenMemory(t), opts...)
	if err := s.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	return s
}

func testSnap() snapshot.Snapshot {
	return snapshot.Snapshot{URL: "https://cars.example.com/l/42", Year: 2017, Make: "Subaru", Model: "Outback"}
}

func TestLookupMissThenHit(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	snap := testSnap()

	if _, ok, err := s.Lookup(ctx, snap); err != nil || ok {
		t.Fatalf("expected clean miss, ok=%v err=%v", ok, err)
	}

	want := coerce.Analysis{Summary: "well kept wagon", FinalVerdict: "Good", OverallScore: 70, Confidence: 0.7,
		Upsides: []string{"low miles"}, Issues: []string{}, Risks: []string{}, QuestionsToAsk: []string{}, NegotiationTips: []string{}, Notes: []string{}}
	if err := s.Store(ctx, snap, want); err != nil {
		t.Fatalf("store: %v", err)
	}

	got, ok, err := s.Lookup(ctx, snap)
	if err != nil || !ok {
		t.Fatalf("expected hit, ok=%v err=%v", ok, err)
	}
	if got.Summary != want.Summary || got.OverallScore != want.OverallScore || got.Upsides[0] != "low miles" {
		t.Errorf("round trip mismatch: %+v", got)
	}
}

func TestIdenticalSnapshotsShareEntry(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	a := testSnap()
	b := testSnap()
	b.Make = "  Subaru "
	b.Location = "Boise, ID" // not analysis-relevant

	if err := s.Store(ctx, a, coerce.Analysis{Summary: "x", FinalVerdict: "y"}); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.Lookup(ctx, b); !ok {
		t.Error("field-for-field identical snapshot must hit the same entry")
	}
}

func TestTTLExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	s := newStore(t, WithTTL(time.Hour), WithClock(func() time.Time { return clock() }))
	ctx := context.Background()
	snap := testSnap()

	if err := s.Store(ctx, snap, coerce.Analysis{Summary: "x"}); err != nil {
		t.Fatal(err)
	}

	now = now.Add(2 * time.Hour)
	clock = func() time.Time { return now }
	if _, ok, err := s.Lookup(ctx, snap); err != nil || ok {
		t.Fatalf("expired entry must miss, ok=%v err=%v", ok, err)
	}

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Entries != 0 {
		t.Errorf("expired row should be deleted on lookup, entries=%d", st.Entries)
	}
}

func TestSweep(t *testing.T) {
	now := time.Now()
	s := newStore(t, WithTTL(time.Hour), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if err := s.Store(ctx, testSnap(), coerce.Analysis{Summary: "x"}); err != nil {
		t.Fatal(err)
	}
	other := testSnap()
	other.Year = 2020
	if err := s.Store(ctx, other, coerce.Analysis{Summary: "y"}); err != nil {
		t.Fatal(err)
	}

	now = now.Add(3 * time.Hour)
	n, err := s.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("swept %d rows, want 2", n)
	}
}

func TestStatsCounters(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	snap := testSnap()

	s.Lookup(ctx, snap) // miss
	s.Store(ctx, snap, coerce.Analysis{Summary: "x"})
	s.Lookup(ctx, snap) // hit

	st, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Hits != 1 || st.Misses != 1 || st.Entries != 1 {
		t.Errorf("stats = %+v", st)
	}
}
