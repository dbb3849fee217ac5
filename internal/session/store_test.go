package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"horse.fit/amscreen/internal/globaltime"
	"horse.fit/amscreen/internal/screen"
	"horse.fit/amscreen/internal/search"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	s := &Session{
		SessionID:   "sess-1",
		SubjectName: "张三",
		Phase:       PhaseGather,
		Gathered: []search.Hit{
			{URL: "https://example.com/a", Title: "a"},
		},
	}
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.SubjectName != "张三" || got.Phase != PhaseGather || len(got.Gathered) != 1 {
		t.Fatalf("unexpected session: %+v", got)
	}
	if got.UpdatedAt.IsZero() {
		t.Fatal("expected UpdatedAt to be set on save")
	}
}

func TestMemoryStoreGetMissing(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(time.Hour)
	if _, err := store.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	if err := store.Save(ctx, &Session{SessionID: "sess-1", Phase: PhaseGather}); err != nil {
		t.Fatalf("save: %v", err)
	}
	first, _ := store.Get(ctx, "sess-1")
	first.Phase = PhaseComplete

	second, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if second.Phase != PhaseGather {
		t.Fatalf("mutation of returned session leaked into store: phase=%s", second.Phase)
	}
}

func TestMemoryStorePauseSurvivesCheckpoint(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	working := &Session{SessionID: "sess-1", Phase: PhaseAnalyze}
	if err := store.Save(ctx, working); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Pause lands while the orchestrator holds a stale working copy.
	if err := store.SetPaused(ctx, "sess-1", true); err != nil {
		t.Fatalf("set paused: %v", err)
	}
	working.CurrentIndex = 3
	if err := store.Save(ctx, working); err != nil {
		t.Fatalf("checkpoint save: %v", err)
	}

	paused, err := store.IsPaused(ctx, "sess-1")
	if err != nil {
		t.Fatalf("is paused: %v", err)
	}
	if !paused {
		t.Fatal("checkpoint save cleared the pause flag")
	}
	got, _ := store.Get(ctx, "sess-1")
	if got.CurrentIndex != 3 {
		t.Fatalf("checkpoint progress lost: index=%d", got.CurrentIndex)
	}
}

func TestMemoryStoreEvictsCompletedAfterTTL(t *testing.T) {
	globaltime.SetMockTime(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	defer globaltime.ResetTime()

	store := NewMemoryStore(time.Hour)
	ctx := context.Background()

	done := globaltime.Now()
	complete := &Session{SessionID: "done", Phase: PhaseComplete, CompletedAt: &done}
	running := &Session{SessionID: "running", Phase: PhaseAnalyze}
	if err := store.Save(ctx, complete); err != nil {
		t.Fatalf("save complete: %v", err)
	}
	if err := store.Save(ctx, running); err != nil {
		t.Fatalf("save running: %v", err)
	}

	globaltime.SetMockTime(done.Add(2 * time.Hour))

	if _, err := store.Get(ctx, "done"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected completed session to expire, got %v", err)
	}
	if _, err := store.Get(ctx, "running"); err != nil {
		t.Fatalf("in-flight session must never expire: %v", err)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].SessionID != "running" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestSessionSummaryCounts(t *testing.T) {
	t.Parallel()

	s := &Session{
		SessionID:   "sess-1",
		SubjectName: "Ivan Petrov",
		Phase:       PhaseConsolidate,
		Findings: []RawFinding{
			{URL: "u1", Severity: screen.CategoryRed},
			{URL: "u2", Severity: screen.CategoryAmber},
			{URL: "u3", Severity: screen.CategoryRed},
		},
	}
	sum := s.Summary()
	if sum.RedCount != 2 || sum.AmberCount != 1 {
		t.Fatalf("unexpected counts: red=%d amber=%d", sum.RedCount, sum.AmberCount)
	}
	if sum.Progress != "consolidating findings" {
		t.Fatalf("unexpected progress text: %q", sum.Progress)
	}
}

func TestNormalizeSubject(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in, want string
	}{
		{"  Ivan   Petrov ", "ivan petrov"},
		{"IVAN PETROV", "ivan petrov"},
		{"张三", "张三"},
	}
	for _, tc := range cases {
		if got := NormalizeSubject(tc.in); got != tc.want {
			t.Fatalf("NormalizeSubject(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestPhaseOrdering(t *testing.T) {
	t.Parallel()

	if !PhaseGather.Before(PhaseEliminate) {
		t.Fatal("gather must precede eliminate")
	}
	if !PhaseCluster.Before(PhaseComplete) {
		t.Fatal("cluster must precede complete")
	}
	if PhaseComplete.Before(PhaseGather) {
		t.Fatal("complete must not precede gather")
	}
	if Phase("bogus").Valid() {
		t.Fatal("unknown phase reported valid")
	}
}
