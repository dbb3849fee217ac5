package guard

import (
	"context"
	"testing"
)

func TestAcquireSupersedesPriorRun(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	firstCtx, firstLease := r.Acquire(context.Background(), "Ivan Petrov", "sess-1")
	secondCtx, secondLease := r.Acquire(context.Background(), "ivan  petrov", "sess-2")

	select {
	case <-firstCtx.Done():
	default:
		t.Fatal("first run's context should be cancelled when superseded")
	}
	if secondCtx.Err() != nil {
		t.Fatal("second run's context should still be live")
	}

	if id, ok := r.ActiveSession("IVAN PETROV"); !ok || id != "sess-2" {
		t.Fatalf("expected sess-2 to hold the slot, got %q ok=%v", id, ok)
	}

	// The superseded run's release must not evict the successor.
	r.Release(firstLease)
	if id, ok := r.ActiveSession("ivan petrov"); !ok || id != "sess-2" {
		t.Fatalf("stale release evicted successor: %q ok=%v", id, ok)
	}

	r.Release(secondLease)
	if _, ok := r.ActiveSession("ivan petrov"); ok {
		t.Fatal("slot should be free after owner release")
	}
	if secondCtx.Err() == nil {
		t.Fatal("release should cancel the run context")
	}
}

func TestDistinctSubjectsDoNotInterfere(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	aCtx, _ := r.Acquire(context.Background(), "张三", "sess-a")
	bCtx, _ := r.Acquire(context.Background(), "李四", "sess-b")

	if aCtx.Err() != nil || bCtx.Err() != nil {
		t.Fatal("runs for distinct subjects must not cancel each other")
	}
}
