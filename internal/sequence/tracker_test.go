package sequence

import (
	"testing"
	"time"
)

func prime(t *testing.T, tr *Tracker, channel string) {
	t.Helper()
	dup, ready := tr.Process(channel, 0, "seed")
	if dup || len(ready) != 1 {
		t.Fatalf("priming message rejected: dup=%v ready=%d", dup, len(ready))
	}
}

func TestFirstMessageAcceptedUnconditionally(t *testing.T) {
	tr := New()
	dup, ready := tr.Process("ticker", 41, "m41")
	if dup {
		t.Fatal("first message must never be a duplicate")
	}
	if len(ready) != 1 || ready[0] != "m41" {
		t.Fatalf("first message must be delivered immediately, got %v", ready)
	}
	// next-expected is now 42
	dup, ready = tr.Process("ticker", 42, "m42")
	if dup || len(ready) != 1 {
		t.Fatalf("contiguous follow-up rejected: dup=%v ready=%v", dup, ready)
	}
}

func TestAllPermutationsDeliverInOrder(t *testing.T) {
	perms := [][]uint64{
		{1, 2, 3}, {1, 3, 2}, {2, 1, 3}, {2, 3, 1}, {3, 1, 2}, {3, 2, 1},
	}
	for _, perm := range perms {
		tr := New()
		prime(t, tr, "book")

		var delivered []uint64
		for _, seq := range perm {
			dup, ready := tr.Process("book", seq, seq)
			if dup {
				t.Fatalf("perm %v: sequence %d wrongly flagged duplicate", perm, seq)
			}
			for _, msg := range ready {
				delivered = append(delivered, msg.(uint64))
			}
		}
		if len(delivered) != 3 {
			t.Fatalf("perm %v: expected 3 deliveries, got %v", perm, delivered)
		}
		for i, want := range []uint64{1, 2, 3} {
			if delivered[i] != want {
				t.Fatalf("perm %v: out-of-order delivery %v", perm, delivered)
			}
		}
	}
}

func TestDuplicateAfterLaterAcceptance(t *testing.T) {
	tr := New()
	prime(t, tr, "trade")
	for seq := uint64(1); seq <= 6; seq++ {
		tr.Process("trade", seq, seq)
	}
	dup, ready := tr.Process("trade", 5, "replay")
	if !dup {
		t.Fatal("replayed sequence 5 after 6 must be reported as duplicate")
	}
	if len(ready) != 0 {
		t.Fatalf("duplicates must never be forwarded, got %v", ready)
	}
	if got := tr.Stats().Duplicates; got != 1 {
		t.Fatalf("expected duplicate counter 1, got %d", got)
	}
}

func TestGapTimeoutEvictsWithoutBlockingOtherChannels(t *testing.T) {
	current := time.Unix(1000, 0)
	tr := New(WithBufferTTL(time.Second), WithClock(func() time.Time { return current }))
	prime(t, tr, "x")
	prime(t, tr, "y")

	// Buffer a future sequence on channel x; the gap (1..4) never fills.
	if dup, ready := tr.Process("x", 5, "x5"); dup || len(ready) != 0 {
		t.Fatalf("future sequence must buffer: dup=%v ready=%v", dup, ready)
	}

	current = current.Add(2 * time.Second)
	tr.Sweep()

	stats := tr.Stats()
	if stats.GapDrops != 1 {
		t.Fatalf("expected 1 gap drop, got %d", stats.GapDrops)
	}

	// Channel y is unrelated and must deliver normally.
	if dup, ready := tr.Process("y", 1, "y1"); dup || len(ready) != 1 {
		t.Fatalf("unrelated channel blocked: dup=%v ready=%v", dup, ready)
	}
	// Channel x resumes past the abandoned gap.
	if dup, ready := tr.Process("x", 6, "x6"); dup || len(ready) != 1 {
		t.Fatalf("channel x must resume after gap eviction: dup=%v ready=%v", dup, ready)
	}
}

func TestBufferCapacityEvictsOldestSequenceFirst(t *testing.T) {
	tr := New(WithBufferCapacity(2))
	prime(t, tr, "c")

	tr.Process("c", 10, "m10")
	tr.Process("c", 11, "m11")
	tr.Process("c", 12, "m12") // evicts 10

	if got := tr.Stats().GapDrops; got != 1 {
		t.Fatalf("expected oldest buffered entry evicted, gap drops=%d", got)
	}
}

func TestChannelsHaveIndependentSequenceSpaces(t *testing.T) {
	tr := New()
	tr.Process("a", 100, "a100")
	dup, ready := tr.Process("b", 1, "b1")
	if dup || len(ready) != 1 {
		t.Fatalf("channel b must not inherit channel a state: dup=%v ready=%v", dup, ready)
	}
}

func TestResetRestartsTracking(t *testing.T) {
	tr := New()
	tr.Process("a", 7, "m7")
	tr.Reset("a")
	dup, ready := tr.Process("a", 1, "m1")
	if dup || len(ready) != 1 {
		t.Fatalf("reset channel must accept a fresh session: dup=%v ready=%v", dup, ready)
	}
}

func TestBufferedDuplicateCounted(t *testing.T) {
	tr := New()
	prime(t, tr, "d")
	tr.Process("d", 5, "m5")
	dup, _ := tr.Process("d", 5, "m5-again")
	if !dup {
		t.Fatal("re-buffering the same future sequence must be a duplicate")
	}
}
