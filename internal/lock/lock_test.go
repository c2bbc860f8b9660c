package lock

import "testing"

func TestSortStringsAscending(t *testing.T) {
	in := []string{"p3", "p1", "p2"}
	sortStrings(in)
	want := []string{"p1", "p2", "p3"}
	for i := range want {
		if in[i] != want[i] {
			t.Fatalf("sortStrings = %v, want %v", in, want)
		}
	}
}

func TestWouldDeadlockDetectsCycle(t *testing.T) {
	s := NewService(nil)

	// caller A holds key "p1" and is waiting on key "p2".
	s.owner["p1"] = "A"
	s.waitFor["A"] = "p2"
	// caller B holds key "p2".
	s.owner["p2"] = "B"

	// B now tries to acquire "p1", which A holds while A waits on "p2" —
	// which B holds. That's a cycle: A -> p2 -> B -> p1 -> A.
	if !s.wouldDeadlock("B", "p1") {
		t.Fatal("expected a wait-for cycle to be detected")
	}
}

func TestWouldDeadlockNoFalsePositive(t *testing.T) {
	s := NewService(nil)
	s.owner["p1"] = "A"
	// No one is waiting on anything: acquiring an unrelated lock is safe.
	if s.wouldDeadlock("C", "p1") {
		t.Fatal("did not expect a deadlock where no cycle exists")
	}
}

func TestWouldDeadlockIgnoresUnheldKey(t *testing.T) {
	s := NewService(nil)
	if s.wouldDeadlock("A", "unheld-key") {
		t.Fatal("an unheld key can never cause a deadlock")
	}
}
