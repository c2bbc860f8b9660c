package quantity

import "testing"

func TestNewRejectsNegative(t *testing.T) {
	if _, err := New(-1); err == nil {
		t.Fatal("expected negative quantity to be rejected")
	}
}

func TestSubUnderflowFails(t *testing.T) {
	q, _ := New(3)
	if _, err := q.Sub(5); err == nil {
		t.Fatal("expected underflow to fail explicitly")
	}
}

func TestSubHappyPath(t *testing.T) {
	q, _ := New(10)
	got, err := q.Sub(4)
	if err != nil {
		t.Fatalf("Sub: %v", err)
	}
	if got != 6 {
		t.Fatalf("got %d, want 6", got)
	}
}

func TestAddOverflowFails(t *testing.T) {
	if _, err := Quantity(math_MaxUint64()).Add(1); err == nil {
		t.Fatal("expected overflow to fail")
	}
}

func math_MaxUint64() uint64 {
	return 1<<64 - 1
}

func TestGreaterOrEqual(t *testing.T) {
	a, _ := New(5)
	b, _ := New(5)
	c, _ := New(4)
	if !a.GreaterOrEqual(b) {
		t.Fatal("5 >= 5 should be true")
	}
	if !a.GreaterOrEqual(c) {
		t.Fatal("5 >= 4 should be true")
	}
	if c.GreaterOrEqual(a) {
		t.Fatal("4 >= 5 should be false")
	}
}
