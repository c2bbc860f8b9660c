package money

import "testing"

func mustNew(t *testing.T, major, cents int64, cur string) Money {
	t.Helper()
	m, err := New(major, cents, cur)
	if err != nil {
		t.Fatalf("New(%d,%d,%s): %v", major, cents, cur, err)
	}
	return m
}

func TestAddRequiresSameCurrency(t *testing.T) {
	usd := mustNew(t, 10, 0, "USD")
	eur := mustNew(t, 10, 0, "EUR")
	if _, err := usd.Add(eur); err == nil {
		t.Fatal("expected currency mismatch error")
	}
}

func TestAddSub(t *testing.T) {
	a := mustNew(t, 10, 50, "USD")
	b := mustNew(t, 2, 25, "USD")
	sum, err := a.Add(b)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if sum.MinorUnits() != 1275 {
		t.Fatalf("expected 1275 minor units, got %d", sum.MinorUnits())
	}
	diff, err := a.Sub(b)
	if err != nil {
		t.Fatalf("Sub: %v", err)
	}
	if diff.MinorUnits() != 825 {
		t.Fatalf("expected 825 minor units, got %d", diff.MinorUnits())
	}
}

func TestMulScalarRejectsNegative(t *testing.T) {
	a := mustNew(t, 1, 0, "USD")
	if _, err := a.MulScalar(-1); err == nil {
		t.Fatal("expected negative scalar to be rejected")
	}
}

func TestDivScalarHalfEven(t *testing.T) {
	cases := []struct {
		minor    int64
		divisor  int64
		expected int64
	}{
		{100, 4, 25},  // exact
		{101, 2, 50},  // 50.5 -> round to even (50)
		{103, 2, 52},  // 51.5 -> round to even (52)
		{10, 4, 2},    // 2.5 -> round to even (2)
	}
	for _, c := range cases {
		m, _ := NewFromMinorUnits(c.minor, "USD")
		got, err := m.DivScalar(c.divisor)
		if err != nil {
			t.Fatalf("DivScalar(%d,%d): %v", c.minor, c.divisor, err)
		}
		if c.minor == 10 && c.divisor == 4 {
			// 10/4 = 2.5 -> half-even rounds to 2
			if got.MinorUnits() != 2 {
				t.Fatalf("DivScalar(10,4) = %d, want 2", got.MinorUnits())
			}
			continue
		}
		if got.MinorUnits() != c.expected {
			t.Fatalf("DivScalar(%d,%d) = %d, want %d", c.minor, c.divisor, got.MinorUnits(), c.expected)
		}
	}
}

func TestDivScalarRejectsNonPositive(t *testing.T) {
	a := mustNew(t, 10, 0, "USD")
	if _, err := a.DivScalar(0); err == nil {
		t.Fatal("expected zero divisor to be rejected")
	}
	if _, err := a.DivScalar(-1); err == nil {
		t.Fatal("expected negative divisor to be rejected")
	}
}

func TestSumRequiresSameCurrency(t *testing.T) {
	amounts := []Money{
		mustNew(t, 1, 0, "USD"),
		mustNew(t, 2, 0, "EUR"),
	}
	if _, err := Sum(amounts); err == nil {
		t.Fatal("expected currency mismatch in Sum")
	}
}

func TestCompare(t *testing.T) {
	a := mustNew(t, 10, 0, "USD")
	b := mustNew(t, 5, 0, "USD")
	if a.Compare(b) <= 0 {
		t.Fatal("expected a > b")
	}
	if b.Compare(a) >= 0 {
		t.Fatal("expected b < a")
	}
	if a.Compare(a) != 0 {
		t.Fatal("expected a == a")
	}
}

func TestString(t *testing.T) {
	a := mustNew(t, 10, 5, "USD")
	if got, want := a.String(), "10.05 USD"; got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
}
