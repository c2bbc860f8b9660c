package ids

import "testing"

func TestNewProducesDistinctIDs(t *testing.T) {
	a, b := New(), New()
	if a.Equal(b) {
		t.Fatal("expected two freshly generated IDs to differ")
	}
	if a.IsNil() || b.IsNil() {
		t.Fatal("freshly generated ID must not be nil")
	}
}

func TestParseRoundTrip(t *testing.T) {
	original := New()
	parsed, err := Parse(original.String())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !original.Equal(parsed) {
		t.Fatalf("round trip mismatch: %s != %s", original, parsed)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	if _, err := Parse("not-an-id"); err == nil {
		t.Fatal("expected Parse to reject malformed input")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	original := New()
	b, err := original.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var decoded ID
	if err := decoded.UnmarshalJSON(b); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if !original.Equal(decoded) {
		t.Fatalf("JSON round trip mismatch: %s != %s", original, decoded)
	}
}

func TestNilID(t *testing.T) {
	if !Nil.IsNil() {
		t.Fatal("Nil.IsNil() should be true")
	}
	if New().IsNil() {
		t.Fatal("New().IsNil() should be false")
	}
}
