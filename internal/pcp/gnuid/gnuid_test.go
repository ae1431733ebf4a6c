package gnuid

import "testing"

func TestNewIsTimeOrdered(t *testing.T) {
	g1 := New()
	g2 := New()
	if !g1.Less(g2) && g1 != g2 {
		t.Fatalf("expected g1 < g2 for sequential New() calls: g1=%s g2=%s", g1, g2)
	}
}

func TestNoneIsZero(t *testing.T) {
	if !None.IsNone() {
		t.Fatalf("expected None.IsNone() true")
	}
	g := New()
	if g.IsNone() {
		t.Fatalf("freshly generated id should not be None")
	}
}

func TestStringIs32UppercaseHex(t *testing.T) {
	g := New()
	s := g.String()
	if len(s) != 32 {
		t.Fatalf("expected 32 hex chars, got %d: %s", len(s), s)
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'A' && c <= 'F')) {
			t.Fatalf("non-uppercase-hex char %q in %s", c, s)
		}
	}
}

func TestTruncate(t *testing.T) {
	g := FromBytes([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	if got := g.Truncate(8); got != "DEADBEEF.." {
		t.Fatalf("unexpected truncation: %s", got)
	}
}

func TestFromBytesPanicsOnWrongLength(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	FromBytes([]byte{1, 2, 3})
}
