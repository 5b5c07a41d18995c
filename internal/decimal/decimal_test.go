package decimal

import (
	"errors"
	"testing"
)

func TestParseAndString(t *testing.T) {
	cases := map[string]string{
		"0":         "0",
		"1":         "1",
		"100":       "100",
		"0.5":       "0.5",
		"1_000.250": "1000.25",
		".1":        "0.1",
	}

	smallest := "0.000000000000000001"
	cases[smallest] = smallest

	for in, want := range cases {
		d, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		if got := d.String(); got != want {
			t.Errorf("Parse(%q).String() = %q, want %q", in, got, want)
		}
	}
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{"", "abc", "-1", "1.0000000000000000001", "1.2.3"} {
		if _, err := Parse(in); !errors.Is(err, ErrSyntax) {
			t.Errorf("Parse(%q) = %v, want ErrSyntax", in, err)
		}
	}
}

func TestArithmetic(t *testing.T) {
	a := New(100)
	b := MustParse("40")

	diff, err := a.Sub(b)
	if err != nil || !diff.Eq(New(60)) {
		t.Fatalf("100 - 40 = %v, %v", diff, err)
	}

	sum, err := diff.Add(MustParse("0.5"))
	if err != nil || sum.String() != "60.5" {
		t.Fatalf("60 + 0.5 = %v, %v", sum, err)
	}

	if _, err := b.Sub(a); !errors.Is(err, ErrUnderflow) {
		t.Errorf("40 - 100 should underflow, got %v", err)
	}

	if !Min(a, b).Eq(b) {
		t.Error("Min(100, 40) should be 40")
	}
	if a.Cmp(b) != 1 || !b.Lt(a) || !a.Gt(b) {
		t.Error("comparison mismatch")
	}
}

func TestDivisibility(t *testing.T) {
	half := MustParse("0.5")

	if half.CheckDivisibility(0) {
		t.Error("0.5 is not valid with divisibility 0")
	}
	if !half.CheckDivisibility(1) {
		t.Error("0.5 is valid with divisibility 1")
	}
	if !New(3).CheckDivisibility(0) {
		t.Error("3 is valid with divisibility 0")
	}

	n, ok := New(7).Uint64()
	if !ok || n != 7 {
		t.Errorf("Uint64 = %d, %v", n, ok)
	}
	if _, ok := half.Uint64(); ok {
		t.Error("0.5 has no integer value")
	}
}

func TestBytesRoundTrip(t *testing.T) {
	d := MustParse("12345.678")
	if got := FromBytes32(d.Bytes32()); !got.Eq(d) {
		t.Errorf("round trip = %v, want %v", got, d)
	}
}
