package amount

import "testing"

func TestHumanPadsIntegerDigit(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"0", "0.000000000000000000"},
		{"1", "0.000000000000000001"},
		{"1000000000000000000", "1.000000000000000000"},
		{"1500000000000000000", "1.500000000000000000"},
		{"123456789012345678901", "123.456789012345678901"},
		{"-2500000000000000000", "-2.500000000000000000"},
	}
	for _, tc := range cases {
		a, err := ParseRaw(tc.raw)
		if err != nil {
			t.Fatalf("ParseRaw(%q): %v", tc.raw, err)
		}
		if got := a.Human(); got != tc.want {
			t.Errorf("Human(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestParseDecimalRoundTrip(t *testing.T) {
	cases := []struct {
		decimal string
		wantRaw string
	}{
		{"0", "0"},
		{"1", "1000000000000000000"},
		{"12.5", "12500000000000000000"},
		{"0.000000000000000001", "1"},
		{"10.25", "10250000000000000000"},
	}
	for _, tc := range cases {
		a, err := ParseDecimal(tc.decimal)
		if err != nil {
			t.Fatalf("ParseDecimal(%q): %v", tc.decimal, err)
		}
		if got := a.Raw(); got != tc.wantRaw {
			t.Errorf("ParseDecimal(%q).Raw() = %q, want %q", tc.decimal, got, tc.wantRaw)
		}
	}
}

func TestParseDecimalRejectsExcessPrecision(t *testing.T) {
	if _, err := ParseDecimal("1.0000000000000000001"); err == nil {
		t.Fatal("expected precision error for 19 fractional digits")
	}
}

func TestParseDecimalRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "1.2.3", "1,5"} {
		if _, err := ParseDecimal(in); err == nil {
			t.Errorf("ParseDecimal(%q): expected error", in)
		}
	}
}

func TestDisplayTrimsTrailingZeros(t *testing.T) {
	a, _ := ParseRaw("1500000000000000000")
	if got := a.Display(); got != "1.5" {
		t.Fatalf("Display = %q, want 1.5", got)
	}
	b, _ := ParseRaw("2000000000000000000")
	if got := b.Display(); got != "2" {
		t.Fatalf("Display = %q, want 2", got)
	}
}

func TestFloat64(t *testing.T) {
	a, _ := ParseDecimal("2.5")
	if got := a.Float64(); got != 2.5 {
		t.Fatalf("Float64 = %v, want 2.5", got)
	}
}
