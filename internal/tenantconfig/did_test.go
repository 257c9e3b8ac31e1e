package tenantconfig

import "testing"

func TestNormaliseDID(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantOK  bool
	}{
		{"+15551234567", "+15551234567", true},
		{"  +15551234567  ", "+15551234567", true},
		{"+1 555 123 4567", "+15551234567", true},
		{"", "", false},
		{"5551234567", "", false},
		{"+0123456789", "", false},
	}

	for _, tc := range cases {
		got, ok := NormaliseDID(tc.in)
		if ok != tc.wantOK || got != tc.want {
			t.Errorf("NormaliseDID(%q) = (%q, %v), want (%q, %v)", tc.in, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestNormaliseDIDIdempotent(t *testing.T) {
	inputs := []string{"+15551234567", "  +1 555 123 4567 ", "not-a-number"}
	for _, in := range inputs {
		once, ok1 := NormaliseDID(in)
		twice, ok2 := NormaliseDID(once)
		if ok1 != ok2 || once != twice {
			t.Errorf("normalisation not idempotent for %q: once=(%q,%v) twice=(%q,%v)", in, once, ok1, twice, ok2)
		}
	}
}
