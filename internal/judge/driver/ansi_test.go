package driver

import "testing"

func TestFilterANSI(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"no escapes", "plain text", "plain text"},
		{"color sequence", "\x1b[31mred\x1b[0m", "red"},
		{"cursor move", "a\x1b[2Kb", "ab"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FilterANSI(tc.in); got != tc.want {
				t.Fatalf("FilterANSI(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
