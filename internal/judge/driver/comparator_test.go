package driver

import "testing"

func TestWhiteDiffStrings(t *testing.T) {
	cases := []struct {
		name string
		a    string
		b    string
		want bool
	}{
		{"identical", "1 2 3\n", "1 2 3\n", true},
		{"reflexive empty", "", "", true},
		{"trailing blank lines ignored", "1 2\n3 4\n", "1 2\n3 4\n\n\n", true},
		{"whitespace quantity ignored", "1  2\t3\n", "1 2 3\n", true},
		{"leading/trailing trimmed", "  1 2 3  \n", "1 2 3\n", true},
		{"non-whitespace difference", "1 2 3\n", "1 2 4\n", false},
		{"line ordering matters", "a\nb\n", "b\na\n", false},
		{"unmatched non-empty tail", "1 2\n3 4\n", "1 2\n", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := WhiteDiffStrings(tc.a, tc.b); got != tc.want {
				t.Fatalf("WhiteDiffStrings(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
		})
	}
}

func TestWhiteDiffReflexive(t *testing.T) {
	samples := []string{"", "hello\n", "a b c\nd e f\n", "   spaced   \n\n\n"}
	for _, s := range samples {
		if !WhiteDiffStrings(s, s) {
			t.Fatalf("WhiteDiffStrings(%q, %q) = false, want true (reflexivity)", s, s)
		}
	}
}

func TestCanonicalizeLine(t *testing.T) {
	if got := canonicalizeLine("  a   b\tc  "); got != "a b c" {
		t.Fatalf("canonicalizeLine = %q, want %q", got, "a b c")
	}
}
