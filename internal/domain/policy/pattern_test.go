package policy

import "testing"

func TestMatchPattern_Invariants(t *testing.T) {
	cases := []struct {
		name, pattern string
		want          bool
	}{
		{"filesystem/read_file", "*", true},
		{"github/create_pull_request", "*", true},
		{"a/b", "a/b", true},
		{"a/b", "a/*", true},
		{"a/b/c", "a/*", false},
		{"a/b/c", "a/**", true},
		{"x/y", "x/*", true},
		{"x/y/z", "x/**", true},
		{"x/y", "z/*", false},
	}
	for _, c := range cases {
		got := MatchPattern(c.name, c.pattern)
		if got != c.want {
			t.Errorf("MatchPattern(%q, %q) = %v, want %v", c.name, c.pattern, got, c.want)
		}
	}
}

func TestMatchPattern_SelfMatch(t *testing.T) {
	names := []string{"a/b", "gmail/send_email", "portero/search_tools", "weird*name/x"}
	for _, n := range names {
		if !MatchPattern(n, n) {
			t.Errorf("MatchPattern(%q, %q) should be true", n, n)
		}
	}
}
