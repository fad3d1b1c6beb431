package matcher

import "testing"

func TestMatchRef(t *testing.T) {
	cases := []struct {
		name    string
		value   string
		pattern string
		want    bool
	}{
		{"exact", "main", "main", true},
		{"star-branch", "feature/foo", "feature/*", true},
		{"star-suffix", "release-1.0", "release*", true},
		{"doublestar-crosses-slash", "release/1.0", "release/**", true},
		{"question-mark", "v1", "v?", true},
		{"question-mark-miss", "v10", "v?", false},
		{"tag-ref", "refs/tags/v1.0.0", "refs/tags/v1.*", true},
		{"no-match", "develop", "main", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MatchRef(tc.value, tc.pattern); got != tc.want {
				t.Errorf("MatchRef(%q, %q) = %v, want %v", tc.value, tc.pattern, got, tc.want)
			}
		})
	}
}

func TestMatchPath(t *testing.T) {
	cases := []struct {
		name    string
		path    string
		pattern string
		want    bool
	}{
		{"doublestar-prefix-zero-depth", "README.md", "**/*.md", true},
		{"doublestar-prefix-nested", "docs/a/README.md", "**/*.md", true},
		{"single-star-same-dir-only", "src/pkg/x.go", "src/*.go", false},
		{"exact", "go.mod", "go.mod", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MatchPath(tc.path, tc.pattern); got != tc.want {
				t.Errorf("MatchPath(%q, %q) = %v, want %v", tc.path, tc.pattern, got, tc.want)
			}
		})
	}
}

func TestMatchList(t *testing.T) {
	if !MatchList("main", []string{"develop", "main"}) {
		t.Error("expected main to match one of the patterns")
	}
	if MatchList("main", nil) {
		t.Error("empty pattern list should never match")
	}
}

func TestMatchRef_IllFormedPatternNeverPanics(t *testing.T) {
	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("MatchRef panicked on ill-formed pattern: %v", r)
		}
	}()
	if MatchRef("anything", "[") {
		t.Error("a literal '[' pattern should only match a literal '[' value")
	}
}
