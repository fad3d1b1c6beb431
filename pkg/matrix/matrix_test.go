package matrix

import (
	"reflect"
	"testing"
)

func TestExpand_EmptyMatrixYieldsOneEmptyCombination(t *testing.T) {
	got := Expand(Matrix{})
	if len(got) != 1 || len(got[0].Keys) != 0 {
		t.Fatalf("expected exactly one empty combination, got %+v", got)
	}
}

// S4 — cartesian product with exclude and include.
func TestExpand_S4_ExcludeAndInclude(t *testing.T) {
	m := Matrix{
		VariableKeys: []string{"os", "node"},
		Variables: map[string][]interface{}{
			"os":   {"ubuntu", "macos"},
			"node": {"18", "20"},
		},
		Exclude: []Combination{
			NewCombination([]string{"os", "node"}, map[string]interface{}{"os": "macos", "node": "18"}),
		},
		Include: []Combination{
			NewCombination([]string{"os", "node", "experimental"}, map[string]interface{}{
				"os": "ubuntu", "node": "16", "experimental": true,
			}),
		},
	}

	got := Expand(m)
	if len(got) != 4 {
		t.Fatalf("expected 4 instances, got %d: %+v", len(got), got)
	}

	want := []map[string]interface{}{
		{"os": "ubuntu", "node": "18"},
		{"os": "ubuntu", "node": "20"},
		{"os": "macos", "node": "20"},
		{"os": "ubuntu", "node": "16", "experimental": true},
	}
	for i, w := range want {
		if !reflect.DeepEqual(got[i].Values, w) {
			t.Errorf("instance %d = %+v, want %+v", i, got[i].Values, w)
		}
	}
}

func TestExpand_Completeness(t *testing.T) {
	m := Matrix{
		VariableKeys: []string{"a", "b"},
		Variables: map[string][]interface{}{
			"a": {"1", "2", "3"},
			"b": {"x", "y"},
		},
		Exclude: []Combination{
			NewCombination([]string{"a", "b"}, map[string]interface{}{"a": "2", "b": "x"}),
		},
		Include: []Combination{
			NewCombination([]string{"a"}, map[string]interface{}{"a": "4"}),
		},
	}
	got := Expand(m)
	// |expand(m)| == product(|variables[k]|) - |excluded| + |include|
	want := 3*2 - 1 + 1
	if len(got) != want {
		t.Fatalf("got %d instances, want %d", len(got), want)
	}
}

func TestDisplayName(t *testing.T) {
	c := NewCombination([]string{"os", "node"}, map[string]interface{}{"os": "ubuntu", "node": "18"})
	if got := c.DisplayName("build"); got != "build (ubuntu, 18)" {
		t.Errorf("got %q", got)
	}
	if got := (Combination{}).DisplayName("build"); got != "build" {
		t.Errorf("got %q, want bare job name", got)
	}
}
