// Package matrix expands a strategy.matrix definition into concrete
// job instances via a cartesian product over declared variables, with
// include/exclude overrides.
package matrix

import (
	"fmt"
	"strings"
)

// Matrix is the parsed strategy.matrix block. Variables preserves
// declaration order since map iteration order is not stable in Go.
// Include and Exclude entries are themselves Combinations so their key
// order (as declared in the YAML mapping) survives into display names.
type Matrix struct {
	VariableKeys []string
	Variables    map[string][]interface{}
	Include      []Combination
	Exclude      []Combination
}

// Combination is one concrete instantiation: an ordered set of key/value
// pairs. Keys preserves declaration order for display-name composition.
type Combination struct {
	Keys   []string
	Values map[string]interface{}
}

// NewCombination builds a Combination from ordered keys and a value map.
func NewCombination(keys []string, values map[string]interface{}) Combination {
	return Combination{Keys: keys, Values: cloneValues(values)}
}

// DisplayName renders "{job_name} ({v1, v2, …})", or the bare job name
// when the combination is empty.
func (c Combination) DisplayName(jobName string) string {
	if len(c.Keys) == 0 {
		return jobName
	}
	parts := make([]string, 0, len(c.Keys))
	for _, k := range c.Keys {
		parts = append(parts, fmt.Sprintf("%v", c.Values[k]))
	}
	return fmt.Sprintf("%s (%s)", jobName, strings.Join(parts, ", "))
}

// Expand runs the cartesian product over m.Variables in declaration order,
// drops any combination that is a superset of an exclude pattern, then
// appends each include entry verbatim (without deduplication). An empty
// matrix (no variables, no include entries) yields exactly one empty
// Combination.
func Expand(m Matrix) []Combination {
	base := cartesian(m.VariableKeys, m.Variables)

	var kept []Combination
	for _, c := range base {
		if matchesAnyExclude(c, m.Exclude) {
			continue
		}
		kept = append(kept, c)
	}

	kept = append(kept, m.Include...)

	if len(kept) == 0 && len(m.VariableKeys) == 0 && len(m.Include) == 0 {
		return []Combination{{}}
	}
	return kept
}

// cartesian produces the product of keys' value lists, in declaration order.
func cartesian(keys []string, variables map[string][]interface{}) []Combination {
	if len(keys) == 0 {
		return []Combination{{}}
	}
	combos := []Combination{{}}
	for _, key := range keys {
		values := variables[key]
		var next []Combination
		for _, c := range combos {
			for _, v := range values {
				nc := Combination{
					Keys:   append(append([]string{}, c.Keys...), key),
					Values: cloneValues(c.Values),
				}
				nc.Values[key] = v
				next = append(next, nc)
			}
		}
		combos = next
	}
	return combos
}

func cloneValues(v map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(v)+1)
	for k, val := range v {
		out[k] = val
	}
	return out
}

// matchesAnyExclude reports whether c is a superset of any exclude pattern:
// every key in the pattern equals the combination's value for that key.
func matchesAnyExclude(c Combination, excludes []Combination) bool {
	for _, pattern := range excludes {
		if isSupersetOf(c.Values, pattern.Values) {
			return true
		}
	}
	return false
}

func isSupersetOf(values, pattern map[string]interface{}) bool {
	for k, want := range pattern {
		got, ok := values[k]
		if !ok || fmt.Sprintf("%v", got) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}
