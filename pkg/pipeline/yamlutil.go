package pipeline

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// mappingKeys returns the scalar keys of a mapping node in declaration order.
// Returns nil if n is not a mapping node.
func mappingKeys(n *yaml.Node) []string {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	keys := make([]string, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		keys = append(keys, n.Content[i].Value)
	}
	return keys
}

// mappingGet returns the value node for key within mapping node n, or nil.
func mappingGet(n *yaml.Node, key string) *yaml.Node {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return n.Content[i+1]
		}
	}
	return nil
}

// mappingGetNormalized is like mappingGet but also tries the kebab-case spelling of
// a snake_case key (e.g. "branches_ignore" also matches "branches-ignore").
func mappingGetNormalized(n *yaml.Node, snakeKey string) (*yaml.Node, string) {
	if v := mappingGet(n, snakeKey); v != nil {
		return v, snakeKey
	}
	kebab := snakeToKebab(snakeKey)
	if v := mappingGet(n, kebab); v != nil {
		return v, kebab
	}
	return nil, ""
}

func snakeToKebab(s string) string {
	out := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '_' {
			out[i] = '-'
		} else {
			out[i] = s[i]
		}
	}
	return string(out)
}

// decodeInto is a thin wrapper around (*yaml.Node).Decode with a uniform
// nil-safety check.
func decodeInto(n *yaml.Node, out interface{}) error {
	if n == nil {
		return nil
	}
	return n.Decode(out)
}

// stringList normalizes a node that may be a bare string or a list of
// strings into a []string. Returns nil for a nil/absent node.
func stringList(n *yaml.Node) ([]string, error) {
	if n == nil {
		return nil, nil
	}
	switch n.Kind {
	case yaml.ScalarNode:
		var s string
		if err := n.Decode(&s); err != nil {
			return nil, err
		}
		return []string{s}, nil
	case yaml.SequenceNode:
		var list []string
		if err := n.Decode(&list); err != nil {
			return nil, err
		}
		return list, nil
	default:
		return nil, errInvalidShape("expected string or list of strings")
	}
}

// genericValue decodes a node into a plain interface{} tree
// (map[string]interface{} / []interface{} / scalars), matching the shape
// encoding/json would produce — used for env/with/services/defaults blocks
// where key order is not semantically significant.
func genericValue(n *yaml.Node) (interface{}, error) {
	if n == nil {
		return nil, nil
	}
	var v interface{}
	if err := n.Decode(&v); err != nil {
		return nil, err
	}
	return normalizeMapKeys(v), nil
}

// normalizeMapKeys recursively converts map[interface{}]interface{} (which
// older yaml decode paths can produce for non-string keys) into
// map[string]interface{}, matching JSON's string-keyed-map shape.
func normalizeMapKeys(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalizeMapKeys(val)
		}
		return t
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalizeMapKeys(val)
		}
		return out
	case []interface{}:
		for i, val := range t {
			t[i] = normalizeMapKeys(val)
		}
		return t
	default:
		return v
	}
}

func stringMap(n *yaml.Node) (map[string]string, error) {
	if n == nil {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, errInvalidShape("expected mapping")
	}
	out := make(map[string]string, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		var val string
		if err := n.Content[i+1].Decode(&val); err != nil {
			return nil, err
		}
		out[n.Content[i].Value] = val
	}
	return out, nil
}

type invalidShapeError string

func (e invalidShapeError) Error() string { return string(e) }

func errInvalidShape(msg string) error { return invalidShapeError(msg) }
