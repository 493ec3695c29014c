package parser

import "gopkg.in/yaml.v3"

// MetaGet returns the value node for key in a front-matter mapping
// node, or nil when the mapping or the key is absent.
func MetaGet(m *yaml.Node, key string) *yaml.Node {
	if m == nil || m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// MetaString returns the scalar string value for key, or empty string.
func MetaString(m *yaml.Node, key string) string {
	v := MetaGet(m, key)
	if v == nil || v.Kind != yaml.ScalarNode {
		return ""
	}
	return v.Value
}

// MetaBool decodes a scalar bool value for key. ok is false when the
// key is absent or not a bool.
func MetaBool(m *yaml.Node, key string) (value, ok bool) {
	v := MetaGet(m, key)
	if v == nil || v.Kind != yaml.ScalarNode {
		return false, false
	}
	var b bool
	if err := v.Decode(&b); err != nil {
		return false, false
	}
	return b, true
}

// MetaStringList returns the value for key as a string slice. A single
// scalar is returned as a one-element slice; non-string sequence items
// are skipped.
func MetaStringList(m *yaml.Node, key string) []string {
	v := MetaGet(m, key)
	if v == nil {
		return nil
	}
	switch v.Kind {
	case yaml.ScalarNode:
		if v.Value == "" {
			return nil
		}
		return []string{v.Value}
	case yaml.SequenceNode:
		var out []string
		for _, item := range v.Content {
			if item.Kind == yaml.ScalarNode && item.Value != "" {
				out = append(out, item.Value)
			}
		}
		return out
	}
	return nil
}
