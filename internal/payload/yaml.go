package payload

import (
	"bytes"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// DecodeYAML parses a YAML document into a typed tree. Fixtures are written
// in YAML; key order is kept the same way Decode keeps it for JSON.
func DecodeYAML(data []byte) (Node, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Map{}, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, eris.Wrap(err, "payload: decode yaml")
	}
	return FromYAML(&doc)
}

// FromYAML converts an already parsed yaml.Node.
func FromYAML(n *yaml.Node) (Node, error) {
	if n == nil {
		return Scalar{Type: ScalarNull}, nil
	}
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return Map{}, nil
		}
		return FromYAML(n.Content[0])
	case yaml.AliasNode:
		return FromYAML(n.Alias)
	case yaml.MappingNode:
		m := make(Map, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			val, err := FromYAML(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			m = append(m, Entry{Key: n.Content[i].Value, Value: val})
		}
		return m, nil
	case yaml.SequenceNode:
		l := make(List, 0, len(n.Content))
		for _, c := range n.Content {
			val, err := FromYAML(c)
			if err != nil {
				return nil, err
			}
			l = append(l, val)
		}
		return l, nil
	case yaml.ScalarNode:
		switch n.ShortTag() {
		case "!!null":
			return Scalar{Type: ScalarNull}, nil
		case "!!bool":
			return Scalar{Type: ScalarBool, Value: n.Value}, nil
		case "!!int", "!!float":
			return Num(n.Value), nil
		default:
			return Str(n.Value), nil
		}
	default:
		return nil, eris.Errorf("payload: unsupported yaml node kind %d", n.Kind)
	}
}

// ToJSON re-encodes a tree as compact JSON with keys in tree order.
func ToJSON(n Node) []byte {
	var buf bytes.Buffer
	writeJSON(&buf, n)
	return buf.Bytes()
}
