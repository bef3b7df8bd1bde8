package payload

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// Decode parses a JSON document into a typed tree, preserving object key
// order. An empty input decodes to an empty Map.
func Decode(data []byte) (Node, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Map{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	n, err := decodeValue(dec)
	if err != nil {
		return nil, eris.Wrap(err, "payload: decode")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, eris.New("payload: trailing data after document")
	}
	return n, nil
}

func decodeValue(dec *json.Decoder) (Node, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return fromToken(dec, tok)
}

func fromToken(dec *json.Decoder, tok json.Token) (Node, error) {
	switch v := tok.(type) {
	case json.Delim:
		switch v {
		case '{':
			return decodeMap(dec)
		case '[':
			return decodeList(dec)
		default:
			return nil, eris.Errorf("unexpected delimiter %q", v)
		}
	case string:
		return Str(v), nil
	case json.Number:
		return Num(v.String()), nil
	case bool:
		if v {
			return Scalar{Type: ScalarBool, Value: "true"}, nil
		}
		return Scalar{Type: ScalarBool, Value: "false"}, nil
	case nil:
		return Scalar{Type: ScalarNull}, nil
	default:
		return nil, eris.Errorf("unexpected token %T", tok)
	}
}

func decodeMap(dec *json.Decoder) (Node, error) {
	m := Map{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, eris.Errorf("object key is %T, not string", keyTok)
		}
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		m = append(m, Entry{Key: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeList(dec *json.Decoder) (Node, error) {
	l := List{}
	for dec.More() {
		val, err := decodeValue(dec)
		if err != nil {
			return nil, err
		}
		l = append(l, val)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return l, nil
}

func writeJSON(buf *bytes.Buffer, n Node) {
	switch v := n.(type) {
	case Scalar:
		switch v.Type {
		case ScalarNull:
			buf.WriteString("null")
		case ScalarNumber, ScalarBool:
			buf.WriteString(v.Value)
		default:
			b, _ := json.Marshal(v.Value)
			buf.Write(b)
		}
	case List:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeJSON(buf, item)
		}
		buf.WriteByte(']')
	case Map:
		buf.WriteByte('{')
		for i, e := range v {
			if i > 0 {
				buf.WriteByte(',')
			}
			k, _ := json.Marshal(e.Key)
			buf.Write(k)
			buf.WriteByte(':')
			writeJSON(buf, e.Value)
		}
		buf.WriteByte('}')
	default:
		buf.WriteString("null")
	}
}
