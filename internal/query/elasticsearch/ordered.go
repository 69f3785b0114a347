package elasticsearch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	gojson "github.com/goccy/go-json"
)

// object is a decoded JSON object that keeps its members in document order.
type object []member

type member struct {
	Key   string
	Value any
}

func (o object) get(key string) (any, bool) {
	for _, m := range o {
		if m.Key == key {
			return m.Value, true
		}
	}
	return nil, false
}

func (o object) object(key string) (object, bool) {
	value, ok := o.get(key)
	if !ok {
		return nil, false
	}
	typed, ok := value.(object)
	return typed, ok
}

func (o object) string(key string) string {
	value, _ := o.get(key)
	typed, _ := value.(string)
	return typed
}

// decodeOrdered decodes raw into object, []any, json.Number, string, bool
// or nil.
func decodeOrdered(raw []byte) (any, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	value, err := decodeValue(decoder)
	if err != nil {
		return nil, err
	}
	if _, err := decoder.Token(); err != io.EOF {
		return nil, fmt.Errorf("unexpected data after JSON value")
	}
	return value, nil
}

func decodeObject(raw []byte) (object, error) {
	value, err := decodeOrdered(raw)
	if err != nil {
		return nil, err
	}
	typed, ok := value.(object)
	if !ok {
		return nil, fmt.Errorf("expected JSON object, got %T", value)
	}
	return typed, nil
}

func decodeValue(decoder *json.Decoder) (any, error) {
	token, err := decoder.Token()
	if err != nil {
		return nil, err
	}
	switch typed := token.(type) {
	case json.Delim:
		switch typed {
		case '{':
			out := object{}
			for decoder.More() {
				keyToken, err := decoder.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyToken.(string)
				if !ok {
					return nil, fmt.Errorf("object key is %T", keyToken)
				}
				value, err := decodeValue(decoder)
				if err != nil {
					return nil, err
				}
				out = append(out, member{Key: key, Value: value})
			}
			if _, err := decoder.Token(); err != nil {
				return nil, err
			}
			return out, nil
		case '[':
			out := []any{}
			for decoder.More() {
				value, err := decodeValue(decoder)
				if err != nil {
					return nil, err
				}
				out = append(out, value)
			}
			if _, err := decoder.Token(); err != nil {
				return nil, err
			}
			return out, nil
		default:
			return nil, fmt.Errorf("unexpected delimiter %q", typed)
		}
	default:
		return typed, nil
	}
}

// encodeOrdered renders a decoded value back to compact JSON, members in
// their original order.
func encodeOrdered(value any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeOrdered(&buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeOrdered(buf *bytes.Buffer, value any) error {
	switch typed := value.(type) {
	case object:
		buf.WriteByte('{')
		for i, m := range typed {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := gojson.Marshal(m.Key)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			if err := writeOrdered(buf, m.Value); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, item := range typed {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeOrdered(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case json.Number:
		buf.WriteString(typed.String())
	default:
		encoded, err := gojson.Marshal(typed)
		if err != nil {
			return err
		}
		buf.Write(encoded)
	}
	return nil
}
