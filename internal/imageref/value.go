package imageref

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Kind is the JSON type held by a Value
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// MaxParseDepth bounds nesting kept by Parse. Containers nested deeper are
// still validated but replaced with null.
const MaxParseDepth = 512

// Field is one key/value pair of an object, in document order
type Field struct {
	Key   string
	Value Value
}

// Value is a parsed JSON document. Objects keep their keys in document order
// so lookups follow the order the producer wrote them in.
type Value struct {
	Kind   Kind
	Bool   bool
	Number json.Number
	String string
	Items  []Value
	Fields []Field
}

// Object builds an object value from fields
func Object(fields ...Field) Value {
	return Value{Kind: KindObject, Fields: fields}
}

// String builds a string value
func String(s string) Value {
	return Value{Kind: KindString, String: s}
}

// Get returns the first field named key
func (v Value) Get(key string) (Value, bool) {
	for _, f := range v.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return Value{}, false
}

// Container reports whether the value can hold nested values
func (v Value) Container() bool {
	return v.Kind == KindObject || v.Kind == KindArray
}

// Parse decodes a JSON document into a Value
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := parseValue(dec, 0)
	if err != nil {
		return Value{}, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return Value{}, errors.New("unexpected data after top-level value")
	}
	return v, nil
}

func parseValue(dec *json.Decoder, depth int) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}

	switch t := tok.(type) {
	case json.Delim:
		if depth >= MaxParseDepth {
			if err := skipContainer(dec); err != nil {
				return Value{}, err
			}
			return Value{Kind: KindNull}, nil
		}
		switch t {
		case '{':
			return parseObject(dec, depth+1)
		case '[':
			return parseArray(dec, depth+1)
		default:
			return Value{}, fmt.Errorf("unexpected delimiter %q", t)
		}
	case string:
		return String(t), nil
	case json.Number:
		return Value{Kind: KindNumber, Number: t}, nil
	case bool:
		return Value{Kind: KindBool, Bool: t}, nil
	case nil:
		return Value{Kind: KindNull}, nil
	default:
		return Value{}, fmt.Errorf("unexpected token %v", tok)
	}
}

func parseObject(dec *json.Decoder, depth int) (Value, error) {
	obj := Value{Kind: KindObject}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Value{}, err
		}
		key, ok := tok.(string)
		if !ok {
			return Value{}, fmt.Errorf("object key is %T, not string", tok)
		}
		val, err := parseValue(dec, depth)
		if err != nil {
			return Value{}, err
		}
		obj.Fields = append(obj.Fields, Field{Key: key, Value: val})
	}
	// closing '}'
	if _, err := dec.Token(); err != nil {
		return Value{}, err
	}
	return obj, nil
}

func parseArray(dec *json.Decoder, depth int) (Value, error) {
	arr := Value{Kind: KindArray}
	for dec.More() {
		val, err := parseValue(dec, depth)
		if err != nil {
			return Value{}, err
		}
		arr.Items = append(arr.Items, val)
	}
	if _, err := dec.Token(); err != nil {
		return Value{}, err
	}
	return arr, nil
}

// skipContainer consumes tokens up to the delimiter closing an already
// opened object or array.
func skipContainer(dec *json.Decoder) error {
	for open := 1; open > 0; {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				open++
			case '}', ']':
				open--
			}
		}
	}
	return nil
}
