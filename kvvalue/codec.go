package kvvalue

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidFormat is the sentinel wrapped by every decode failure, so
// callers can classify a bad record/value without string matching.
var ErrInvalidFormat = errors.New("invalid format")

// ParseRecord decodes a full "top_key" : VALUE line into its key and Value,
// per spec.md 4.1. It locates the first colon, trims the key, and hands the
// remainder to ParseValue.
func ParseRecord(text string) (topKey string, value Value, err error) {
	idx := strings.IndexByte(text, ':')
	if idx < 0 {
		err = fmt.Errorf("%w: missing ':' separator", ErrInvalidFormat)
		return
	}

	keyPart := TrimQuotes(text[:idx])
	if keyPart == "" {
		err = fmt.Errorf("%w: empty key", ErrInvalidFormat)
		return
	}

	value, err = ParseValue(text[idx+1:])
	if err != nil {
		return
	}
	topKey = keyPart
	return
}

// EmitRecord renders a Record back into "top_key" : VALUE wire form.
func EmitRecord(topKey string, v Value) (string, error) {
	valText, err := EmitValue(v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%q : %s", topKey, valText), nil
}

// ParseValue decodes a VALUE token: a quoted string, an integer literal, a
// decimal literal, or a ';'-delimited object. The reference decoder rewrites
// every ';' to ',' and parses the result as JSON; admitted values (strings
// restricted to [A-Za-z0-9]) contain no bare ';' or ',', so the rewrite is
// lossless.
func ParseValue(text string) (Value, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Value{}, fmt.Errorf("%w: empty value", ErrInvalidFormat)
	}

	jsonForm := strings.ReplaceAll(trimmed, ";", ",")

	dec := json.NewDecoder(strings.NewReader(jsonForm))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("%w: %s", ErrInvalidFormat, err.Error())
	}
	if dec.More() {
		return Value{}, fmt.Errorf("%w: trailing data after value", ErrInvalidFormat)
	}

	return fromJSON(raw)
}

func fromJSON(raw any) (Value, error) {
	switch t := raw.(type) {
	case string:
		return String(t), nil

	case json.Number:
		s := string(t)
		if strings.ContainsAny(s, ".eE") {
			f, err := t.Float64()
			if err != nil {
				return Value{}, fmt.Errorf("%w: %s", ErrInvalidFormat, err.Error())
			}
			return Float(f), nil
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %s", ErrInvalidFormat, err.Error())
		}
		return Int(i), nil

	case map[string]any:
		members := make(map[string]Value, len(t))
		for k, rv := range t {
			mv, err := fromJSON(rv)
			if err != nil {
				return Value{}, err
			}
			members[k] = mv
		}
		return Object(members), nil

	default:
		return Value{}, fmt.Errorf("%w: unsupported value type", ErrInvalidFormat)
	}
}

// EmitValue renders a Value in the wire/text form: quoted strings, bare
// integers, two-decimal floats, and ';'-delimited objects with sorted member
// order for reproducible output.
func EmitValue(v Value) (string, error) {
	var buf bytes.Buffer
	if err := emitInto(&buf, v); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func emitInto(buf *bytes.Buffer, v Value) error {
	switch v.Kind {
	case KindString:
		buf.WriteByte('"')
		buf.WriteString(v.Str)
		buf.WriteByte('"')
		return nil

	case KindInt:
		buf.WriteString(strconv.FormatInt(v.Int, 10))
		return nil

	case KindFloat:
		buf.WriteString(strconv.FormatFloat(v.Float, 'f', 2, 64))
		return nil

	case KindObject:
		keys := make([]string, 0, len(v.Object))
		for k := range v.Object {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(';')
			}
			buf.WriteByte(' ')
			buf.WriteByte('"')
			buf.WriteString(k)
			buf.WriteByte('"')
			buf.WriteString(" : ")
			if err := emitInto(buf, v.Object[k]); err != nil {
				return err
			}
		}
		if len(keys) > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteByte('}')
		return nil

	default:
		return fmt.Errorf("unknown value kind %d", v.Kind)
	}
}
