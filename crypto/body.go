package crypto

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Field is a single key/value pair of a request body.
type Field struct {
	Key   string
	Value any
}

// Body is an ordered JSON object. Fields are serialized in insertion order,
// which the broker's checker verification depends on.
type Body []Field

// Set replaces the value of key in place, or appends it when absent.
func (b Body) Set(key string, value any) Body {
	for i := range b {
		if b[i].Key == key {
			b[i].Value = value
			return b
		}
	}
	return append(b, Field{Key: key, Value: value})
}

// Get returns the value stored under key.
func (b Body) Get(key string) (any, bool) {
	for _, f := range b {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// MarshalJSON renders the body as a compact JSON object with HTML
// characters left unescaped. An empty body renders as {}.
func (b Body) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range b {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := encodeValue(&buf, f.Key); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if err := encodeValue(&buf, f.Value); err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Key, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Canonical returns the form that is hashed into the checker: compact JSON,
// every non-ASCII rune escaped as \uXXXX (UTF-16 surrogate pairs above the
// BMP), and every space character removed. An empty body is "".
func (b Body) Canonical() (string, error) {
	if len(b) == 0 {
		return "", nil
	}
	raw, err := b.MarshalJSON()
	if err != nil {
		return "", err
	}
	return strings.ReplaceAll(asciiEscape(raw), " ", ""), nil
}

func encodeValue(buf *bytes.Buffer, v any) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return err
	}
	// Encode terminates every value with a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}

// asciiEscape rewrites every rune outside printable ASCII as a lowercase
// \uXXXX escape. Such runes only occur inside JSON strings, so the result is
// still valid JSON.
func asciiEscape(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		b = b[size:]
		switch {
		case r < 0x7f:
			sb.WriteRune(r)
		case r > 0xffff:
			r1, r2 := utf16.EncodeRune(r)
			fmt.Fprintf(&sb, `\u%04x\u%04x`, r1, r2)
		default:
			fmt.Fprintf(&sb, `\u%04x`, r)
		}
	}
	return sb.String()
}
