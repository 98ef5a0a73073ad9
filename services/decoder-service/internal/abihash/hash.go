package abihash

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"unicode/utf16"
)

// Hash content-addresses an ABI document: the JSON value is serialized
// canonically (object keys sorted lexicographically at every depth,
// ", " and ": " separators, non-ASCII escaped) and the last 4 bytes of
// the MD5 hex digest are kept. Two ABIs differing only in key order
// hash identically. The serialization must stay stable: stored hashes
// depend on it.
func Hash(abiJSON json.RawMessage) ([]byte, error) {
	canonical, err := Canonicalize(abiJSON)
	if err != nil {
		return nil, err
	}

	digest := md5.Sum(canonical)
	hexDigest := hex.EncodeToString(digest[:])

	// Keep the last 8 hex characters as 4 raw bytes
	hash, err := hex.DecodeString(hexDigest[len(hexDigest)-8:])
	if err != nil {
		return nil, fmt.Errorf("failed to decode abi hash: %w", err)
	}
	return hash, nil
}

// Canonicalize returns the canonical serialization of a JSON document
func Canonicalize(raw json.RawMessage) ([]byte, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var value interface{}
	if err := decoder.Decode(&value); err != nil {
		return nil, fmt.Errorf("failed to parse abi json: %w", err)
	}

	var buf bytes.Buffer
	if err := writeValue(&buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, value interface{}) error {
	switch v := value.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if v {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(v.String())
	case string:
		writeString(buf, v)
	case []interface{}:
		buf.WriteByte('[')
		for i, item := range v {
			if i > 0 {
				buf.WriteString(", ")
			}
			if err := writeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, key := range keys {
			if i > 0 {
				buf.WriteString(", ")
			}
			writeString(buf, key)
			buf.WriteString(": ")
			if err := writeValue(buf, v[key]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unsupported json value %T", value)
	}
	return nil
}

// writeString escapes control characters and non-ASCII runes as \uXXXX
func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			buf.WriteString(`\"`)
		case '\\':
			buf.WriteString(`\\`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		case '\b':
			buf.WriteString(`\b`)
		case '\f':
			buf.WriteString(`\f`)
		default:
			if r < 0x20 || r > 0x7e {
				if r > 0xffff {
					r1, r2 := utf16.EncodeRune(r)
					buf.WriteString(escapeRune(r1))
					buf.WriteString(escapeRune(r2))
				} else {
					buf.WriteString(escapeRune(r))
				}
			} else {
				buf.WriteRune(r)
			}
		}
	}
	buf.WriteByte('"')
}

func escapeRune(r rune) string {
	return `\u` + leftPad(strconv.FormatInt(int64(r), 16), 4)
}

func leftPad(s string, size int) string {
	for len(s) < size {
		s = "0" + s
	}
	return s
}
