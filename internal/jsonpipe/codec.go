package jsonpipe

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// precheck rejects input that cannot be an object or array without parsing it
func precheck(input string) bool {
	s := strings.TrimSpace(input)
	if len(s) < 2 {
		return false
	}
	switch s[0] {
	case '{':
		return s[len(s)-1] == '}'
	case '[':
		return s[len(s)-1] == ']'
	default:
		return false
	}
}

// decodeTree parses the whole document. Numbers keep their literal text.
func decodeTree(input string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(input))
	dec.UseNumber()

	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level value")
	}

	return tree, nil
}

// encodeTree serializes with two-space indentation for Pretty and no whitespace for Minify
func encodeTree(tree any, op Operation) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if op == Pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(tree); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}
