// Package frontmatter parses and serializes the metadata+body entity file
// format: a YAML block between --- delimiters followed by a Markdown body.
// Reads are lenient (malformed metadata degrades, never fails); writes always
// emit a well-formed, field-order-stable block.
package frontmatter

import (
	"bytes"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const delim = "---"

// MalformedWarning is the non-fatal signal that a file's metadata block could
// not be parsed. The caller gets empty fields plus the full original text as
// body, and records the issue instead of failing.
type MalformedWarning struct {
	Reason string
}

func (w *MalformedWarning) Error() string {
	return "malformed frontmatter: " + w.Reason
}

// Parse splits raw into frontmatter fields and body. It never fails: a file
// without a metadata block yields empty fields, and a malformed block yields
// empty fields, the complete original text as body, and a MalformedWarning.
func Parse(raw []byte) (*Fields, string, *MalformedWarning) {
	trimmed := bytes.TrimLeft(raw, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return NewFields(), string(raw), nil
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		// Opening delimiter without a closing one.
		return NewFields(), string(raw), &MalformedWarning{Reason: "unterminated metadata block"}
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	fields, err := decodeBlock(yamlBlock)
	if err != nil {
		return NewFields(), string(raw), &MalformedWarning{Reason: err.Error()}
	}
	return fields, body, nil
}

// Serialize renders fields and body back into the file format. The emitted
// block lists fields in their insertion order, so serialize(parse(text)) is
// stable and unknown fields survive untouched.
func Serialize(fields *Fields, body string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(delim)
	buf.WriteByte('\n')

	if fields != nil && fields.Len() > 0 {
		block, err := encodeBlock(fields)
		if err != nil {
			return nil, err
		}
		buf.Write(block)
	}

	buf.WriteString(delim)
	buf.WriteByte('\n')
	buf.WriteByte('\n')
	buf.WriteString(body)
	return buf.Bytes(), nil
}

// decodeBlock parses a YAML mapping preserving key order.
func decodeBlock(block []byte) (*Fields, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(block, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return NewFields(), nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("metadata is not a mapping")
	}

	fields := NewFields()
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		var value any
		if err := root.Content[i+1].Decode(&value); err != nil {
			return nil, err
		}
		fields.Set(key, value)
	}
	return fields, nil
}

// encodeBlock renders fields as a YAML mapping in insertion order.
func encodeBlock(fields *Fields) ([]byte, error) {
	root := &yaml.Node{Kind: yaml.MappingNode}
	for _, key := range fields.Keys() {
		value, _ := fields.Get(key)
		keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: key}
		valueNode := &yaml.Node{}
		if err := valueNode.Encode(value); err != nil {
			return nil, fmt.Errorf("encode field %q: %w", key, err)
		}
		root.Content = append(root.Content, keyNode, valueNode)
	}
	return yaml.Marshal(root)
}
