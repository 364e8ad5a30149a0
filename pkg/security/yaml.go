package security

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLLimits bounds the configuration documents the service will parse.
type YAMLLimits struct {
	MaxBytes int64
	MaxDepth int
	MaxNodes int
}

// DefaultYAMLLimits fits any sane configuration file.
func DefaultYAMLLimits() YAMLLimits {
	return YAMLLimits{
		MaxBytes: 1 << 20,
		MaxDepth: 16,
		MaxNodes: 5000,
	}
}

// DecodeYAML reads one YAML document from r into v. It enforces limits
// before decoding, expands aliases only within the node budget, and
// rejects keys that v does not declare.
func DecodeYAML(r io.Reader, v any, limits YAMLLimits) error {
	data, err := io.ReadAll(io.LimitReader(r, limits.MaxBytes+1))
	if err != nil {
		return fmt.Errorf("read yaml: %w", err)
	}
	if int64(len(data)) > limits.MaxBytes {
		return fmt.Errorf("yaml document exceeds %d bytes", limits.MaxBytes)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	nodes := 0
	if err := checkNode(&root, 0, &nodes, limits); err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

func checkNode(n *yaml.Node, depth int, count *int, limits YAMLLimits) error {
	if depth > limits.MaxDepth {
		return fmt.Errorf("yaml nesting exceeds depth %d", limits.MaxDepth)
	}
	*count++
	if *count > limits.MaxNodes {
		return fmt.Errorf("yaml document exceeds %d nodes", limits.MaxNodes)
	}

	if n.Kind == yaml.AliasNode && n.Alias != nil {
		return checkNode(n.Alias, depth+1, count, limits)
	}
	next := depth + 1
	if n.Kind == yaml.DocumentNode {
		next = depth
	}
	for _, child := range n.Content {
		if err := checkNode(child, next, count, limits); err != nil {
			return err
		}
	}
	return nil
}
