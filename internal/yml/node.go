// Package yml wraps yaml.v3 nodes to read documents in declaration order.
package yml

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Node is a yaml.v3 node with ordered accessors.
type Node yaml.Node

// Parse parses YAML (or JSON, which YAML accepts) into its root node.
func Parse(data []byte) (*Node, error) {
	doc := &yaml.Node{}
	if err := yaml.Unmarshal(data, doc); err != nil {
		return nil, err
	}
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		return (*Node)(doc.Content[0]), nil
	}
	if doc.Kind == 0 || doc.Kind == yaml.DocumentNode {
		return &Node{Kind: yaml.MappingNode, Tag: "!!map"}, nil
	}
	return (*Node)(doc), nil
}

// Lookup returns the value under key of a mapping node, or nil.
func (n *Node) Lookup(key string) *Node {
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if n.Content[i].Value == key {
			return (*Node)(n.Content[i+1])
		}
	}
	return nil
}

// Pairs visits mapping entries in declaration order.
func (n *Node) Pairs(callback func(key string, node *Node) error) error {
	if n == nil {
		return nil
	}
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping", n.Line)
	}
	for i := 0; i+1 < len(n.Content); i += 2 {
		if err := callback(n.Content[i].Value, (*Node)(n.Content[i+1])); err != nil {
			return err
		}
	}
	return nil
}

// Keys returns mapping keys in declaration order.
func (n *Node) Keys() ([]string, error) {
	var ret []string
	err := n.Pairs(func(key string, _ *Node) error {
		ret = append(ret, key)
		return nil
	})
	return ret, err
}

// Decode decodes the node into dest.
func (n *Node) Decode(dest interface{}) error {
	return (*yaml.Node)(n).Decode(dest)
}
