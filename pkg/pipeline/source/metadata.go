package source

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DescriptorFromMetadataJSON translates registry source metadata into a
// validated Descriptor. Registries differ in where they nest the
// descriptor document, so a few known paths are probed before assuming
// the root object is the descriptor itself.
func DescriptorFromMetadataJSON(raw []byte) (Descriptor, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Descriptor{}, fmt.Errorf("parse metadata json: %w", err)
	}

	node := extractDescriptor(doc)
	if node == nil {
		return Descriptor{}, fmt.Errorf("metadata missing source descriptor")
	}

	// YAML is a JSON superset, so round-tripping the extracted node
	// through YAML reuses the Descriptor's one unmarshalling path.
	buf, err := yaml.Marshal(node)
	if err != nil {
		return Descriptor{}, fmt.Errorf("encode descriptor node: %w", err)
	}
	var d Descriptor
	if err := yaml.Unmarshal(buf, &d); err != nil {
		return Descriptor{}, fmt.Errorf("parse descriptor node: %w", err)
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

func extractDescriptor(doc map[string]any) map[string]any {
	paths := [][]string{
		{"source"},
		{"descriptor"},
		{"metadata", "source"},
	}
	for _, path := range paths {
		if m := getPath(doc, path); m != nil {
			return m
		}
	}
	if _, ok := doc["format"]; ok {
		return doc
	}
	return nil
}

func getPath(doc map[string]any, path []string) map[string]any {
	var cur any = doc
	for _, p := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		next, ok := m[p]
		if !ok {
			return nil
		}
		cur = next
	}
	out, _ := cur.(map[string]any)
	return out
}
