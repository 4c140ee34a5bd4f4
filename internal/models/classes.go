package models

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// NEUClasses is the label set of the NEU surface defect dataset.
var NEUClasses = []string{"crazing", "inclusion", "patches", "pitted_surface", "rolled-in_scale", "scratches"}

// ScratchClasses is the single-class table of the scratch detector.
var ScratchClasses = []string{"scratches"}

// ClassNames maps class ids to display names.
type ClassNames map[int]string

// NewClassNames builds a table from an ordered list.
func NewClassNames(names []string) ClassNames {
	out := make(ClassNames, len(names))
	for i, n := range names {
		out[i] = n
	}
	return out
}

// Name returns the class name or "Class {id}" for unknown ids.
func (c ClassNames) Name(id int) string {
	if n, ok := c[id]; ok && n != "" {
		return n
	}
	return fmt.Sprintf("Class %d", id)
}

// Sorted returns names ordered by class id.
func (c ClassNames) Sorted() []string {
	ids := make([]int, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = c[id]
	}
	return out
}

// ParseClassNames decodes a `names` value given either as a YAML sequence
// or as a mapping of id to name. The flow-style mapping exported into ONNX
// metadata ("{0: 'scratches'}") is accepted as well.
func ParseClassNames(data []byte) (ClassNames, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("failed to parse class names: %w", err)
	}
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		return decodeNames(node.Content[0])
	}
	return nil, errors.New("class names document is empty")
}

func decodeNames(n *yaml.Node) (ClassNames, error) {
	switch n.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := n.Decode(&list); err != nil {
			return nil, fmt.Errorf("invalid class list: %w", err)
		}
		return NewClassNames(list), nil
	case yaml.MappingNode:
		raw := map[string]string{}
		if err := n.Decode(&raw); err != nil {
			return nil, fmt.Errorf("invalid class mapping: %w", err)
		}
		out := make(ClassNames, len(raw))
		for k, v := range raw {
			id, err := strconv.Atoi(strings.TrimSpace(k))
			if err != nil {
				return nil, fmt.Errorf("invalid class id %q", k)
			}
			out[id] = v
		}
		return out, nil
	default:
		return nil, errors.New("class names must be a list or a mapping")
	}
}

// datasetFile mirrors the part of a YOLO dataset yaml we care about.
type datasetFile struct {
	Names yaml.Node `yaml:"names"`
}

// LoadClassNames reads class names from a dataset yaml (`names:` key) or a
// bare list/mapping file.
func LoadClassNames(path string) (ClassNames, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: configured class file
	if err != nil {
		return nil, fmt.Errorf("failed to read class file: %w", err)
	}

	var ds datasetFile
	if err := yaml.Unmarshal(data, &ds); err == nil && ds.Names.Kind != 0 {
		names, err := decodeNames(&ds.Names)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return names, nil
	}

	names, err := ParseClassNames(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return names, nil
}
