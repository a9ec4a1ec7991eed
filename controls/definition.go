package controls

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDefinition is returned for a control definition document that is not
// valid JSON or does not match the definition schema.
var ErrDefinition = errors.New("invalid control definition")

// Initial runtime values given to controls built from a definition.
const (
	DefaultSliderLocation = 0.5
)

// Definition is a parsed control definition document:
//
//	{"title": "...", "root": {"type": "group", "name": "...", "children": [...]}}
type Definition struct {
	Title string
	Root  *Control
}

type definitionDoc struct {
	Title *string         `json:"title"`
	Root  json.RawMessage `json:"root"`
}

type nodeDoc struct {
	Type     Kind              `json:"type"`
	Name     *string           `json:"name"`
	Label    *string           `json:"label"`
	Children []json.RawMessage `json:"children"`
}

// ParseDefinition parses and validates a definition document. Unknown
// members are ignored so definitions may carry presentation hints for
// clients. All failures wrap ErrDefinition.
func ParseDefinition(text string) (*Definition, error) {
	var doc definitionDoc
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDefinition, err)
	}
	if doc.Title == nil {
		return nil, fmt.Errorf("%w: missing title", ErrDefinition)
	}
	if len(doc.Root) == 0 || string(doc.Root) == "null" {
		return nil, fmt.Errorf("%w: missing root", ErrDefinition)
	}
	root, err := parseNode(doc.Root, nil)
	if err != nil {
		return nil, err
	}
	return &Definition{Title: *doc.Title, Root: root}, nil
}

func parseNode(raw json.RawMessage, id ID) (*Control, error) {
	var node nodeDoc
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("%w: control %s: %v", ErrDefinition, id, err)
	}
	if !node.Type.valid() {
		return nil, fmt.Errorf("%w: control %s: unknown type %q", ErrDefinition, id, node.Type)
	}
	c := &Control{Kind: node.Type}
	if node.Name != nil {
		c.Name = *node.Name
	} else if node.Type != KindGroup {
		return nil, fmt.Errorf("%w: control %s: missing name", ErrDefinition, id)
	}
	if node.Type != KindGroup && node.Children != nil {
		return nil, fmt.Errorf("%w: control %s: %s cannot have children", ErrDefinition, id, node.Type)
	}

	switch node.Type {
	case KindGroup:
		c.Children = make([]*Control, 0, len(node.Children))
		for i, childRaw := range node.Children {
			child, err := parseNode(childRaw, id.Child(i))
			if err != nil {
				return nil, err
			}
			c.Children = append(c.Children, child)
		}
	case KindSlider:
		c.State = Ptr(Inactive)
		c.Location = Ptr(DefaultSliderLocation)
		c.Label = clonePtr(node.Label)
	case KindButton:
		c.State = Ptr(Inactive)
		c.Label = clonePtr(node.Label)
	case KindLabel:
		if node.Label != nil {
			c.Text = *node.Label
		}
	}
	return c, nil
}
