package controls

import (
	"slices"
)

// Map holds every node of a control tree, groups included, keyed by the
// node's position.
type Map map[Key]*Control

// NameMap resolves control names to positions.
type NameMap map[string]ID

// BuildMap flattens the tree rooted at root depth-first. Node ids are
// root-relative paths, so the map has exactly one entry per node.
func BuildMap(root *Control) Map {
	m := make(Map)
	if root != nil {
		addToMap(m, root, nil)
	}
	return m
}

func addToMap(m Map, c *Control, id ID) {
	m[id.Key()] = c
	for i, child := range c.Children {
		addToMap(m, child, id.Child(i))
	}
}

// BuildNameMap derives the name index of m. Names are expected to be
// unique; when they are not, the control visited last in tree order wins.
// Unnamed controls are not indexed.
func BuildNameMap(m Map) NameMap {
	nm := make(NameMap, len(m))
	for _, id := range m.IDs() {
		c := m[id.Key()]
		if c.Name == "" {
			continue
		}
		nm[c.Name] = id
	}
	return nm
}

// IDs returns the ids of all controls in m in depth-first tree order.
func (m Map) IDs() []ID {
	ids := make([]ID, 0, len(m))
	for k := range m {
		ids = append(ids, k.ID())
	}
	slices.SortFunc(ids, ID.Compare)
	return ids
}

// Get returns the control at id.
func (m Map) Get(id ID) (*Control, bool) {
	c, ok := m[id.Key()]
	return c, ok
}

// Clone deep-copies m. Group children in the copy point at the copied
// nodes, never at nodes of m.
func (m Map) Clone() Map {
	if root, ok := m[""]; ok {
		return BuildMap(root.Clone())
	}
	out := make(Map, len(m))
	for k, c := range m {
		cc := c.Clone()
		cc.Children = nil
		out[k] = cc
	}
	return out
}

// Snapshot describes the current value of every stateful control as a
// fully populated update, in depth-first tree order. Sending these to a
// fresh client brings it to the current state. Label fields of sliders and
// buttons are included only when set.
func Snapshot(m Map) []UpdateMsg {
	var out []UpdateMsg
	for _, id := range m.IDs() {
		c := m[id.Key()]
		if !c.Stateful() {
			continue
		}
		out = append(out, fullUpdate(id, c))
	}
	return out
}

func fullUpdate(id ID, c *Control) UpdateMsg {
	msg := UpdateMsg{Type: c.Kind, ControlID: id}
	switch c.Kind {
	case KindLabel:
		msg.Label = Ptr(c.Text)
	case KindButton:
		msg.State = clonePtr(c.State)
		msg.Label = clonePtr(c.Label)
	case KindSlider:
		msg.State = clonePtr(c.State)
		msg.Location = clonePtr(c.Location)
		msg.Label = clonePtr(c.Label)
	}
	return msg
}

// EmptyUpdate returns an update addressed at the control with no fields
// set. Applying it changes nothing; callers fill in the fields they want.
func EmptyUpdate(m Map, id ID) (UpdateMsg, bool) {
	c, ok := m.Get(id)
	if !ok || !c.Stateful() {
		return UpdateMsg{}, false
	}
	return UpdateMsg{Type: c.Kind, ControlID: slices.Clone(id)}, true
}

// Apply overwrites the fields present in msg on the control it addresses
// and reports whether a control was changed. Unknown ids and updates whose
// type does not match the control's kind are ignored.
func Apply(m Map, msg *UpdateMsg) bool {
	c, ok := m.Get(msg.ControlID)
	if !ok || c.Kind != msg.Type {
		return false
	}
	switch msg.Type {
	case KindLabel:
		if msg.Label != nil {
			c.Text = *msg.Label
		}
	case KindButton:
		if msg.State != nil {
			c.State = clonePtr(msg.State)
		}
		if msg.Label != nil {
			c.Label = clonePtr(msg.Label)
		}
	case KindSlider:
		if msg.State != nil {
			c.State = clonePtr(msg.State)
		}
		if msg.Location != nil {
			c.Location = clonePtr(msg.Location)
		}
		if msg.Label != nil {
			c.Label = clonePtr(msg.Label)
		}
	default:
		return false
	}
	return true
}
