package controls

// Kind discriminates the control variants. The same names tag definition
// nodes and update messages on the wire.
type Kind string

const (
	KindGroup  Kind = "group"
	KindSlider Kind = "slider"
	KindButton Kind = "button"
	KindLabel  Kind = "label"
)

func (k Kind) valid() bool {
	switch k {
	case KindGroup, KindSlider, KindButton, KindLabel:
		return true
	}
	return false
}

// State is the pressed state of a slider or button.
type State string

const (
	Active   State = "Active"
	Inactive State = "Inactive"
)

func (s State) valid() bool {
	return s == Active || s == Inactive
}

// Control is one node of the control tree. Which fields are meaningful
// depends on Kind:
//
//	group:  Children
//	slider: State, Location, Label
//	button: State, Label
//	label:  Text
//
// Groups carry no runtime state. Runtime fields are pointers so a missing
// value can be told apart from a zero one.
type Control struct {
	Kind     Kind
	Name     string
	Children []*Control

	State    *State
	Location *float64
	Label    *string
	Text     string
}

// Stateful reports whether the control carries runtime state that is
// synchronised to clients.
func (c *Control) Stateful() bool {
	return c.Kind != KindGroup
}

// Clone returns a deep copy of the control and its subtree.
func (c *Control) Clone() *Control {
	out := &Control{
		Kind:     c.Kind,
		Name:     c.Name,
		State:    clonePtr(c.State),
		Location: clonePtr(c.Location),
		Label:    clonePtr(c.Label),
		Text:     c.Text,
	}
	if c.Children != nil {
		out.Children = make([]*Control, len(c.Children))
		for i, child := range c.Children {
			out.Children[i] = child.Clone()
		}
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v. Handy for building partial updates.
func Ptr[T any](v T) *T {
	return &v
}
