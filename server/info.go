package server

import (
	"slices"

	"controlsync/controls"
)

// ControlInfo is the published control surface: the control map, its name
// index and the definition text they were built from. A reload replaces
// all three together.
type ControlInfo struct {
	title   string
	cm      controls.Map
	cnm     controls.NameMap
	guiJSON string
}

func newControlInfo(text string) (*ControlInfo, error) {
	def, err := controls.ParseDefinition(text)
	if err != nil {
		return nil, err
	}
	cm := controls.BuildMap(def.Root)
	return &ControlInfo{
		title:   def.Title,
		cm:      cm,
		cnm:     controls.BuildNameMap(cm),
		guiJSON: text,
	}, nil
}

func (ci *ControlInfo) clone() *ControlInfo {
	cm := ci.cm.Clone()
	return &ControlInfo{
		title:   ci.title,
		cm:      cm,
		cnm:     controls.BuildNameMap(cm),
		guiJSON: ci.guiJSON,
	}
}

func (ci *ControlInfo) Title() string { return ci.title }

// Definition returns the raw definition text.
func (ci *ControlInfo) Definition() string { return ci.guiJSON }

// Len returns the number of controls, groups included.
func (ci *ControlInfo) Len() int { return len(ci.cm) }

// GetName returns the name of the control at id.
func (ci *ControlInfo) GetName(id controls.ID) (string, bool) {
	c, ok := ci.cm.Get(id)
	if !ok {
		return "", false
	}
	return c.Name, true
}

// ControlID resolves a control name to its position.
func (ci *ControlInfo) ControlID(name string) (controls.ID, bool) {
	id, ok := ci.cnm[name]
	return slices.Clone(id), ok
}

// Control returns the control at id. The control must not be modified.
func (ci *ControlInfo) Control(id controls.ID) (*controls.Control, bool) {
	return ci.cm.Get(id)
}

// Snapshot returns the current value of every stateful control.
func (ci *ControlInfo) Snapshot() []controls.UpdateMsg {
	return controls.Snapshot(ci.cm)
}
