package controls

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"unicode/utf8"
)

// ErrDecode is returned for a frame that is not a well-formed update
// message.
var ErrDecode = errors.New("invalid update message")

// UpdateMsg changes the runtime state of exactly one control. Nil fields
// leave the corresponding value unchanged. Which fields are allowed depends
// on Type:
//
//	label:  Label (required)
//	button: State, Label
//	slider: State, Location, Label
type UpdateMsg struct {
	Type      Kind     `json:"type"`
	ControlID ID       `json:"control_id"`
	State     *State   `json:"state,omitempty"`
	Location  *float64 `json:"location,omitempty"`
	Label     *string  `json:"label,omitempty"`
}

// LabelUpdate sets the text of a label control.
func LabelUpdate(id ID, text string) UpdateMsg {
	return UpdateMsg{Type: KindLabel, ControlID: id, Label: &text}
}

func ButtonUpdate(id ID, state *State, label *string) UpdateMsg {
	return UpdateMsg{Type: KindButton, ControlID: id, State: state, Label: label}
}

func SliderUpdate(id ID, state *State, location *float64, label *string) UpdateMsg {
	return UpdateMsg{Type: KindSlider, ControlID: id, State: state, Location: location, Label: label}
}

// Validate checks that msg has a known type, only the fields that type
// allows, and values within range.
func (msg *UpdateMsg) Validate() error {
	switch msg.Type {
	case KindLabel:
		if msg.Label == nil {
			return fmt.Errorf("%w: label update without label", ErrDecode)
		}
		if msg.State != nil || msg.Location != nil {
			return fmt.Errorf("%w: label update carries state or location", ErrDecode)
		}
	case KindButton:
		if msg.Location != nil {
			return fmt.Errorf("%w: button update carries location", ErrDecode)
		}
	case KindSlider:
		if msg.Location != nil {
			if l := *msg.Location; math.IsNaN(l) || l < 0 || l > 1 {
				return fmt.Errorf("%w: slider location %v out of range", ErrDecode, l)
			}
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrDecode, msg.Type)
	}
	if msg.State != nil && !msg.State.valid() {
		return fmt.Errorf("%w: unknown state %q", ErrDecode, *msg.State)
	}
	return nil
}

// EncodeUpdate renders msg in the wire format.
func EncodeUpdate(msg *UpdateMsg) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

type wireUpdate struct {
	Type      Kind     `json:"type"`
	ControlID *ID      `json:"control_id"`
	State     *State   `json:"state"`
	Location  *float64 `json:"location"`
	Label     *string  `json:"label"`
}

// DecodeUpdate parses one wire-format update message. Unknown members are
// rejected, as is anything that is not valid UTF-8. All failures wrap
// ErrDecode.
func DecodeUpdate(data []byte) (UpdateMsg, error) {
	if !utf8.Valid(data) {
		return UpdateMsg{}, fmt.Errorf("%w: invalid UTF-8", ErrDecode)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var w wireUpdate
	if err := dec.Decode(&w); err != nil {
		return UpdateMsg{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if dec.More() {
		return UpdateMsg{}, fmt.Errorf("%w: trailing data", ErrDecode)
	}
	if w.ControlID == nil {
		return UpdateMsg{}, fmt.Errorf("%w: missing control_id", ErrDecode)
	}
	for _, n := range *w.ControlID {
		if n < 0 {
			return UpdateMsg{}, fmt.Errorf("%w: negative index in control_id", ErrDecode)
		}
	}
	msg := UpdateMsg{
		Type:     w.Type,
		State:    w.State,
		Location: w.Location,
		Label:    w.Label,
	}
	if len(*w.ControlID) > 0 {
		msg.ControlID = *w.ControlID
	}
	if err := msg.Validate(); err != nil {
		return UpdateMsg{}, err
	}
	return msg, nil
}
