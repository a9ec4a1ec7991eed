package controls

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDefinition = `{
  "title": "mixer",
  "root": {
    "type": "group", "name": "main",
    "children": [
      {"type": "slider", "name": "vol", "label": "Volume"},
      {"type": "group", "name": "transport", "children": [
        {"type": "button", "name": "play"},
        {"type": "label", "name": "status", "label": "stopped"}
      ]},
      {"type": "slider", "name": "pan"}
    ]
  }
}`

func countNodes(c *Control) int {
	n := 1
	for _, child := range c.Children {
		n += countNodes(child)
	}
	return n
}

func parseTestDefinition(t *testing.T) (*Definition, Map) {
	t.Helper()
	def, err := ParseDefinition(testDefinition)
	require.NoError(t, err)
	return def, BuildMap(def.Root)
}

func TestBuildMap(t *testing.T) {
	def, m := parseTestDefinition(t)
	assert.Equal(t, "mixer", def.Title)
	assert.Len(t, m, countNodes(def.Root))
	assert.Len(t, m, 6)

	expect := map[string]ID{
		"main":      nil,
		"vol":       {0},
		"transport": {1},
		"play":      {1, 0},
		"status":    {1, 1},
		"pan":       {2},
	}
	for name, id := range expect {
		c, ok := m.Get(id)
		require.True(t, ok, "no control at %s", id)
		assert.Equal(t, name, c.Name)
	}

	// every id is the node's path from the root
	var walk func(c *Control, id ID)
	walk = func(c *Control, id ID) {
		got, ok := m.Get(id)
		require.True(t, ok)
		assert.Same(t, c, got)
		for i, child := range c.Children {
			walk(child, id.Child(i))
		}
	}
	walk(def.Root, nil)
}

func TestBuildMapDefaults(t *testing.T) {
	_, m := parseTestDefinition(t)

	vol, _ := m.Get(ID{0})
	require.NotNil(t, vol.State)
	assert.Equal(t, Inactive, *vol.State)
	assert.Equal(t, DefaultSliderLocation, *vol.Location)
	assert.Equal(t, "Volume", *vol.Label)

	pan, _ := m.Get(ID{2})
	assert.Nil(t, pan.Label)

	status, _ := m.Get(ID{1, 1})
	assert.Equal(t, "stopped", status.Text)
}

func TestBuildNameMap(t *testing.T) {
	_, m := parseTestDefinition(t)
	nm := BuildNameMap(m)
	assert.Equal(t, ID{1, 0}, nm["play"])
	assert.Nil(t, nm["main"])
	_, ok := nm["main"]
	assert.True(t, ok)
	_, ok = nm["missing"]
	assert.False(t, ok)
}

func TestBuildNameMapDuplicateLastWins(t *testing.T) {
	def, err := ParseDefinition(`{"title":"t","root":{"type":"group","children":[
		{"type":"button","name":"dup"},
		{"type":"slider","name":"dup"}]}}`)
	require.NoError(t, err)
	nm := BuildNameMap(BuildMap(def.Root))
	assert.Equal(t, ID{1}, nm["dup"])
}

func TestParseDefinitionErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"syntax", `{"title": "x", "root": `},
		{"missing title", `{"root": {"type": "slider", "name": "a"}}`},
		{"missing root", `{"title": "x"}`},
		{"null root", `{"title": "x", "root": null}`},
		{"unknown type", `{"title": "x", "root": {"type": "knob", "name": "a"}}`},
		{"missing name", `{"title": "x", "root": {"type": "group", "children": [{"type": "slider"}]}}`},
		{"children on leaf", `{"title": "x", "root": {"type": "button", "name": "b", "children": []}}`},
		{"bad children", `{"title": "x", "root": {"type": "group", "children": {}}}`},
		{"not an object", `[1, 2]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinition(tt.text)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDefinition)
		})
	}
}

func TestApplyPartialUpdate(t *testing.T) {
	m := Map{
		ID{0}.Key(): {
			Kind:     KindSlider,
			Name:     "s",
			State:    Ptr(Active),
			Location: Ptr(0.2),
			Label:    Ptr("foo"),
		},
	}
	msg := SliderUpdate(ID{0}, nil, Ptr(0.7), nil)
	assert.True(t, Apply(m, &msg))

	c, _ := m.Get(ID{0})
	assert.Equal(t, Active, *c.State)
	assert.Equal(t, 0.7, *c.Location)
	assert.Equal(t, "foo", *c.Label)
}

func TestApplyDoesNotAliasMessage(t *testing.T) {
	_, m := parseTestDefinition(t)
	msg := SliderUpdate(ID{0}, nil, Ptr(0.9), nil)
	require.True(t, Apply(m, &msg))
	*msg.Location = 0.1

	c, _ := m.Get(ID{0})
	assert.Equal(t, 0.9, *c.Location)
}

func TestApplyUnknownID(t *testing.T) {
	_, m := parseTestDefinition(t)
	before := m.Clone()

	msgs := []UpdateMsg{
		LabelUpdate(ID{9}, "x"),
		ButtonUpdate(ID{1, 7}, Ptr(Active), nil),
		SliderUpdate(ID{0, 0, 0}, nil, Ptr(1.0), nil),
	}
	for i := range msgs {
		assert.False(t, Apply(m, &msgs[i]))
	}
	assert.Equal(t, Snapshot(before), Snapshot(m))
}

func TestApplyKindMismatch(t *testing.T) {
	_, m := parseTestDefinition(t)
	msg := LabelUpdate(ID{0}, "not a label")
	assert.False(t, Apply(m, &msg))

	c, _ := m.Get(ID{0})
	assert.Equal(t, "Volume", *c.Label)
}

func TestApplyLabelAndButton(t *testing.T) {
	_, m := parseTestDefinition(t)

	lbl := LabelUpdate(ID{1, 1}, "playing")
	require.True(t, Apply(m, &lbl))
	status, _ := m.Get(ID{1, 1})
	assert.Equal(t, "playing", status.Text)

	btn := ButtonUpdate(ID{1, 0}, Ptr(Active), nil)
	require.True(t, Apply(m, &btn))
	play, _ := m.Get(ID{1, 0})
	assert.Equal(t, Active, *play.State)
	assert.Nil(t, play.Label)
}

func TestSnapshot(t *testing.T) {
	_, m := parseTestDefinition(t)
	snap := Snapshot(m)
	require.Len(t, snap, 4)

	assert.Equal(t, SliderUpdate(ID{0}, Ptr(Inactive), Ptr(0.5), Ptr("Volume")), snap[0])
	assert.Equal(t, ButtonUpdate(ID{1, 0}, Ptr(Inactive), nil), snap[1])
	assert.Equal(t, LabelUpdate(ID{1, 1}, "stopped"), snap[2])
	assert.Equal(t, SliderUpdate(ID{2}, Ptr(Inactive), Ptr(0.5), nil), snap[3])

	// applying a snapshot to a fresh map reproduces the state
	moved := SliderUpdate(ID{2}, Ptr(Active), Ptr(0.1), Ptr("L"))
	require.True(t, Apply(m, &moved))
	_, fresh := parseTestDefinition(t)
	for _, msg := range Snapshot(m) {
		Apply(fresh, &msg)
	}
	assert.Equal(t, Snapshot(m), Snapshot(fresh))
}

func TestEmptyUpdate(t *testing.T) {
	_, m := parseTestDefinition(t)

	msg, ok := EmptyUpdate(m, ID{0})
	require.True(t, ok)
	assert.Equal(t, UpdateMsg{Type: KindSlider, ControlID: ID{0}}, msg)

	_, ok = EmptyUpdate(m, ID{1})
	assert.False(t, ok, "groups have no state")
	_, ok = EmptyUpdate(m, ID{5})
	assert.False(t, ok)
}

func TestMapClone(t *testing.T) {
	_, m := parseTestDefinition(t)
	c := m.Clone()
	msg := SliderUpdate(ID{0}, nil, Ptr(0.0), nil)
	require.True(t, Apply(c, &msg))

	orig, _ := m.Get(ID{0})
	assert.Equal(t, 0.5, *orig.Location)

	group, _ := c.Get(ID{1})
	child, _ := c.Get(ID{1, 0})
	assert.Same(t, child, group.Children[0])
}

func TestUpdateRoundTrip(t *testing.T) {
	states := []*State{nil, Ptr(Active), Ptr(Inactive)}
	locations := []*float64{nil, Ptr(0.0), Ptr(0.25), Ptr(1.0)}
	labels := []*string{nil, Ptr(""), Ptr("hello")}

	var msgs []UpdateMsg
	for _, l := range labels {
		if l != nil {
			msgs = append(msgs, LabelUpdate(ID{1, 2}, *l))
		}
		for _, s := range states {
			msgs = append(msgs, ButtonUpdate(ID{3}, s, l))
			for _, loc := range locations {
				msgs = append(msgs, SliderUpdate(ID{0, 4}, s, loc, l))
			}
		}
	}
	msgs = append(msgs, LabelUpdate(nil, "root"))

	for _, msg := range msgs {
		data, err := EncodeUpdate(&msg)
		require.NoError(t, err)
		got, err := DecodeUpdate(data)
		require.NoError(t, err, string(data))
		assert.Equal(t, msg, got, string(data))
	}
}

func TestEncodeUpdateWireFormat(t *testing.T) {
	msg := SliderUpdate(ID{0}, nil, Ptr(0.5), nil)
	data, err := EncodeUpdate(&msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"slider","control_id":[0],"location":0.5}`, string(data))

	msg = LabelUpdate(nil, "x")
	data, err = EncodeUpdate(&msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"label","control_id":[],"label":"x"}`, string(data))
}

func TestDecodeUpdateErrors(t *testing.T) {
	tests := []string{
		``,
		`not json`,
		`{"type":"slider","location":0.5}`,
		`{"type":"knob","control_id":[0]}`,
		`{"type":"label","control_id":[0]}`,
		`{"type":"label","control_id":[0],"label":"x","state":"Active"}`,
		`{"type":"button","control_id":[0],"location":0.1}`,
		`{"type":"button","control_id":[0],"state":"Pressed"}`,
		`{"type":"slider","control_id":[0],"location":1.5}`,
		`{"type":"slider","control_id":[0],"location":-0.1}`,
		`{"type":"slider","control_id":[-1]}`,
		`{"type":"slider","control_id":[0],"colour":"red"}`,
		`{"type":"slider","control_id":[0]} {}`,
		"{\"type\":\"label\",\"control_id\":[0],\"label\":\"\xff\xfe\"}",
	}
	for _, frame := range tests {
		_, err := DecodeUpdate([]byte(frame))
		assert.ErrorIs(t, err, ErrDecode, frame)
	}
}

func TestResyncDocument(t *testing.T) {
	_, m := parseTestDefinition(t)
	doc, err := ResyncDocument(testDefinition, Snapshot(m))
	require.NoError(t, err)

	var decoded struct {
		Title string            `json:"title"`
		Root  json.RawMessage   `json:"root"`
		State []json.RawMessage `json:"state"`
	}
	require.NoError(t, json.Unmarshal(doc, &decoded))
	assert.Equal(t, "mixer", decoded.Title)
	assert.NotEmpty(t, decoded.Root)
	require.Len(t, decoded.State, 4)

	first, err := DecodeUpdate(decoded.State[0])
	require.NoError(t, err)
	assert.Equal(t, ID{0}, first.ControlID)

	doc, err = ResyncDocument(`{"title":"empty","root":{"type":"group"}}`, nil)
	require.NoError(t, err)
	assert.Contains(t, string(doc), `"state":[]`)
}

func TestIDKey(t *testing.T) {
	for _, id := range []ID{nil, {0}, {3, 14, 15}} {
		assert.Equal(t, id, id.Key().ID())
	}
	assert.Equal(t, Key("1.0.2"), ID{1, 0, 2}.Key())
	assert.Equal(t, "[1,0,2]", ID{1, 0, 2}.String())
	assert.Equal(t, -1, ID{0, 5}.Compare(ID{1}))
	assert.Equal(t, -1, ID{1}.Compare(ID{1, 0}))
}
