package relay

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTarget struct {
	updates     []string
	definitions []string
	err         error
}

func (f *fakeTarget) ApplyRemote(data []byte) error {
	f.updates = append(f.updates, string(data))
	return f.err
}

func (f *fakeTarget) LoadRemote(text string) error {
	f.definitions = append(f.definitions, text)
	return f.err
}

func envelope(t *testing.T, origin, kind, payload string) string {
	t.Helper()
	data, err := json.Marshal(Envelope{Origin: origin, Kind: kind, Payload: payload})
	require.NoError(t, err)
	return string(data)
}

func TestHandleDispatchesRemoteChanges(t *testing.T) {
	r := New(nil, "", nil)
	target := &fakeTarget{}

	update := `{"type":"label","control_id":[1],"label":"x"}`
	r.handle(envelope(t, "other", KindUpdate, update), target)
	r.handle(envelope(t, "other", KindDefinition, `{"title":"t"}`), target)

	assert.Equal(t, []string{update}, target.updates)
	assert.Equal(t, []string{`{"title":"t"}`}, target.definitions)
}

func TestHandleSkipsOwnAndMalformed(t *testing.T) {
	r := New(nil, "", nil)
	target := &fakeTarget{err: errors.New("rejected")}

	r.handle(envelope(t, r.Origin(), KindUpdate, "{}"), target)
	r.handle("not json", target)
	r.handle(envelope(t, "other", "bogus", "{}"), target)
	assert.Empty(t, target.updates)
	assert.Empty(t, target.definitions)

	// target errors are logged, not fatal
	r.handle(envelope(t, "other", KindUpdate, "{}"), target)
	assert.Len(t, target.updates, 1)
}

func TestPublishEnqueuesEnvelopes(t *testing.T) {
	r := New(nil, "custom", nil)
	assert.Equal(t, "custom", r.channel)

	r.PublishUpdate([]byte(`{"a":1}`))
	r.PublishDefinition(`{"title":"t"}`)

	assert.Equal(t, Envelope{Origin: r.Origin(), Kind: KindUpdate, Payload: `{"a":1}`}, <-r.out)
	assert.Equal(t, Envelope{Origin: r.Origin(), Kind: KindDefinition, Payload: `{"title":"t"}`}, <-r.out)
}

func TestPublishDropsWhenQueueFull(t *testing.T) {
	r := New(nil, "", nil)
	for i := 0; i < publishQueue+10; i++ {
		r.PublishUpdate([]byte("{}"))
	}
	assert.Len(t, r.out, publishQueue)
}

func TestOriginsAreUnique(t *testing.T) {
	assert.NotEqual(t, New(nil, "", nil).Origin(), New(nil, "", nil).Origin())
	assert.Equal(t, DefaultChannel, New(nil, "", nil).channel)
}
