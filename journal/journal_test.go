package journal

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"controlsync/controls"
	"controlsync/server"
)

type execCall struct {
	sql  string
	args []any
}

type fakeDB struct {
	calls []execCall
	err   error
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql, args})
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

const definition = `{"title":"t","root":{"type":"group","children":[{"type":"slider","name":"vol"}]}}`

func TestOnUpdateReceivedInsertsRow(t *testing.T) {
	db := &fakeDB{}
	j := New(db, nil)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return at }

	cs, err := server.New(definition, nil)
	require.NoError(t, err)

	msg := controls.SliderUpdate(controls.ID{0}, nil, controls.Ptr(0.4), nil)
	j.OnUpdateReceived(msg, cs.Info())

	require.Len(t, db.calls, 1)
	call := db.calls[0]
	assert.Equal(t, insertUpdate, call.sql)
	require.Len(t, call.args, 5)
	assert.Equal(t, []int32{0}, call.args[0])
	assert.Equal(t, "vol", call.args[1])
	assert.Equal(t, "slider", call.args[2])
	assert.Equal(t, at, call.args[4])

	var decoded controls.UpdateMsg
	require.NoError(t, json.Unmarshal(call.args[3].([]byte), &decoded))
	assert.Equal(t, 0.4, *decoded.Location)
}

func TestOnUpdateReceivedUnknownControl(t *testing.T) {
	db := &fakeDB{err: errors.New("connection refused")}
	j := New(db, nil)

	j.OnUpdateReceived(controls.LabelUpdate(controls.ID{3, 1}, "x"), nil)
	require.Len(t, db.calls, 1)
	assert.Equal(t, "", db.calls[0].args[1])
	assert.Equal(t, []int32{3, 1}, db.calls[0].args[0])
}

func TestEnsureSchema(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, New(db, nil).EnsureSchema(context.Background()))
	require.Len(t, db.calls, 1)
	assert.Contains(t, db.calls[0].sql, "CREATE TABLE IF NOT EXISTS control_updates")

	db.err = errors.New("permission denied")
	assert.Error(t, New(db, nil).EnsureSchema(context.Background()))
}
