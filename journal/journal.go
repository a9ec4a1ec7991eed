// Package journal records every update clients send to a Postgres table.
// The journal is write-only: it is an audit trail, the server never reads
// its state back from it.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"controlsync/controls"
	"controlsync/server"
)

const writeTimeout = 2 * time.Second

const schema = `CREATE TABLE IF NOT EXISTS control_updates (
	id           BIGSERIAL PRIMARY KEY,
	control_id   INTEGER[] NOT NULL,
	control_name TEXT NOT NULL,
	kind         TEXT NOT NULL,
	payload      JSONB NOT NULL,
	received_at  TIMESTAMPTZ NOT NULL
)`

const insertUpdate = `INSERT INTO control_updates
	(control_id, control_name, kind, payload, received_at)
	VALUES ($1, $2, $3, $4, $5)`

// Execer is the subset of *pgxpool.Pool the journal needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Journal is a server.UpdateProcessor that inserts one row per update.
type Journal struct {
	db     Execer
	logger *slog.Logger
	now    func() time.Time
}

var _ server.UpdateProcessor = (*Journal)(nil)

func New(db Execer, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{db: db, logger: logger, now: time.Now}
}

// Open connects a pool to dsn and makes sure the journal table exists.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*pgxpool.Pool, *Journal, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	j := New(pool, logger)
	if err := j.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return pool, j, nil
}

func (j *Journal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating journal table: %w", err)
	}
	return nil
}

// OnUpdateReceived records msg. Failures are logged; they never reach the
// client that sent the update.
func (j *Journal) OnUpdateReceived(msg controls.UpdateMsg, info *server.ControlInfo) {
	payload, err := json.Marshal(msg)
	if err != nil {
		j.logger.Error("encoding journal entry", "error", err)
		return
	}
	var name string
	if info != nil {
		name, _ = info.GetName(msg.ControlID)
	}
	id := []int32{}
	for _, n := range msg.ControlID {
		id = append(id, int32(n))
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if _, err := j.db.Exec(ctx, insertUpdate, id, name, string(msg.Type), payload, j.now()); err != nil {
		j.logger.Warn("writing journal entry failed", "control_id", msg.ControlID.String(), "error", err)
	}
}
