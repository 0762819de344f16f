// Package sqlite persists registry state so the service survives restarts
// without agents losing their entries.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"taskmesh/internal/registry"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS agents (
	agent_id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	agent_type TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	version TEXT NOT NULL DEFAULT '',
	host TEXT NOT NULL DEFAULT '',
	port INTEGER NOT NULL DEFAULT 0,
	tags TEXT NOT NULL DEFAULT '[]',
	capabilities TEXT NOT NULL DEFAULT '[]',
	status TEXT NOT NULL,
	registered_at INTEGER NOT NULL,
	last_heartbeat INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agents_type ON agents(agent_type);
CREATE INDEX IF NOT EXISTS idx_agents_heartbeat ON agents(last_heartbeat);
`

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *Store) UpsertAgent(ctx context.Context, entry registry.Entry) error {
	tags, err := json.Marshal(entry.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	caps, err := json.Marshal(entry.Capabilities)
	if err != nil {
		return fmt.Errorf("encode capabilities: %w", err)
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO agents(
			agent_id, name, agent_type, description, version, host, port, tags,
			capabilities, status, registered_at, last_heartbeat
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			name=excluded.name,
			agent_type=excluded.agent_type,
			description=excluded.description,
			version=excluded.version,
			host=excluded.host,
			port=excluded.port,
			tags=excluded.tags,
			capabilities=excluded.capabilities,
			status=excluded.status,
			registered_at=excluded.registered_at,
			last_heartbeat=excluded.last_heartbeat`,
		entry.AgentID, entry.Name, entry.AgentType, entry.Description,
		entry.Version, entry.Host, entry.Port,
		string(tags), string(caps), string(entry.Status),
		entry.RegisteredAt.UnixMilli(), entry.LastHeartbeat.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("upsert agent: %w", err)
	}
	return nil
}

func (s *Store) GetAgent(ctx context.Context, agentID string) (registry.Entry, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT agent_id, name, agent_type, description, version, host, port,
			tags, capabilities, status, registered_at, last_heartbeat
		FROM agents WHERE agent_id = ?`,
		agentID,
	)
	entry, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return registry.Entry{}, fmt.Errorf("agent %s: %w", agentID, registry.ErrAgentUnknown)
	}
	if err != nil {
		return registry.Entry{}, fmt.Errorf("get agent: %w", err)
	}
	return entry, nil
}

func (s *Store) ListAgents(ctx context.Context) ([]registry.Entry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT agent_id, name, agent_type, description, version, host, port,
			tags, capabilities, status, registered_at, last_heartbeat
		FROM agents ORDER BY agent_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var entries []registry.Entry
	for rows.Next() {
		entry, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return entries, nil
}

func (s *Store) DeleteAgent(ctx context.Context, agentID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE agent_id = ?`, agentID)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("agent %s: %w", agentID, registry.ErrAgentUnknown)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (registry.Entry, error) {
	var e registry.Entry
	var tags, caps, status string
	var registered, heartbeat int64
	if err := row.Scan(
		&e.AgentID, &e.Name, &e.AgentType, &e.Description, &e.Version,
		&e.Host, &e.Port, &tags, &caps, &status, &registered, &heartbeat,
	); err != nil {
		return registry.Entry{}, err
	}
	if err := json.Unmarshal([]byte(tags), &e.Tags); err != nil {
		return registry.Entry{}, fmt.Errorf("decode tags: %w", err)
	}
	if err := json.Unmarshal([]byte(caps), &e.Capabilities); err != nil {
		return registry.Entry{}, fmt.Errorf("decode capabilities: %w", err)
	}
	e.Status = registry.EntryStatus(status)
	e.RegisteredAt = millisToTime(registered)
	e.LastHeartbeat = millisToTime(heartbeat)
	return e, nil
}

func millisToTime(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}
