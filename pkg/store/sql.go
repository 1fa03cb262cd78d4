// Package store persists worklog entries to a SQL database. It supports
// sqlite, postgres and mysql through database/sql driver registration.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kanba-ai/kanba/pkg/worklog"
)

const createWorklogTableSQL = `
CREATE TABLE IF NOT EXISTS worklog_entries (
    workflow_id VARCHAR(255) NOT NULL,
    seq BIGINT NOT NULL,
    ts TIMESTAMP NOT NULL,
    entry_type VARCHAR(64) NOT NULL,
    task_id VARCHAR(255),
    task_title VARCHAR(255),
    agent_id VARCHAR(255),
    agent_name VARCHAR(255),
    status VARCHAR(64) NOT NULL,
    metadata_json TEXT,
    PRIMARY KEY (workflow_id, seq)
)`

const createWorklogIndexSQL = `
CREATE INDEX IF NOT EXISTS idx_worklog_entries_workflow_ts ON worklog_entries(workflow_id, ts)`

// SQLStore implements worklog.Store on a shared *sql.DB.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// Open connects to the database and prepares the schema. Dialect is one of
// sqlite, postgres, mysql; sqlite3 is accepted as an alias.
func Open(dialect, dsn string) (*SQLStore, error) {
	driver := dialect
	if dialect == "sqlite" {
		driver = "sqlite3"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", dialect, err)
	}
	s, err := NewSQLStore(db, dialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an existing connection. The connection should be shared
// with other services using the same database to avoid SQLite lock errors.
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	normalized := dialect
	if dialect == "sqlite3" {
		normalized = "sqlite"
	}
	switch normalized {
	case "sqlite", "postgres", "mysql":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: sqlite, postgres, mysql)", dialect)
	}

	s := &SQLStore{db: db, dialect: normalized}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, createWorklogTableSQL); err != nil {
		return fmt.Errorf("failed to create worklog_entries table: %w", err)
	}
	// Separate statement for SQLite compatibility.
	if _, err := s.db.ExecContext(ctx, createWorklogIndexSQL); err != nil {
		return fmt.Errorf("failed to create worklog index: %w", err)
	}
	return nil
}

// Append inserts entries in one transaction. Re-appending an existing
// (workflow, seq) pair updates it in place, so persisting a whole log twice
// is idempotent.
func (s *SQLStore) Append(ctx context.Context, entries []worklog.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := s.upsertQuery()
	for _, e := range entries {
		metadataJSON := ""
		if len(e.Metadata) > 0 {
			data, marshalErr := json.Marshal(e.Metadata)
			if marshalErr != nil {
				return fmt.Errorf("failed to serialize entry metadata: %w", marshalErr)
			}
			metadataJSON = string(data)
		}

		_, err = tx.ExecContext(ctx, query,
			e.WorkflowID, e.Seq, e.Timestamp, e.Type,
			e.TaskID, e.TaskTitle, e.AgentID, e.AgentName,
			e.Status, metadataJSON)
		if err != nil {
			return fmt.Errorf("failed to insert worklog entry %d: %w", e.Seq, err)
		}
	}

	return tx.Commit()
}

func (s *SQLStore) upsertQuery() string {
	switch s.dialect {
	case "postgres":
		return `
INSERT INTO worklog_entries (workflow_id, seq, ts, entry_type, task_id, task_title, agent_id, agent_name, status, metadata_json)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (workflow_id, seq) DO UPDATE SET
    ts = EXCLUDED.ts,
    entry_type = EXCLUDED.entry_type,
    task_id = EXCLUDED.task_id,
    task_title = EXCLUDED.task_title,
    agent_id = EXCLUDED.agent_id,
    agent_name = EXCLUDED.agent_name,
    status = EXCLUDED.status,
    metadata_json = EXCLUDED.metadata_json`
	case "mysql":
		return `
INSERT INTO worklog_entries (workflow_id, seq, ts, entry_type, task_id, task_title, agent_id, agent_name, status, metadata_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    ts = VALUES(ts),
    entry_type = VALUES(entry_type),
    task_id = VALUES(task_id),
    task_title = VALUES(task_title),
    agent_id = VALUES(agent_id),
    agent_name = VALUES(agent_name),
    status = VALUES(status),
    metadata_json = VALUES(metadata_json)`
	default:
		return `
INSERT INTO worklog_entries (workflow_id, seq, ts, entry_type, task_id, task_title, agent_id, agent_name, status, metadata_json)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(workflow_id, seq) DO UPDATE SET
    ts = excluded.ts,
    entry_type = excluded.entry_type,
    task_id = excluded.task_id,
    task_title = excluded.task_title,
    agent_id = excluded.agent_id,
    agent_name = excluded.agent_name,
    status = excluded.status,
    metadata_json = excluded.metadata_json`
	}
}

// List returns a workflow's entries in seq order.
func (s *SQLStore) List(ctx context.Context, workflowID string) ([]worklog.Entry, error) {
	query := `
SELECT workflow_id, seq, ts, entry_type, task_id, task_title, agent_id, agent_name, status, metadata_json
FROM worklog_entries
WHERE workflow_id = ?
ORDER BY seq`
	if s.dialect == "postgres" {
		query = strings.Replace(query, "workflow_id = ?", "workflow_id = $1", 1)
	}

	rows, err := s.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query worklog entries: %w", err)
	}
	defer rows.Close()

	var entries []worklog.Entry
	for rows.Next() {
		var e worklog.Entry
		var taskID, taskTitle, agentID, agentName, metadataJSON sql.NullString
		if err := rows.Scan(&e.WorkflowID, &e.Seq, &e.Timestamp, &e.Type,
			&taskID, &taskTitle, &agentID, &agentName, &e.Status, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan worklog entry: %w", err)
		}
		e.TaskID = taskID.String
		e.TaskTitle = taskTitle.String
		e.AgentID = agentID.String
		e.AgentName = agentName.String
		if metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode entry metadata: %w", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
