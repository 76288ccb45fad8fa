package checkpoint

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/jg100/airbyte/pkg/checkpointer"
)

//go:embed queries/create-table-local.sql
var createTableLocalQuery string

//go:embed queries/create-table.sql
var createTableQuery string

//go:embed queries/write-state.sql
var writeStateQuery string

//go:embed queries/read-state.sql
var readStateQuery string

//go:embed queries/delete-state.sql
var deleteStateQuery string

// Conn is the part of a ClickHouse connection the repository uses.
type Conn interface {
	Exec(ctx context.Context, query string, args ...any) error
	QueryRow(ctx context.Context, query string, args ...any) driver.Row
}

// Repository stores sync state in a ClickHouse ReplacingMergeTree table keyed
// by stream. With a cluster configured the rows live in a <table>_local table
// on every node behind a Distributed table sharded by stream.
type Repository struct {
	conn     Conn
	cluster  string
	database string
	table    string
	now      func() time.Time
}

var _ checkpointer.Checkpointer = (*Repository)(nil)

// NewRepository creates the state table if needed.
func NewRepository(ctx context.Context, conn Conn, cluster, database, table string) (*Repository, error) {
	if conn == nil {
		return nil, errors.New("invalid connection: must not be nil")
	}
	if database == "" || table == "" {
		return nil, errors.New("invalid state table: database and table must be set")
	}
	repo := &Repository{conn: conn, cluster: cluster, database: database, table: table, now: time.Now}
	if err := repo.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to create state table: %w", err)
	}
	return repo, nil
}

// Initialize creates the state table, and its local table when running on a cluster.
func (r *Repository) Initialize(ctx context.Context) error {
	if r.cluster == "" {
		query := fmt.Sprintf(createTableLocalQuery, r.database, r.table, "")
		if err := r.conn.Exec(ctx, query); err != nil {
			return fmt.Errorf("failed to create state table: %w", err)
		}
		return nil
	}

	query := fmt.Sprintf(createTableLocalQuery, r.database, r.localTable(), r.onCluster())
	if err := r.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create state local table: %w", err)
	}
	query = fmt.Sprintf(createTableQuery, r.database, r.table, r.onCluster(), r.localTable(), r.cluster)
	if err := r.conn.Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create state table: %w", err)
	}
	return nil
}

// Write inserts a new version of the state of a stream.
func (r *Repository) Write(ctx context.Context, stream string, state []byte) error {
	cp := Checkpoint{Stream: stream, State: string(state), Timestamp: r.now().UnixMilli()}
	query := fmt.Sprintf(writeStateQuery, r.database, r.table)
	if err := r.conn.Exec(ctx, query, cp.Stream, cp.State, cp.Timestamp); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return nil
}

// Read returns the latest state of a stream.
func (r *Repository) Read(ctx context.Context, stream string) ([]byte, bool, error) {
	cp, err := r.ReadCheckpoint(ctx, stream)
	if err != nil || cp == nil {
		return nil, false, err
	}
	return []byte(cp.State), true, nil
}

// ReadCheckpoint returns the latest state row of a stream, or nil when there is none.
func (r *Repository) ReadCheckpoint(ctx context.Context, stream string) (*Checkpoint, error) {
	var cp Checkpoint
	query := fmt.Sprintf(readStateQuery, r.database, r.table)
	err := r.conn.QueryRow(ctx, query, stream).Scan(&cp.Stream, &cp.State, &cp.Timestamp)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	return &cp, nil
}

// Delete removes every state row of a stream.
func (r *Repository) Delete(ctx context.Context, stream string) error {
	table := r.table
	if r.cluster != "" {
		table = r.localTable()
	}
	query := fmt.Sprintf(deleteStateQuery, r.database, table, r.onCluster())
	if err := r.conn.Exec(ctx, query, stream); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

func (r *Repository) localTable() string {
	return r.table + "_local"
}

func (r *Repository) onCluster() string {
	if r.cluster == "" {
		return ""
	}
	return " ON CLUSTER " + r.cluster
}
