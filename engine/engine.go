// Package engine defines the contract between the kumo server and the SQL
// engines it fronts.
package engine

import (
	"context"

	"github.com/leftmike/kumo/wire"
)

// Query is one SQL statement together with its positional arguments.
type Query struct {
	SQL  string
	Args []interface{}
}

type ExecuteOptions struct {
	Schema     string
	AutoCommit bool

	// MultiStatements allows q.SQL to contain more than one statement; the
	// engine returns one Result per statement, in order.
	MultiStatements bool
}

// Rows is a forward-only result set. It is not safe for concurrent use.
type Rows interface {
	Columns() []wire.ColumnMeta

	// Next fetches the next row into dest, which must have len(Columns())
	// elements. It returns io.EOF after the last row.
	Next(ctx context.Context, dest []interface{}) error

	Close() error
}

// Result is the outcome of executing a single statement: a row set for
// queries, an update count for DML, or a bulk load handoff.
type Result struct {
	Rows        Rows
	UpdateCount int64
	BulkLoad    *BulkLoad

	// Tag names the statement that produced the result, such as SELECT or
	// UPDATE. The native protocol does not carry it; the pg listener and
	// the console report it.
	Tag string
}

func (res Result) IsQuery() bool {
	return res.Rows != nil
}

// BulkLoad asks the client to read a local file and ship its contents to the
// server in batches; Sink consumes them.
type BulkLoad struct {
	FileName  string
	BatchSize int
	Sink      BulkLoadSink
}

type BulkLoadSink interface {
	// Append ingests one batch of file data and returns the total number of
	// rows loaded so far.
	Append(ctx context.Context, data []byte) (int64, error)

	// Close ends the load and returns the total number of rows loaded. With
	// abort true, buffered rows are discarded instead of committed.
	Close(ctx context.Context, abort bool) (int64, error)
}

type Engine interface {
	// NewSession begins a session for a connected client. The session sees
	// the client settings, and may watch cliCtx for streaming changes.
	NewSession(ctx context.Context, cliCtx *ClientContext) (Session, error)

	// Serial reports whether sessions of this engine must execute requests
	// one at a time on a single worker.
	Serial() bool
}

// Session executes SQL and serves catalog metadata for one client. Sessions
// are not safe for concurrent use; the server serializes requests.
type Session interface {
	// Execute runs q and returns one Result per statement; more than one
	// only when opts.MultiStatements is set.
	Execute(ctx context.Context, q Query, opts ExecuteOptions) ([]Result, error)

	// ExecuteBatch runs one statement template once per argument set and
	// returns an update count per set. A partial failure is reported as a
	// BatchError carrying the counts completed so far.
	ExecuteBatch(ctx context.Context, sql string, argSets [][]interface{},
		opts ExecuteOptions) ([]int64, error)

	// StreamBatch is ExecuteBatch for a streaming session: the engine may
	// buffer rows and defer work until the stream is flushed.
	StreamBatch(ctx context.Context, sql string, argSets [][]interface{},
		opts ExecuteOptions) ([]int64, error)

	// ParameterMetadata describes the parameter markers of sql without
	// executing it.
	ParameterMetadata(ctx context.Context, schema, sql string) ([]wire.ParameterMeta, error)

	// The catalog operations below take SQL LIKE patterns; an empty pattern
	// matches everything.

	Tables(ctx context.Context, schema, table string) ([]wire.TableMeta, error)
	Columns(ctx context.Context, schema, table, column string) ([]wire.ColumnMeta, error)
	Indexes(ctx context.Context, schema, table string) ([]wire.IndexMeta, error)
	PrimaryKeys(ctx context.Context, schema, table string) ([]wire.PrimaryKeyMeta, error)
	Schemas(ctx context.Context, schema string) ([]string, error)

	// ActiveTx reports whether the session has an open transaction.
	ActiveTx() bool

	Close() error
}
