package client

import (
	"context"
	"fmt"
	"io"

	"github.com/leftmike/kumo/engine"
	"github.com/leftmike/kumo/wire"
)

// Options adjust a single request; the zero value inherits the connection
// defaults.
type Options struct {
	Schema        string
	AutoCommit    bool
	StatementType wire.StatementType
	PageSize      int
	MaxRows       int

	// RequestID, when not zero, is used as the request id so a concurrent
	// Cancel can target the request. Allocate it with Conn.RequestID.
	RequestID int64

	// LastStreamBatch marks the final batch of an unordered stream; the
	// server leaves streaming mode after running it. Only batches use it.
	LastStreamBatch bool
}

func (cn *Conn) requestID(opts Options) int64 {
	if opts.RequestID != 0 {
		return opts.RequestID
	}
	return cn.nextID()
}

// Execute runs sql and returns one result per statement. Query results
// hold a cursor on the server; close the Rows to release it promptly.
func (cn *Conn) Execute(ctx context.Context, sql string, args []interface{},
	opts Options) ([]engine.Result, error) {

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = cn.pageSize
	}
	maxRows := opts.MaxRows
	if maxRows <= 0 {
		maxRows = cn.maxRows
	}

	rsp, err := cn.call(ctx, &wire.ExecuteRequest{
		ID:            cn.requestID(opts),
		Schema:        opts.Schema,
		SQL:           sql,
		Args:          args,
		PageSize:      pageSize,
		MaxRows:       maxRows,
		AutoCommit:    opts.AutoCommit,
		StatementType: opts.StatementType,
	})
	if err != nil {
		return nil, err
	}

	switch res := rsp.Result.(type) {
	case *wire.ExecuteResult:
		if !res.IsQuery {
			return []engine.Result{{UpdateCount: res.UpdateCount}}, nil
		}
		rows, err := cn.newRows(ctx, res.CursorID, res.Rows, res.Last, pageSize)
		if err != nil {
			return nil, err
		}
		return []engine.Result{{Rows: rows}}, nil

	case *wire.ExecuteMultiResult:
		return cn.multiResults(ctx, res, pageSize)

	case *wire.BulkLoadAckResult:
		return []engine.Result{
			{
				BulkLoad: &engine.BulkLoad{
					FileName:  res.FileName,
					BatchSize: res.BatchSize,
					Sink:      &loadSink{cn: cn, cursorID: res.CursorID},
				},
			},
		}, nil
	}
	return nil, fmt.Errorf("client: unexpected execute result: %#v", rsp.Result)
}

// Run runs sql the way the console expects: committing, with the
// connection defaults.
func (cn *Conn) Run(ctx context.Context, sql string) ([]engine.Result, error) {
	return cn.Execute(ctx, sql, nil, Options{AutoCommit: true})
}

// multiResults maps a multi statement response; only the first query
// arrives with rows, the rest are fetched on demand.
func (cn *Conn) multiResults(ctx context.Context, emr *wire.ExecuteMultiResult,
	pageSize int) ([]engine.Result, error) {

	results := make([]engine.Result, 0, len(emr.Results))
	fetched := false
	for _, sr := range emr.Results {
		if !sr.IsQuery {
			results = append(results, engine.Result{UpdateCount: sr.UpdateCount})
			continue
		}

		var rows *Rows
		var err error
		if fetched {
			rows, err = cn.newRows(ctx, sr.CursorID, nil, false, pageSize)
		} else {
			rows, err = cn.newRows(ctx, sr.CursorID, emr.Rows, emr.Last, pageSize)
			fetched = true
		}
		if err != nil {
			return nil, err
		}
		results = append(results, engine.Result{Rows: rows})
	}
	return results, nil
}

func (cn *Conn) newRows(ctx context.Context, cursorID int64, rows [][]interface{},
	last bool, pageSize int) (*Rows, error) {

	var cols []wire.ColumnMeta
	if !last || !cn.autoClose {
		// With auto close and a single page result the server has already
		// dropped the cursor, and the metadata with it.
		var err error
		cols, err = cn.QueryMeta(ctx, cursorID)
		if err != nil {
			return nil, err
		}
	}
	return &Rows{
		cn:       cn,
		cursorID: cursorID,
		cols:     cols,
		pageSize: pageSize,
		rows:     rows,
		last:     last,
	}, nil
}

// QueryMeta returns the column metadata of an open cursor.
func (cn *Conn) QueryMeta(ctx context.Context, cursorID int64) ([]wire.ColumnMeta, error) {
	rsp, err := cn.call(ctx, &wire.QueryMetaRequest{ID: cn.nextID(), CursorID: cursorID})
	if err != nil {
		return nil, err
	}
	qm, ok := rsp.Result.(*wire.QueryMetaResult)
	if !ok {
		return nil, fmt.Errorf("client: expected query metadata: %#v", rsp.Result)
	}
	return qm.Columns, nil
}

// CloseCursor releases a server side cursor.
func (cn *Conn) CloseCursor(ctx context.Context, cursorID int64) error {
	_, err := cn.call(ctx, &wire.CloseRequest{ID: cn.nextID(), CursorID: cursorID})
	return err
}

// Rows pages through a server side cursor; it implements engine.Rows.
type Rows struct {
	cn       *Conn
	cursorID int64
	cols     []wire.ColumnMeta
	pageSize int
	rows     [][]interface{}
	idx      int
	last     bool
	closed   bool
}

func (rows *Rows) Columns() []wire.ColumnMeta {
	return rows.cols
}

func (rows *Rows) Next(ctx context.Context, dest []interface{}) error {
	for rows.idx == len(rows.rows) {
		if rows.last || rows.closed {
			return io.EOF
		}

		rsp, err := rows.cn.call(ctx, &wire.FetchRequest{
			ID:       rows.cn.nextID(),
			CursorID: rows.cursorID,
			PageSize: rows.pageSize,
		})
		if err != nil {
			return err
		}
		fr, ok := rsp.Result.(*wire.FetchResult)
		if !ok {
			return fmt.Errorf("client: expected a fetch result: %#v", rsp.Result)
		}
		rows.rows = fr.Rows
		rows.idx = 0
		rows.last = fr.Last
	}

	copy(dest, rows.rows[rows.idx])
	rows.idx += 1
	return nil
}

func (rows *Rows) Close() error {
	if rows.closed {
		return nil
	}
	rows.closed = true

	if rows.last && rows.cn.autoClose {
		// The server already dropped the cursor.
		return nil
	}
	return rows.cn.CloseCursor(context.Background(), rows.cursorID)
}

// loadSink ships file data to the server; it implements
// engine.BulkLoadSink so the console drives local and remote loads the
// same way.
type loadSink struct {
	cn       *Conn
	cursorID int64
}

func (snk *loadSink) Append(ctx context.Context, data []byte) (int64, error) {
	return snk.send(ctx, wire.BulkLoadContinue, data)
}

func (snk *loadSink) Close(ctx context.Context, abort bool) (int64, error) {
	cmd := wire.BulkLoadFinishedEOF
	if abort {
		cmd = wire.BulkLoadFinishedError
	}
	return snk.send(ctx, cmd, nil)
}

func (snk *loadSink) send(ctx context.Context, cmd wire.BulkLoadCommand,
	data []byte) (int64, error) {

	rsp, err := snk.cn.call(ctx, &wire.BulkLoadBatchRequest{
		ID:       snk.cn.nextID(),
		CursorID: snk.cursorID,
		Command:  cmd,
		Data:     data,
	})
	if err != nil {
		return 0, err
	}
	er, ok := rsp.Result.(*wire.ExecuteResult)
	if !ok {
		return 0, fmt.Errorf("client: expected an execute result: %#v", rsp.Result)
	}
	return er.UpdateCount, nil
}
