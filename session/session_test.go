package session

import (
	"context"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leftmike/kumo/engine"
	"github.com/leftmike/kumo/wire"
)

type testOp struct {
	op   string
	args []string
}

type testEngine struct {
	serial  bool
	blocked chan struct{}

	mutex sync.Mutex
	ops   []testOp
}

func newTestEngine() *testEngine {
	return &testEngine{
		blocked: make(chan struct{}, 8),
	}
}

func (te *testEngine) op(op string, args ...string) {
	te.mutex.Lock()
	defer te.mutex.Unlock()

	te.ops = append(te.ops, testOp{op, args})
}

func (te *testEngine) checkOps(t *testing.T, ops []testOp) {
	t.Helper()

	te.mutex.Lock()
	defer te.mutex.Unlock()

	for idx, op := range te.ops {
		if idx == len(ops) {
			t.Error("too many ops")
			break
		}
		if op.op != ops[idx].op {
			t.Errorf("%d: got %s want %s", idx, op.op, ops[idx].op)
		} else if !reflect.DeepEqual(op.args, ops[idx].args) {
			t.Errorf("%d: %s: got %#v want %#v", idx, op.op, op.args, ops[idx].args)
		}
	}
	if len(te.ops) < len(ops) {
		t.Errorf("too few ops: got %d want %d", len(te.ops), len(ops))
	}

	te.ops = nil
}

func (te *testEngine) NewSession(ctx context.Context,
	cliCtx *engine.ClientContext) (engine.Session, error) {

	te.op("NewSession")
	return &testSession{te: te, cliCtx: cliCtx}, nil
}

func (te *testEngine) Serial() bool {
	return te.serial
}

var testColumns = []wire.ColumnMeta{
	{Schema: "public", Table: "t1", Name: "id", Type: "int8", Precision: 19},
	{Schema: "public", Table: "t1", Name: "name", Type: "varchar", Nullable: true,
		Precision: 128},
}

type testSession struct {
	te     *testEngine
	cliCtx *engine.ClientContext
}

// The test session is scripted by the sql text it is given:
//
//	select <nrows>   query returning nrows rows
//	update <cnt>     update counting cnt rows
//	copy <file>      bulk load of file
//	block            block until the context is cancelled
//	fail             fail
//	duplicate        fail with a duplicate key status
//
// Statements are separated by semicolons. For batches, failafter <n> fails
// after n argument sets have been applied.
func (ts *testSession) Execute(ctx context.Context, q engine.Query,
	opts engine.ExecuteOptions) ([]engine.Result, error) {

	ts.te.op("Execute", q.SQL)

	stmts := strings.Split(q.SQL, ";")
	if len(stmts) > 1 && !opts.MultiStatements {
		return nil, fmt.Errorf("test: multiple statements not allowed")
	}

	var results []engine.Result
	for _, stmt := range stmts {
		res, err := ts.execute(ctx, strings.TrimSpace(stmt))
		if err != nil {
			return nil, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (ts *testSession) execute(ctx context.Context, stmt string) (engine.Result, error) {
	flds := strings.Fields(stmt)
	switch flds[0] {
	case "select":
		n, err := strconv.Atoi(flds[1])
		if err != nil {
			return engine.Result{}, err
		}
		return engine.Result{Rows: makeRows(ts.te, n)}, nil
	case "update":
		n, err := strconv.Atoi(flds[1])
		if err != nil {
			return engine.Result{}, err
		}
		return engine.Result{UpdateCount: int64(n)}, nil
	case "copy":
		return engine.Result{
			BulkLoad: &engine.BulkLoad{
				FileName:  flds[1],
				BatchSize: 1024,
				Sink:      &testSink{te: ts.te},
			},
		}, nil
	case "block":
		ts.te.blocked <- struct{}{}
		<-ctx.Done()
		return engine.Result{}, ctx.Err()
	case "fail":
		return engine.Result{}, fmt.Errorf("test: statement failed")
	case "duplicate":
		return engine.Result{},
			&engine.SQLError{Status: wire.StatusDuplicateKey,
				Err: fmt.Errorf("test: duplicate key")}
	}
	return engine.Result{}, fmt.Errorf("test: unknown statement: %s", stmt)
}

func (ts *testSession) batch(ctx context.Context, sql string,
	argSets [][]interface{}) ([]int64, error) {

	flds := strings.Fields(sql)
	switch flds[0] {
	case "update":
		n, err := strconv.Atoi(flds[1])
		if err != nil {
			return nil, err
		}
		counts := make([]int64, 0, len(argSets))
		for range argSets {
			counts = append(counts, int64(n))
		}
		return counts, nil
	case "failafter":
		n, err := strconv.Atoi(flds[1])
		if err != nil {
			return nil, err
		}
		counts := make([]int64, 0, n)
		for i := 0; i < n; i += 1 {
			counts = append(counts, 1)
		}
		return nil, &engine.BatchError{Counts: counts,
			Err: fmt.Errorf("test: batch failed after %d", n)}
	case "block":
		ts.te.blocked <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	case "fail":
		return nil, fmt.Errorf("test: batch failed")
	}
	return nil, fmt.Errorf("test: unknown statement: %s", sql)
}

func (ts *testSession) ExecuteBatch(ctx context.Context, sql string,
	argSets [][]interface{}, opts engine.ExecuteOptions) ([]int64, error) {

	ts.te.op("ExecuteBatch", sql, strconv.Itoa(len(argSets)))
	return ts.batch(ctx, sql, argSets)
}

func (ts *testSession) StreamBatch(ctx context.Context, sql string,
	argSets [][]interface{}, opts engine.ExecuteOptions) ([]int64, error) {

	ts.te.op("StreamBatch", sql, strconv.Itoa(len(argSets)))
	return ts.batch(ctx, sql, argSets)
}

func (ts *testSession) ParameterMetadata(ctx context.Context, schema,
	sql string) ([]wire.ParameterMeta, error) {

	ts.te.op("ParameterMetadata", schema, sql)
	return []wire.ParameterMeta{
		{TypeName: "int8"},
		{TypeName: "varchar", Nullable: true},
	}, nil
}

func (ts *testSession) Tables(ctx context.Context, schema, table string) ([]wire.TableMeta,
	error) {

	ts.te.op("Tables", schema, table)
	return []wire.TableMeta{{Schema: "public", Name: "t1", Type: "TABLE"}}, nil
}

func (ts *testSession) Columns(ctx context.Context, schema, table,
	column string) ([]wire.ColumnMeta, error) {

	ts.te.op("Columns", schema, table, column)
	return testColumns, nil
}

func (ts *testSession) Indexes(ctx context.Context, schema, table string) ([]wire.IndexMeta,
	error) {

	ts.te.op("Indexes", schema, table)
	return []wire.IndexMeta{
		{Schema: "public", Table: "t1", Name: "t1_pkey", Unique: true,
			Columns: []string{"id"}},
	}, nil
}

func (ts *testSession) PrimaryKeys(ctx context.Context, schema,
	table string) ([]wire.PrimaryKeyMeta, error) {

	ts.te.op("PrimaryKeys", schema, table)
	return []wire.PrimaryKeyMeta{
		{Schema: "public", Table: "t1", Name: "t1_pkey", Columns: []string{"id"}},
	}, nil
}

func (ts *testSession) Schemas(ctx context.Context, schema string) ([]string, error) {
	ts.te.op("Schemas", schema)
	return []string{"information_schema", "public"}, nil
}

func (ts *testSession) ActiveTx() bool {
	return false
}

func (ts *testSession) Close() error {
	ts.te.op("CloseSession")
	return nil
}

type testRows struct {
	te   *testEngine
	rows [][]interface{}
	idx  int
}

func makeRows(te *testEngine, n int) *testRows {
	rows := make([][]interface{}, 0, n)
	for i := 0; i < n; i += 1 {
		rows = append(rows, []interface{}{int64(i), fmt.Sprintf("row %d", i)})
	}
	return &testRows{te: te, rows: rows}
}

func (tr *testRows) Columns() []wire.ColumnMeta {
	return testColumns
}

func (tr *testRows) Next(ctx context.Context, dest []interface{}) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if tr.idx == len(tr.rows) {
		return io.EOF
	}

	copy(dest, tr.rows[tr.idx])
	tr.idx += 1
	return nil
}

func (tr *testRows) Close() error {
	tr.te.op("CloseRows")
	return nil
}

type testSink struct {
	te   *testEngine
	rows int64
}

func (tsk *testSink) Append(ctx context.Context, data []byte) (int64, error) {
	tsk.te.op("Append", string(data))
	tsk.rows += int64(len(data))
	return tsk.rows, nil
}

func (tsk *testSink) Close(ctx context.Context, abort bool) (int64, error) {
	tsk.te.op("CloseSink", fmt.Sprintf("%v", abort))
	return tsk.rows, nil
}

type testSender struct {
	rsps chan *wire.Response
}

func newTestSender() *testSender {
	return &testSender{rsps: make(chan *wire.Response, 16)}
}

func (tsn *testSender) Send(rsp *wire.Response) {
	tsn.rsps <- rsp
}

func (tsn *testSender) wait(t *testing.T) *wire.Response {
	t.Helper()

	select {
	case rsp := <-tsn.rsps:
		return rsp
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for response")
	}
	return nil
}

func makeHandler(t *testing.T, te *testEngine, ver wire.Version,
	maxCursors int) (*Handler, *testSender, *engine.ClientContext) {

	t.Helper()

	cliCtx := engine.NewClientContext()
	tsn := newTestSender()
	hdlr, err := NewHandler(context.Background(), te, cliCtx, tsn,
		Config{Version: ver, MaxCursors: maxCursors})
	if err != nil {
		t.Fatalf("NewHandler() failed with %s", err)
	}
	return hdlr, tsn, cliCtx
}

func handleReq(hdlr *Handler, req wire.Request) *wire.Response {
	ctx := context.Background()
	hdlr.Register(ctx, req)
	return hdlr.Handle(ctx, req)
}

func checkSuccess(t *testing.T, rsp *wire.Response) wire.Result {
	t.Helper()

	if rsp == nil {
		t.Fatal("got no response")
	}
	if rsp.Status != wire.StatusSuccess {
		t.Fatalf("got status %s: %s", rsp.Status, rsp.Error)
	}
	return rsp.Result
}

func checkError(t *testing.T, rsp *wire.Response, status wire.Status) string {
	t.Helper()

	if rsp == nil {
		t.Fatal("got no response")
	}
	if rsp.Status != status {
		t.Fatalf("got status %s want %s: %s", rsp.Status, status, rsp.Error)
	}
	if rsp.Error == "" {
		t.Error("error response missing message")
	}
	return rsp.Error
}

func checkRegistry(t *testing.T, hdlr *Handler, cursors, descs int) {
	t.Helper()

	hdlr.reg.mutex.Lock()
	defer hdlr.reg.mutex.Unlock()

	if len(hdlr.reg.cursors) != cursors {
		t.Errorf("open cursors: got %d want %d", len(hdlr.reg.cursors), cursors)
	}
	if len(hdlr.reg.descs) != descs {
		t.Errorf("registered requests: got %d want %d", len(hdlr.reg.descs), descs)
	}
}
