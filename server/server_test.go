package server_test

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/leftmike/kumo/engine"
	"github.com/leftmike/kumo/server"
	"github.com/leftmike/kumo/testutil"
	"github.com/leftmike/kumo/wire"
)

func TestMain(m *testing.M) {
	flag.Parse()

	err := testutil.CleanDir("testdata", []string{".gitignore"})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	testutil.SetupLogger(filepath.Join("testdata", "server.log"))

	os.Exit(m.Run())
}

type testEngine struct {
	blocked chan struct{}

	mutex  sync.Mutex
	cliCtx *engine.ClientContext
}

func newTestEngine() *testEngine {
	return &testEngine{blocked: make(chan struct{}, 8)}
}

func (te *testEngine) NewSession(ctx context.Context,
	cliCtx *engine.ClientContext) (engine.Session, error) {

	te.mutex.Lock()
	te.cliCtx = cliCtx
	te.mutex.Unlock()

	return &testSession{te: te, cliCtx: cliCtx}, nil
}

func (te *testEngine) Serial() bool {
	return false
}

func (te *testEngine) clientContext() *engine.ClientContext {
	te.mutex.Lock()
	defer te.mutex.Unlock()

	return te.cliCtx
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
//	streamon         enable ordered streaming
//	block            block until the context is cancelled
//	fail             fail
func (ts *testSession) Execute(ctx context.Context, q engine.Query,
	opts engine.ExecuteOptions) ([]engine.Result, error) {

	flds := strings.Fields(q.SQL)
	switch flds[0] {
	case "select":
		n, err := strconv.Atoi(flds[1])
		if err != nil {
			return nil, err
		}
		return []engine.Result{{Rows: makeRows(n), Tag: "SELECT"}}, nil
	case "update":
		n, err := strconv.Atoi(flds[1])
		if err != nil {
			return nil, err
		}
		return []engine.Result{{UpdateCount: int64(n), Tag: "UPDATE"}}, nil
	case "streamon":
		ts.cliCtx.EnableStreaming(true, 16)
		return []engine.Result{{Tag: "SET"}}, nil
	case "block":
		ts.te.blocked <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	case "fail":
		return nil, fmt.Errorf("test: statement failed")
	}
	return nil, fmt.Errorf("test: unknown statement: %s", q.SQL)
}

func (ts *testSession) batch(sql string, argSets [][]interface{}) ([]int64, error) {
	flds := strings.Fields(sql)
	if flds[0] != "update" {
		return nil, fmt.Errorf("test: unknown statement: %s", sql)
	}
	n, err := strconv.Atoi(flds[1])
	if err != nil {
		return nil, err
	}

	counts := make([]int64, 0, len(argSets))
	for range argSets {
		counts = append(counts, int64(n))
	}
	return counts, nil
}

func (ts *testSession) ExecuteBatch(ctx context.Context, sql string,
	argSets [][]interface{}, opts engine.ExecuteOptions) ([]int64, error) {

	return ts.batch(sql, argSets)
}

func (ts *testSession) StreamBatch(ctx context.Context, sql string,
	argSets [][]interface{}, opts engine.ExecuteOptions) ([]int64, error) {

	return ts.batch(sql, argSets)
}

func (ts *testSession) ParameterMetadata(ctx context.Context, schema,
	sql string) ([]wire.ParameterMeta, error) {

	return []wire.ParameterMeta{{TypeName: "int8"}}, nil
}

func (ts *testSession) Tables(ctx context.Context, schema, table string) ([]wire.TableMeta,
	error) {

	return []wire.TableMeta{{Schema: "public", Name: "t1", Type: "TABLE"}}, nil
}

func (ts *testSession) Columns(ctx context.Context, schema, table,
	column string) ([]wire.ColumnMeta, error) {

	return testColumns, nil
}

func (ts *testSession) Indexes(ctx context.Context, schema, table string) ([]wire.IndexMeta,
	error) {

	return nil, nil
}

func (ts *testSession) PrimaryKeys(ctx context.Context, schema,
	table string) ([]wire.PrimaryKeyMeta, error) {

	return nil, nil
}

func (ts *testSession) Schemas(ctx context.Context, schema string) ([]string, error) {
	return []string{"public"}, nil
}

func (ts *testSession) ActiveTx() bool {
	return false
}

func (ts *testSession) Close() error {
	return nil
}

type testRows struct {
	rows [][]interface{}
	idx  int
}

func makeRows(n int) *testRows {
	rows := make([][]interface{}, 0, n)
	for i := 0; i < n; i += 1 {
		rows = append(rows, []interface{}{int64(i), fmt.Sprintf("row %d", i)})
	}
	return &testRows{rows: rows}
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
	return nil
}

func startServer(t *testing.T, te *testEngine) (*server.Server, string, func()) {
	t.Helper()

	svr := &server.Server{Engine: te, Name: "testsvr"}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() failed with %s", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)

		svr.Serve(l)
	}()

	return svr, l.Addr().String(), func() {
		svr.Close()
		<-done
	}
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial(%s) failed with %s", addr, err)
	}
	return conn
}

func writeRequest(t *testing.T, conn net.Conn, req wire.Request) {
	t.Helper()

	err := wire.WriteRequest(conn, req)
	if err != nil {
		t.Fatalf("WriteRequest() failed with %s", err)
	}
}

func readResponse(t *testing.T, conn net.Conn) *wire.Response {
	t.Helper()

	rsp, err := wire.ReadResponse(conn)
	if err != nil {
		t.Fatalf("ReadResponse() failed with %s", err)
	}
	return rsp
}

func handshake(t *testing.T, conn net.Conn, req *wire.HandshakeRequest) *wire.HandshakeResult {
	t.Helper()

	writeRequest(t, conn, req)
	rsp := readResponse(t, conn)
	if rsp.Status != wire.StatusSuccess {
		t.Fatalf("handshake failed with %s", rsp.Error)
	}
	hr, ok := rsp.Result.(*wire.HandshakeResult)
	if !ok {
		t.Fatalf("handshake got %#v", rsp.Result)
	}
	return hr
}

func TestHandshake(t *testing.T) {
	te := newTestEngine()
	_, addr, cleanup := startServer(t, te)
	defer cleanup()

	conn := dial(t, addr)
	defer conn.Close()

	hr := handshake(t, conn, &wire.HandshakeRequest{Version: wire.Version{Major: 9, Minor: 9}})
	if hr.Accepted {
		t.Fatal("handshake accepted an unsupported version")
	}
	if hr.Version != wire.CurrentVersion {
		t.Errorf("handshake got version %s want %s", hr.Version, wire.CurrentVersion)
	}
	if hr.Server != "testsvr" {
		t.Errorf("handshake got server %q want %q", hr.Server, "testsvr")
	}

	// Retry on the same connection with a supported version.
	hr = handshake(t, conn,
		&wire.HandshakeRequest{
			Version:      wire.Ver2_0,
			Schema:       "s1",
			Lazy:         true,
			NestedTxMode: wire.NestedTxCommit,
		})
	if !hr.Accepted {
		t.Fatal("handshake rejected a supported version")
	}
	if hr.Version != wire.Ver2_0 {
		t.Errorf("handshake got version %s want %s", hr.Version, wire.Ver2_0)
	}

	// Round trip a request so the session exists before looking at it.
	writeRequest(t, conn,
		&wire.ExecuteRequest{ID: 1, SQL: "update 1", PageSize: 16, AutoCommit: true})
	rsp := readResponse(t, conn)
	if rsp.Status != wire.StatusSuccess {
		t.Fatalf("execute failed with %s", rsp.Error)
	}

	cliCtx := te.clientContext()
	if cliCtx == nil {
		t.Fatal("no session was started")
	}
	if cliCtx.Schema != "s1" || !cliCtx.Lazy || cliCtx.NestedTxMode != wire.NestedTxCommit {
		t.Errorf("got client context %#v", cliCtx)
	}
}

func TestHandshakeRequired(t *testing.T) {
	te := newTestEngine()
	_, addr, cleanup := startServer(t, te)
	defer cleanup()

	conn := dial(t, addr)
	defer conn.Close()

	// Anything but a handshake must close the connection.
	writeRequest(t, conn, &wire.ExecuteRequest{ID: 1, SQL: "update 1", PageSize: 16})
	_, err := wire.ReadResponse(conn)
	if err == nil {
		t.Fatal("ReadResponse() did not fail")
	}
}

func connect(t *testing.T, addr string) net.Conn {
	t.Helper()

	conn := dial(t, addr)
	hr := handshake(t, conn, &wire.HandshakeRequest{Version: wire.Ver2_0})
	if !hr.Accepted {
		t.Fatal("handshake rejected a supported version")
	}
	return conn
}

func TestExecuteFetch(t *testing.T) {
	te := newTestEngine()
	_, addr, cleanup := startServer(t, te)
	defer cleanup()

	conn := connect(t, addr)
	defer conn.Close()

	writeRequest(t, conn,
		&wire.ExecuteRequest{ID: 1, SQL: "select 3", PageSize: 2, AutoCommit: true})
	rsp := readResponse(t, conn)
	if rsp.Status != wire.StatusSuccess {
		t.Fatalf("execute failed with %s", rsp.Error)
	}
	er, ok := rsp.Result.(*wire.ExecuteResult)
	if !ok {
		t.Fatalf("execute got %#v", rsp.Result)
	}
	if !er.IsQuery || er.Last || len(er.Rows) != 2 {
		t.Fatalf("execute got %#v", er)
	}
	if er.Rows[0][1] != "row 0" || er.Rows[1][1] != "row 1" {
		t.Errorf("execute got rows %#v", er.Rows)
	}

	writeRequest(t, conn, &wire.QueryMetaRequest{ID: 2, CursorID: er.CursorID})
	rsp = readResponse(t, conn)
	qm, ok := rsp.Result.(*wire.QueryMetaResult)
	if !ok {
		t.Fatalf("query meta got %#v", rsp.Result)
	}
	if len(qm.Columns) != 2 || qm.Columns[0].Name != "id" || qm.Columns[1].Name != "name" {
		t.Errorf("query meta got %#v", qm.Columns)
	}

	writeRequest(t, conn, &wire.FetchRequest{ID: 3, CursorID: er.CursorID, PageSize: 2})
	rsp = readResponse(t, conn)
	fr, ok := rsp.Result.(*wire.FetchResult)
	if !ok {
		t.Fatalf("fetch got %#v", rsp.Result)
	}
	if !fr.Last || len(fr.Rows) != 1 || fr.Rows[0][1] != "row 2" {
		t.Fatalf("fetch got %#v", fr)
	}

	writeRequest(t, conn, &wire.CloseRequest{ID: 4, CursorID: er.CursorID})
	rsp = readResponse(t, conn)
	if rsp.Status != wire.StatusSuccess {
		t.Fatalf("close failed with %s", rsp.Error)
	}

	writeRequest(t, conn, &wire.FetchRequest{ID: 5, CursorID: er.CursorID, PageSize: 2})
	rsp = readResponse(t, conn)
	if rsp.Status == wire.StatusSuccess ||
		!strings.Contains(rsp.Error, "failed to find query cursor") {

		t.Fatalf("fetch of a closed cursor got %d: %s", rsp.Status, rsp.Error)
	}
}

func TestExecuteUpdate(t *testing.T) {
	te := newTestEngine()
	_, addr, cleanup := startServer(t, te)
	defer cleanup()

	conn := connect(t, addr)
	defer conn.Close()

	writeRequest(t, conn,
		&wire.ExecuteRequest{ID: 1, SQL: "update 7", PageSize: 16, AutoCommit: true})
	rsp := readResponse(t, conn)
	er, ok := rsp.Result.(*wire.ExecuteResult)
	if !ok {
		t.Fatalf("execute got %#v", rsp.Result)
	}
	if er.IsQuery || !er.Last || er.CursorID != -1 || er.UpdateCount != 7 {
		t.Errorf("execute got %#v", er)
	}

	writeRequest(t, conn,
		&wire.ExecuteRequest{ID: 2, SQL: "fail", PageSize: 16, AutoCommit: true})
	rsp = readResponse(t, conn)
	if rsp.Status != wire.StatusUnknown ||
		!strings.Contains(rsp.Error, "test: statement failed") {

		t.Errorf("execute got %d: %s", rsp.Status, rsp.Error)
	}
}

func TestExecuteBatch(t *testing.T) {
	te := newTestEngine()
	_, addr, cleanup := startServer(t, te)
	defer cleanup()

	conn := connect(t, addr)
	defer conn.Close()

	writeRequest(t, conn,
		&wire.BatchRequest{
			ID: 1,
			Queries: []wire.Query{
				{SQL: "update 1", Args: []interface{}{1, "x"}},
				{Args: []interface{}{2, "y"}},
				{Args: []interface{}{3, "z"}},
			},
			AutoCommit: true,
		})
	rsp := readResponse(t, conn)
	if rsp.Status != wire.StatusSuccess {
		t.Fatalf("batch failed with %s", rsp.Error)
	}
	br, ok := rsp.Result.(*wire.BatchResult)
	if !ok {
		t.Fatalf("batch got %#v", rsp.Result)
	}
	if len(br.UpdateCounts) != 3 || br.Error != "" {
		t.Errorf("batch got %#v", br)
	}
}

func TestOrderedBatches(t *testing.T) {
	te := newTestEngine()
	_, addr, cleanup := startServer(t, te)
	defer cleanup()

	conn := connect(t, addr)
	defer conn.Close()

	writeRequest(t, conn,
		&wire.ExecuteRequest{ID: 1, SQL: "streamon", PageSize: 16, AutoCommit: true})
	rsp := readResponse(t, conn)
	if rsp.Status != wire.StatusSuccess {
		t.Fatalf("execute failed with %s", rsp.Error)
	}

	// Send the batches backward; responses must come back in order.
	writeRequest(t, conn,
		&wire.OrderedBatchRequest{
			BatchRequest: wire.BatchRequest{
				ID:              3,
				Queries:         []wire.Query{{SQL: "update 2"}},
				LastStreamBatch: true,
			},
			Order: 1,
		})
	writeRequest(t, conn,
		&wire.OrderedBatchRequest{
			BatchRequest: wire.BatchRequest{
				ID:      2,
				Queries: []wire.Query{{SQL: "update 1"}},
			},
			Order: 0,
		})

	for order := int64(0); order < 2; order += 1 {
		rsp = readResponse(t, conn)
		if rsp.Status != wire.StatusSuccess {
			t.Fatalf("ordered batch failed with %s", rsp.Error)
		}
		obr, ok := rsp.Result.(*wire.OrderedBatchResult)
		if !ok {
			t.Fatalf("ordered batch got %#v", rsp.Result)
		}
		if obr.Order != order || len(obr.UpdateCounts) != 1 {
			t.Errorf("ordered batch got %#v want order %d", obr, order)
		}
	}
}

func TestCancel(t *testing.T) {
	te := newTestEngine()
	_, addr, cleanup := startServer(t, te)
	defer cleanup()

	conn := connect(t, addr)
	defer conn.Close()

	writeRequest(t, conn,
		&wire.ExecuteRequest{ID: 10, SQL: "block", PageSize: 16, AutoCommit: true})

	// Cancel once the statement is executing.
	select {
	case <-te.blocked:
	case <-time.After(5 * time.Second):
		t.Fatal("statement did not start")
	}
	writeRequest(t, conn, &wire.CancelRequest{ID: 11, TargetID: 10})

	rsp := readResponse(t, conn)
	if rsp.Status != wire.StatusCancelled {
		t.Fatalf("cancel got %d: %s", rsp.Status, rsp.Error)
	}
}

func TestMetaRequests(t *testing.T) {
	te := newTestEngine()
	_, addr, cleanup := startServer(t, te)
	defer cleanup()

	conn := connect(t, addr)
	defer conn.Close()

	writeRequest(t, conn, &wire.MetaTablesRequest{ID: 1, Schema: "pub%", Table: "%"})
	rsp := readResponse(t, conn)
	mt, ok := rsp.Result.(*wire.MetaTablesResult)
	if !ok {
		t.Fatalf("meta tables got %#v", rsp.Result)
	}
	if len(mt.Tables) != 1 || mt.Tables[0].Name != "t1" {
		t.Errorf("meta tables got %#v", mt.Tables)
	}

	writeRequest(t, conn, &wire.MetaSchemasRequest{ID: 2, Schema: "%"})
	rsp = readResponse(t, conn)
	ms, ok := rsp.Result.(*wire.MetaSchemasResult)
	if !ok {
		t.Fatalf("meta schemas got %#v", rsp.Result)
	}
	if len(ms.Schemas) != 1 || ms.Schemas[0] != "public" {
		t.Errorf("meta schemas got %#v", ms.Schemas)
	}
}

func TestShutdown(t *testing.T) {
	te := newTestEngine()
	svr := &server.Server{Engine: te}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() failed with %s", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- svr.Serve(l)
	}()

	conn := connect(t, l.Addr().String())

	shutErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		shutErr <- svr.Shutdown(ctx)
	}()

	if err = <-serveErr; err != server.ErrServerClosed {
		t.Errorf("Serve() got %v want %v", err, server.ErrServerClosed)
	}

	// Shutdown must wait for the open connection.
	select {
	case err = <-shutErr:
		t.Fatalf("Shutdown() returned %v before the connection closed", err)
	case <-time.After(100 * time.Millisecond):
	}

	conn.Close()
	if err = <-shutErr; err != nil {
		t.Errorf("Shutdown() failed with %s", err)
	}

	// New listeners are refused once the server is down.
	if err = svr.ListenAndServe(server.Config{Address: "127.0.0.1:0"}); err != server.ErrServerClosed {
		t.Errorf("ListenAndServe() got %v want %v", err, server.ErrServerClosed)
	}
}
