package session

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/kumo/engine"
	"github.com/leftmike/kumo/wire"
)

// checkStatementType enforces the statement type the client declared
// against what the engine actually executed.
func checkStatementType(st wire.StatementType, results []engine.Result) error {
	if st == wire.AnyStatement {
		return nil
	}

	for _, res := range results {
		if st == wire.QueryStatement && !res.IsQuery() {
			return fmt.Errorf("session: statement is not a query")
		} else if st == wire.UpdateStatement && res.IsQuery() {
			return fmt.Errorf("session: statement is a query")
		}
	}
	return nil
}

// closeResults closes whatever engine resources results still carry.
func closeResults(ctx context.Context, results []engine.Result) {
	for _, res := range results {
		if res.Rows != nil {
			err := res.Rows.Close()
			if err != nil {
				log.WithField("error", err.Error()).Error("close rows")
			}
		}
		if res.BulkLoad != nil {
			_, err := res.BulkLoad.Sink.Close(ctx, true)
			if err != nil {
				log.WithField("error", err.Error()).Error("abort bulk load")
			}
		}
	}
}

// executeQuery runs a single execute request: one statement, or several
// when the protocol version allows multiple statements per request.
func (hdlr *Handler) executeQuery(ctx context.Context, req *wire.ExecuteRequest) *wire.Response {
	if hdlr.supportsCancel() {
		execCtx, ok := hdlr.reg.acquire(req.ID)
		if !ok {
			return nil
		}
		ctx = execCtx
		defer func() {
			hdlr.closeEntries(hdlr.reg.release(req.ID))
		}()
	}

	if hdlr.cliCtx.Streaming() {
		return wire.NewErrorResponse(wire.StatusUnknown,
			"session: cannot execute while streaming is enabled")
	}
	if req.PageSize <= 0 {
		return wire.NewErrorResponse(wire.StatusUnknown,
			fmt.Sprintf("session: invalid fetch size: %d", req.PageSize))
	}

	results, err := hdlr.ses.Execute(ctx, engine.Query{SQL: req.SQL, Args: req.Args},
		engine.ExecuteOptions{
			Schema:          req.Schema,
			AutoCommit:      req.AutoCommit,
			MultiStatements: hdlr.version.Compare(wire.Ver1_4) >= 0,
		})
	if err != nil {
		return errorResponse(err)
	}
	if len(results) == 0 {
		return wire.NewErrorResponse(wire.StatusUnknown,
			"session: no results from engine")
	}

	err = checkStatementType(req.StatementType, results)
	if err != nil {
		closeResults(ctx, results)
		return errorResponse(err)
	}

	if len(results) > 1 {
		return hdlr.multiResults(ctx, req, results)
	}
	return hdlr.singleResult(ctx, req, results[0])
}

func (hdlr *Handler) singleResult(ctx context.Context, req *wire.ExecuteRequest,
	res engine.Result) *wire.Response {

	if res.BulkLoad != nil {
		bl, err := hdlr.reg.addBulkLoad(req.ID, res.BulkLoad.Sink)
		if err != nil {
			closeResults(ctx, []engine.Result{res})
			return errorResponse(err)
		}
		return wire.NewResponse(&wire.BulkLoadAckResult{
			CursorID:  bl.id,
			FileName:  res.BulkLoad.FileName,
			BatchSize: res.BulkLoad.BatchSize,
		})
	}

	if !res.IsQuery() {
		return wire.NewResponse(&wire.ExecuteResult{
			CursorID:    -1,
			UpdateCount: res.UpdateCount,
			Last:        true,
		})
	}

	cur, err := hdlr.reg.addCursor(req.ID, res.Rows, req.MaxRows)
	if err != nil {
		closeResults(ctx, []engine.Result{res})
		return errorResponse(err)
	}

	rows, last, err := cur.fetchPage(ctx, req.PageSize)
	if err != nil {
		hdlr.clearCursors(req.ID)
		return errorResponse(err)
	}

	if last && hdlr.cliCtx.AutoCloseCursors {
		if e, ok := hdlr.reg.remove(cur.id); ok {
			hdlr.closeEntry(e)
		}
	}
	return wire.NewResponse(&wire.ExecuteResult{
		CursorID: cur.id,
		IsQuery:  true,
		Rows:     rows,
		Last:     last,
	})
}

// multiResults builds the response for a request that executed more than
// one statement. Only the first row set is fetched eagerly, and cursors
// stay open until the client closes them.
func (hdlr *Handler) multiResults(ctx context.Context, req *wire.ExecuteRequest,
	results []engine.Result) *wire.Response {

	var stmts []wire.StatementResult
	var rows [][]interface{}
	var last, fetched bool
	for idx, res := range results {
		if res.BulkLoad != nil {
			hdlr.clearCursors(req.ID)
			closeResults(ctx, results[idx:])
			return wire.NewErrorResponse(wire.StatusUnsupported,
				"session: bulk load must be a single statement")
		}

		if !res.IsQuery() {
			stmts = append(stmts,
				wire.StatementResult{UpdateCount: res.UpdateCount, CursorID: -1})
			continue
		}

		cur, err := hdlr.reg.addCursor(req.ID, res.Rows, req.MaxRows)
		if err != nil {
			hdlr.clearCursors(req.ID)
			closeResults(ctx, results[idx:])
			return errorResponse(err)
		}

		if !fetched {
			rows, last, err = cur.fetchPage(ctx, req.PageSize)
			if err != nil {
				hdlr.clearCursors(req.ID)
				closeResults(ctx, results[idx+1:])
				return errorResponse(err)
			}
			fetched = true
		}

		stmts = append(stmts,
			wire.StatementResult{IsQuery: true, UpdateCount: -1, CursorID: cur.id})
	}

	return wire.NewResponse(&wire.ExecuteMultiResult{
		Results: stmts,
		Rows:    rows,
		Last:    last,
	})
}

func (hdlr *Handler) fetch(ctx context.Context, req *wire.FetchRequest) *wire.Response {
	e, ok := hdlr.reg.get(req.CursorID)
	if !ok {
		return wire.NewErrorResponse(wire.StatusUnknown,
			fmt.Sprintf("session: failed to find query cursor: %d", req.CursorID))
	}
	cur, ok := e.(*cursor)
	if !ok {
		return wire.NewErrorResponse(wire.StatusUnknown,
			fmt.Sprintf("session: not a query cursor: %d", req.CursorID))
	}

	if hdlr.supportsCancel() {
		execCtx, ok := hdlr.reg.acquire(cur.reqID)
		if !ok {
			return cancelledResponse()
		}
		ctx = execCtx
		defer func() {
			hdlr.closeEntries(hdlr.reg.release(cur.reqID))
		}()
	}

	if req.PageSize <= 0 {
		return wire.NewErrorResponse(wire.StatusUnknown,
			fmt.Sprintf("session: invalid fetch size: %d", req.PageSize))
	}

	rows, last, err := cur.fetchPage(ctx, req.PageSize)
	if err != nil {
		return errorResponse(err)
	}

	if last && hdlr.cliCtx.AutoCloseCursors {
		if e, ok := hdlr.reg.remove(cur.id); ok {
			hdlr.closeEntry(e)
		}
	}
	return wire.NewResponse(&wire.FetchResult{Rows: rows, Last: last})
}

// closeCursor closes a cursor explicitly. Closing a cursor that does not
// exist, including one closed twice, fails without side effects.
func (hdlr *Handler) closeCursor(ctx context.Context, req *wire.CloseRequest) *wire.Response {
	e, ok := hdlr.reg.get(req.CursorID)
	if !ok {
		return wire.NewErrorResponse(wire.StatusUnknown,
			fmt.Sprintf("session: failed to find query cursor: %d", req.CursorID))
	}

	if hdlr.supportsCancel() {
		_, ok := hdlr.reg.acquire(e.requestID())
		if !ok {
			return cancelledResponse()
		}
		defer func() {
			hdlr.closeEntries(hdlr.reg.release(e.requestID()))
		}()
	}

	e, ok = hdlr.reg.remove(req.CursorID)
	if !ok {
		return wire.NewErrorResponse(wire.StatusUnknown,
			fmt.Sprintf("session: failed to find query cursor: %d", req.CursorID))
	}

	err := e.close(ctx)
	if err != nil {
		return errorResponse(err)
	}
	return wire.NewResponse(nil)
}

func (hdlr *Handler) queryMeta(req *wire.QueryMetaRequest) *wire.Response {
	e, ok := hdlr.reg.get(req.CursorID)
	if !ok {
		return wire.NewErrorResponse(wire.StatusUnknown,
			fmt.Sprintf("session: failed to find query cursor: %d", req.CursorID))
	}
	cur, ok := e.(*cursor)
	if !ok {
		return wire.NewErrorResponse(wire.StatusUnknown,
			fmt.Sprintf("session: not a query cursor: %d", req.CursorID))
	}

	if hdlr.supportsCancel() {
		_, ok := hdlr.reg.acquire(cur.reqID)
		if !ok {
			return cancelledResponse()
		}
		defer func() {
			hdlr.closeEntries(hdlr.reg.release(cur.reqID))
		}()
	}

	return wire.NewResponse(&wire.QueryMetaResult{Columns: cur.columns()})
}
