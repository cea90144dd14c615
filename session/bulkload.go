package session

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/kumo/wire"
)

// processBulkLoad consumes one batch of client file data for an in
// progress bulk load. The client finishes the load with an eof command, or
// aborts it with an error command when it failed to read the file.
func (hdlr *Handler) processBulkLoad(ctx context.Context,
	req *wire.BulkLoadBatchRequest) *wire.Response {

	e, ok := hdlr.reg.get(req.CursorID)
	if !ok {
		return wire.NewErrorResponse(wire.StatusUnknown,
			fmt.Sprintf("session: failed to find query cursor: %d", req.CursorID))
	}
	bl, ok := e.(*bulkLoad)
	if !ok {
		return wire.NewErrorResponse(wire.StatusUnknown,
			fmt.Sprintf("session: not a bulk load cursor: %d", req.CursorID))
	}

	if hdlr.supportsCancel() {
		execCtx, ok := hdlr.reg.acquire(bl.reqID)
		if !ok {
			return cancelledResponse()
		}
		ctx = execCtx
		defer func() {
			hdlr.closeEntries(hdlr.reg.release(bl.reqID))
		}()
	}

	switch req.Command {
	case wire.BulkLoadContinue:
		rows, err := bl.sink.Append(ctx, req.Data)
		if err != nil {
			hdlr.reg.remove(bl.id)
			_, cerr := bl.sink.Close(ctx, true)
			if cerr != nil {
				log.WithField("error", cerr.Error()).Error("abort bulk load")
			}
			return errorResponse(err)
		}
		return wire.NewResponse(&wire.ExecuteResult{
			CursorID:    bl.id,
			UpdateCount: rows,
			Last:        true,
		})

	case wire.BulkLoadFinishedEOF:
		hdlr.reg.remove(bl.id)
		_, err := bl.sink.Append(ctx, req.Data)
		if err != nil {
			_, cerr := bl.sink.Close(ctx, true)
			if cerr != nil {
				log.WithField("error", cerr.Error()).Error("abort bulk load")
			}
			return errorResponse(err)
		}
		rows, err := bl.sink.Close(ctx, false)
		if err != nil {
			return errorResponse(err)
		}
		return wire.NewResponse(&wire.ExecuteResult{
			CursorID:    bl.id,
			UpdateCount: rows,
			Last:        true,
		})

	case wire.BulkLoadFinishedError:
		hdlr.reg.remove(bl.id)
		_, err := bl.sink.Close(ctx, true)
		if err != nil {
			return errorResponse(err)
		}
		return wire.NewResponse(&wire.ExecuteResult{
			CursorID: bl.id,
			Last:     true,
		})
	}

	return wire.NewErrorResponse(wire.StatusUnknown,
		fmt.Sprintf("session: unknown bulk load command: %d", req.Command))
}
