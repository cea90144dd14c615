package session

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/kumo/engine"
	"github.com/leftmike/kumo/wire"
)

// executeBatch runs a batch of updates. Queries sharing a template arrive
// as one entry carrying the sql followed by entries carrying arguments
// only; each run yields one update count. A failed sub batch reports
// ExecuteFailed counts and the first failure, and the batch continues;
// cancellation aborts the whole batch.
func (hdlr *Handler) executeBatch(ctx context.Context, req *wire.BatchRequest) *wire.Response {
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

	var res wire.BatchResult
	var sql string
	var argSets [][]interface{}
	for _, q := range req.Queries {
		if q.SQL != "" {
			err := hdlr.executeSubBatch(ctx, req, sql, argSets, &res)
			if err != nil {
				return errorResponse(err)
			}
			sql = q.SQL
			argSets = nil
		} else if sql == "" {
			return wire.NewErrorResponse(wire.StatusUnknown,
				"session: first query of a batch must have sql")
		}
		argSets = append(argSets, q.Args)
	}
	err := hdlr.executeSubBatch(ctx, req, sql, argSets, &res)
	if err != nil {
		return errorResponse(err)
	}

	if req.LastStreamBatch {
		hdlr.cliCtx.DisableStreaming()
	}
	return wire.NewResponse(&res)
}

// executeSubBatch runs one statement template over its argument sets and
// accumulates the update counts into res. Only cancellation is returned as
// an error; other failures are recorded in res, padding the counts so every
// argument set has one.
func (hdlr *Handler) executeSubBatch(ctx context.Context, req *wire.BatchRequest,
	sql string, argSets [][]interface{}, res *wire.BatchResult) error {

	if sql == "" {
		return nil
	}

	opts := engine.ExecuteOptions{Schema: req.Schema, AutoCommit: req.AutoCommit}

	var counts []int64
	var err error
	if hdlr.cliCtx.Streaming() {
		counts, err = hdlr.ses.StreamBatch(ctx, sql, argSets, opts)
	} else {
		counts, err = hdlr.ses.ExecuteBatch(ctx, sql, argSets, opts)
	}
	if err == nil {
		res.UpdateCounts = append(res.UpdateCounts, counts...)
		return nil
	}

	status, msg := statusOf(err)
	if status == wire.StatusCancelled {
		return err
	}

	counts = nil
	var batchErr *engine.BatchError
	if errors.As(err, &batchErr) {
		counts = batchErr.Counts
	}
	res.UpdateCounts = append(res.UpdateCounts, counts...)
	for n := len(counts); n < len(argSets); n += 1 {
		res.UpdateCounts = append(res.UpdateCounts, wire.ExecuteFailed)
	}

	if res.Error == "" {
		res.ErrStatus = status
		res.Error = msg
	} else {
		log.WithFields(log.Fields{
			"request": req.ID,
			"error":   err.Error(),
		}).Error("batch update")
	}
	return nil
}
