// Package session dispatches client requests to a SQL engine: it tracks
// open cursors and in progress bulk loads, executes batches, sequences
// ordered stream batches, and cancels running requests.
package session

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/kumo/engine"
	"github.com/leftmike/kumo/wire"
)

// Sender delivers responses that are not returned from Handle, such as
// ordered batch results, which complete out of band on a worker.
type Sender interface {
	Send(rsp *wire.Response)
}

type Config struct {
	// Version is the protocol version negotiated during the handshake.
	Version wire.Version

	// MaxCursors limits the open cursors of the session; zero means no
	// limit.
	MaxCursors int
}

// Handler dispatches the requests of one client connection. The server must
// deliver requests one at a time, except for cancels, which may arrive
// while another request is executing.
type Handler struct {
	ses     engine.Session
	cliCtx  *engine.ClientContext
	sender  Sender
	version wire.Version
	reg     *registry
	sched   *scheduler
	worker  *serialWorker
	ctx     context.Context

	mutex   sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// NewHandler begins an engine session for a connected client. ctx must
// remain valid until Close; the ordered batch worker runs under it.
func NewHandler(ctx context.Context, eng engine.Engine, cliCtx *engine.ClientContext,
	sender Sender, cfg Config) (*Handler, error) {

	ses, err := eng.NewSession(ctx, cliCtx)
	if err != nil {
		return nil, err
	}

	hdlr := &Handler{
		ses:     ses,
		cliCtx:  cliCtx,
		sender:  sender,
		version: cfg.Version,
		reg:     newRegistry(cfg.MaxCursors),
		sched:   newScheduler(),
		ctx:     ctx,
	}
	if eng.Serial() {
		hdlr.worker = newSerialWorker(hdlr.dispatch)
	}
	return hdlr, nil
}

func (hdlr *Handler) supportsCancel() bool {
	return hdlr.version.Compare(wire.Ver2_0) >= 0
}

func registrable(kind wire.Kind) bool {
	switch kind {
	case wire.Execute, wire.Batch, wire.OrderedBatch:
		return true
	}
	return false
}

// Register makes req cancellable. The server must call it from the read
// loop before handing req to Handle, so that a cancel arriving later always
// observes the request.
func (hdlr *Handler) Register(ctx context.Context, req wire.Request) {
	if hdlr.supportsCancel() && registrable(req.Kind()) {
		hdlr.reg.registerRequest(ctx, req.RequestID())
	}
}

// Handle executes req and returns its response. A nil response means no
// frame is sent: the request was cancelled before it started executing, or
// it responds out of band through the Sender.
func (hdlr *Handler) Handle(ctx context.Context, req wire.Request) *wire.Response {
	hdlr.mutex.Lock()
	if hdlr.closing {
		hdlr.mutex.Unlock()
		return wire.NewErrorResponse(wire.StatusUnknown, "session: server is stopping")
	}
	hdlr.wg.Add(1)
	hdlr.mutex.Unlock()
	defer hdlr.wg.Done()

	log.WithFields(log.Fields{
		"kind":    req.Kind(),
		"request": req.RequestID(),
	}).Debug("handle request")

	if hdlr.worker != nil && req.Kind() != wire.Cancel {
		return hdlr.worker.process(ctx, req)
	}
	return hdlr.dispatch(ctx, req)
}

func (hdlr *Handler) dispatch(ctx context.Context, req wire.Request) *wire.Response {
	switch req := req.(type) {
	case *wire.ExecuteRequest:
		return hdlr.executeQuery(ctx, req)
	case *wire.FetchRequest:
		return hdlr.fetch(ctx, req)
	case *wire.CloseRequest:
		return hdlr.closeCursor(ctx, req)
	case *wire.QueryMetaRequest:
		return hdlr.queryMeta(req)
	case *wire.BatchRequest:
		return hdlr.executeBatch(ctx, req)
	case *wire.OrderedBatchRequest:
		return hdlr.dispatchOrderedBatch(ctx, req)
	case *wire.BulkLoadBatchRequest:
		return hdlr.processBulkLoad(ctx, req)
	case *wire.CancelRequest:
		return hdlr.cancelQuery(req)
	case *wire.MetaTablesRequest:
		return hdlr.metaTables(ctx, req)
	case *wire.MetaColumnsRequest:
		return hdlr.metaColumns(ctx, req)
	case *wire.MetaIndexesRequest:
		return hdlr.metaIndexes(ctx, req)
	case *wire.MetaParamsRequest:
		return hdlr.metaParams(ctx, req)
	case *wire.MetaPrimaryKeysRequest:
		return hdlr.metaPrimaryKeys(ctx, req)
	case *wire.MetaSchemasRequest:
		return hdlr.metaSchemas(ctx, req)
	}

	return wire.NewErrorResponse(wire.StatusUnsupported,
		fmt.Sprintf("session: unsupported request: %s", req.Kind()))
}

// cancelQuery cancels the request with id req.TargetID. Cancelling an
// unknown or finished request sends nothing, and neither does cancelling a
// started one: its response comes from the executing invocation observing
// the cancelled context.
func (hdlr *Handler) cancelQuery(req *wire.CancelRequest) *wire.Response {
	if !hdlr.supportsCancel() {
		return wire.NewErrorResponse(wire.StatusUnsupported,
			fmt.Sprintf("session: cancellation requires protocol version %d.%d",
				wire.Ver2_0.Major, wire.Ver2_0.Minor))
	}

	outcome, purged := hdlr.reg.cancelRequest(req.TargetID)
	hdlr.closeEntries(purged)

	if outcome == cancelPending {
		return cancelledResponse()
	}
	return nil
}

func (hdlr *Handler) closeEntry(e entry) {
	err := e.close(context.Background())
	if err != nil {
		log.WithFields(log.Fields{
			"cursor": e.cursorID(),
			"error":  err.Error(),
		}).Error("close cursor")
	}
}

func (hdlr *Handler) closeEntries(entries []entry) {
	for _, e := range entries {
		hdlr.closeEntry(e)
	}
}

// clearCursors removes and closes every cursor opened by reqID.
func (hdlr *Handler) clearCursors(reqID int64) {
	hdlr.closeEntries(hdlr.reg.removeForRequest(reqID))
}

// Close tears the session down: in flight requests drain, the workers stop,
// open cursors are closed, and the engine session is released. Requests
// arriving after Close starts get an error response.
func (hdlr *Handler) Close() {
	hdlr.mutex.Lock()
	if hdlr.closing {
		hdlr.mutex.Unlock()
		return
	}
	hdlr.closing = true
	hdlr.mutex.Unlock()

	hdlr.cliCtx.Shutdown()
	hdlr.wg.Wait()

	if hdlr.worker != nil {
		hdlr.worker.close()
	}
	hdlr.sched.stop()

	hdlr.closeEntries(hdlr.reg.clear())

	err := hdlr.ses.Close()
	if err != nil {
		log.WithField("error", err.Error()).Error("close engine session")
	}
}
