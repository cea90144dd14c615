package session

import (
	"context"
	"sync"

	"github.com/google/btree"

	"github.com/leftmike/kumo/wire"
)

type orderedItem struct {
	req *wire.OrderedBatchRequest
}

func (it orderedItem) Less(item btree.Item) bool {
	return it.req.Order < item.(orderedItem).req.Order
}

// scheduler sequences ordered stream batches. Batches may arrive in any
// order but must be applied in their client assigned order, so arrivals
// queue here and a single worker drains them while the session streams.
type scheduler struct {
	mutex   sync.Mutex
	cond    *sync.Cond
	queue   *btree.BTree
	next    int64
	running bool
	stopped bool
}

func newScheduler() *scheduler {
	sched := &scheduler{queue: btree.New(8)}
	sched.cond = sync.NewCond(&sched.mutex)
	return sched
}

func (sched *scheduler) enqueue(req *wire.OrderedBatchRequest) {
	sched.mutex.Lock()
	defer sched.mutex.Unlock()

	sched.queue.ReplaceOrInsert(orderedItem{req: req})
	sched.cond.Broadcast()
}

func (sched *scheduler) remove(req *wire.OrderedBatchRequest) {
	sched.mutex.Lock()
	defer sched.mutex.Unlock()

	sched.queue.Delete(orderedItem{req: req})
}

// start launches the drain worker if it is not already running. Each
// streaming generation gets a fresh worker; the client restarts orders at
// zero when it enables streaming.
func (sched *scheduler) start(body func()) {
	sched.mutex.Lock()
	defer sched.mutex.Unlock()

	if sched.running || sched.stopped {
		return
	}
	sched.running = true
	sched.next = 0

	go func() {
		body()

		sched.mutex.Lock()
		sched.running = false
		sched.cond.Broadcast()
		sched.mutex.Unlock()
	}()
}

// stop halts the worker and waits for it to finish the batch in hand.
func (sched *scheduler) stop() {
	sched.mutex.Lock()
	defer sched.mutex.Unlock()

	sched.stopped = true
	sched.cond.Broadcast()
	for sched.running {
		sched.cond.Wait()
	}
}

// dispatchOrderedBatch queues req and returns nil; the response is sent out
// of band once every earlier batch has been applied. Outside of ordered
// streaming the batch executes immediately.
func (hdlr *Handler) dispatchOrderedBatch(ctx context.Context,
	req *wire.OrderedBatchRequest) *wire.Response {

	if hdlr.worker != nil {
		return wire.NewErrorResponse(wire.StatusUnsupported,
			"session: ordered batches are not supported by this engine")
	}

	hdlr.sched.enqueue(req)
	if hdlr.cliCtx.StreamOrdered() {
		hdlr.sched.start(hdlr.drainOrdered)
	} else {
		hdlr.executeOrderedBatch(ctx, req)
	}
	return nil
}

// executeOrderedBatch runs one ordered batch and sends its response
// through the sender. The final batch of a stream waits until every
// earlier batch has been applied.
func (hdlr *Handler) executeOrderedBatch(ctx context.Context, req *wire.OrderedBatchRequest) {
	if req.LastStreamBatch {
		hdlr.cliCtx.WaitProcessedOrdered(req.Order)
	}

	rsp := hdlr.executeBatch(ctx, &req.BatchRequest)
	if rsp != nil {
		if res, ok := rsp.Result.(*wire.BatchResult); ok {
			rsp = wire.NewResponse(&wire.OrderedBatchResult{BatchResult: *res, Order: req.Order})
		}
		hdlr.sender.Send(rsp)
	}

	hdlr.sched.remove(req)
	hdlr.cliCtx.OrderedRequestProcessed()
}

// drainOrdered applies queued batches in order until streaming stops or the
// session closes.
func (hdlr *Handler) drainOrdered() {
	sched := hdlr.sched
	for {
		sched.mutex.Lock()
		for {
			if sched.stopped || !hdlr.cliCtx.Streaming() {
				sched.mutex.Unlock()
				return
			}
			item := sched.queue.Min()
			if item != nil && item.(orderedItem).req.Order == sched.next {
				break
			}
			sched.cond.Wait()
		}
		req := sched.queue.Min().(orderedItem).req
		sched.next += 1
		sched.mutex.Unlock()

		hdlr.executeOrderedBatch(hdlr.ctx, req)
	}
}
