package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/leftmike/kumo/engine"
	"github.com/leftmike/kumo/wire"
)

// Batch runs update statements over sets of arguments and returns one
// update count per set. The first query must carry sql; a query without
// sql reruns the preceding statement with its arguments. A partial failure
// is reported as an engine.BatchError: failed sets count as
// wire.ExecuteFailed, and the error describes the first failure.
func (cn *Conn) Batch(ctx context.Context, queries []wire.Query,
	opts Options) ([]int64, error) {

	rsp, err := cn.call(ctx, &wire.BatchRequest{
		ID:              cn.requestID(opts),
		Schema:          opts.Schema,
		Queries:         queries,
		AutoCommit:      opts.AutoCommit,
		LastStreamBatch: opts.LastStreamBatch,
	})
	if err != nil {
		return nil, err
	}
	br, ok := rsp.Result.(*wire.BatchResult)
	if !ok {
		return nil, fmt.Errorf("client: expected a batch result: %#v", rsp.Result)
	}

	if br.Error != "" {
		return br.UpdateCounts, &engine.BatchError{
			Counts: br.UpdateCounts,
			Err:    &engine.SQLError{Status: br.ErrStatus, Err: errors.New(br.Error)},
		}
	}
	return br.UpdateCounts, nil
}

// OrderedStream sends ordered batches and collects their out of band
// results. The session must have ordered streaming enabled, and no other
// request may use the connection between NewOrderedStream and Wait.
type OrderedStream struct {
	cn   *Conn
	opts Options

	mutex    sync.Mutex
	started  bool
	lastSent bool
	next     int64
	sent     int64
	recv     map[int64]wire.BatchResult

	err  error
	done chan struct{}
}

// NewOrderedStream starts an ordered batch stream. It owns the connection
// until Wait returns.
func (cn *Conn) NewOrderedStream(opts Options) *OrderedStream {
	cn.callMutex.Lock()

	return &OrderedStream{
		cn:   cn,
		opts: opts,
		recv: map[int64]wire.BatchResult{},
		done: make(chan struct{}),
	}
}

// Send writes the next batch of the stream; its result arrives out of
// band. Exactly one batch must be sent with last set, and it must be the
// final one.
func (st *OrderedStream) Send(queries []wire.Query, last bool) error {
	st.mutex.Lock()
	if st.lastSent {
		st.mutex.Unlock()
		return fmt.Errorf("client: ordered stream is finished")
	}
	order := st.next
	st.next += 1
	st.sent += 1
	if last {
		st.lastSent = true
	}
	if !st.started {
		st.started = true
		go st.reader()
	}
	st.mutex.Unlock()

	err := st.cn.write(&wire.OrderedBatchRequest{
		BatchRequest: wire.BatchRequest{
			ID:              st.cn.nextID(),
			Schema:          st.opts.Schema,
			Queries:         queries,
			AutoCommit:      st.opts.AutoCommit,
			LastStreamBatch: last,
		},
		Order: order,
	})
	if err != nil {
		// The reader is wedged on a response that will never come.
		st.cn.conn.Close()
		return err
	}
	return nil
}

// Wait blocks until every sent batch has a result and returns them in
// order. It releases the connection; cancelling the wait abandons the
// stream and closes the connection instead.
func (st *OrderedStream) Wait(ctx context.Context) ([]wire.BatchResult, error) {
	defer st.cn.callMutex.Unlock()

	st.mutex.Lock()
	started, lastSent := st.started, st.lastSent
	st.mutex.Unlock()
	if !started {
		return nil, nil
	}
	if !lastSent {
		return nil, fmt.Errorf("client: final batch of the stream was never sent")
	}

	select {
	case <-st.done:
	case <-ctx.Done():
		st.cn.conn.Close()
		<-st.done
		return nil, ctx.Err()
	}

	if st.err != nil {
		return nil, st.err
	}

	results := make([]wire.BatchResult, 0, len(st.recv))
	for order := int64(0); order < st.sent; order += 1 {
		br, ok := st.recv[order]
		if !ok {
			return nil, fmt.Errorf("client: no result for batch %d", order)
		}
		results = append(results, br)
	}
	return results, nil
}

func (st *OrderedStream) reader() {
	for {
		rsp, err := wire.ReadResponse(st.cn.conn)
		if err != nil {
			st.fail(err)
			return
		}
		if rsp.Status != wire.StatusSuccess {
			st.fail(statusError(rsp))
			return
		}
		obr, ok := rsp.Result.(*wire.OrderedBatchResult)
		if !ok {
			st.fail(fmt.Errorf("client: expected an ordered batch result: %#v",
				rsp.Result))
			return
		}

		st.mutex.Lock()
		st.recv[obr.Order] = obr.BatchResult
		fin := st.lastSent && int64(len(st.recv)) == st.sent
		st.mutex.Unlock()

		if fin {
			close(st.done)
			return
		}
	}
}

func (st *OrderedStream) fail(err error) {
	st.err = err
	close(st.done)
}
