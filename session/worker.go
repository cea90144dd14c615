package session

import (
	"context"

	"github.com/leftmike/kumo/wire"
)

type serialTask struct {
	ctx   context.Context
	req   wire.Request
	reply chan *wire.Response
}

// serialWorker executes requests one at a time on a single goroutine, for
// engines whose sessions require execution thread affinity. The caller
// blocks until its request completes.
type serialWorker struct {
	tasks chan serialTask
	stop  chan struct{}
	done  chan struct{}
}

func newSerialWorker(dispatch func(context.Context, wire.Request) *wire.Response) *serialWorker {
	wkr := &serialWorker{
		tasks: make(chan serialTask),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go wkr.run(dispatch)
	return wkr
}

func (wkr *serialWorker) run(dispatch func(context.Context, wire.Request) *wire.Response) {
	defer close(wkr.done)

	for {
		select {
		case task := <-wkr.tasks:
			task.reply <- dispatch(task.ctx, task.req)
		case <-wkr.stop:
			return
		}
	}
}

func (wkr *serialWorker) process(ctx context.Context, req wire.Request) *wire.Response {
	task := serialTask{
		ctx:   ctx,
		req:   req,
		reply: make(chan *wire.Response, 1),
	}

	select {
	case wkr.tasks <- task:
		return <-task.reply
	case <-wkr.stop:
		return wire.NewErrorResponse(wire.StatusUnknown, "session: server is stopping")
	case <-ctx.Done():
		return errorResponse(ctx.Err())
	}
}

func (wkr *serialWorker) close() {
	close(wkr.stop)
	<-wkr.done
}
