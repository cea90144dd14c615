package session

import (
	"context"
)

// descriptor tracks the cancellation state of one client request. usage
// counts the handler invocations currently touching the request; a
// cancelled descriptor is purged only when usage returns to zero, so a
// concurrent invocation never has its cursors closed out from under it.
type descriptor struct {
	ctx       context.Context
	cancel    context.CancelFunc
	started   bool
	cancelled bool
	usage     int
}

// registerRequest makes reqID cancellable before the request is handed to a
// worker. Execution runs under a context derived from ctx; cancelling the
// request cancels that context.
func (reg *registry) registerRequest(ctx context.Context, reqID int64) {
	ctx, cancel := context.WithCancel(ctx)

	reg.mutex.Lock()
	defer reg.mutex.Unlock()

	if old, ok := reg.descs[reqID]; ok {
		old.cancel()
	}
	reg.descs[reqID] = &descriptor{ctx: ctx, cancel: cancel}
}

// acquire marks reqID as executing and pins its descriptor for the duration
// of one handler invocation. It returns the context the engine call should
// run under, or false when the request was already cancelled and
// unregistered.
func (reg *registry) acquire(reqID int64) (context.Context, bool) {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()

	desc, ok := reg.descs[reqID]
	if !ok {
		return nil, false
	}

	desc.usage += 1
	desc.started = true
	return desc.ctx, true
}

// release unpins the descriptor after a handler invocation. When the usage
// count returns to zero, a cancelled request is unregistered and its
// cursors are removed for the caller to close; a completed request is
// unregistered once no cursors remain bound to it.
func (reg *registry) release(reqID int64) []entry {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()

	desc, ok := reg.descs[reqID]
	if !ok {
		return nil
	}

	desc.usage -= 1
	if desc.usage > 0 {
		return nil
	}

	if desc.cancelled {
		delete(reg.descs, reqID)
		desc.cancel()
		return reg.removeBound(reqID)
	}
	if !reg.hasBound(reqID) {
		delete(reg.descs, reqID)
		desc.cancel()
	}
	return nil
}

type cancelOutcome int

const (
	cancelAbsent cancelOutcome = iota
	cancelPending
	cancelStarted
)

// cancelRequest cancels the request with id targetID. A request that has
// not started executing is simply unregistered. A started request has its
// context cancelled outside the mutex; it is purged immediately when no
// handler invocation is in flight, otherwise by the last release. The
// returned entries must be closed by the caller.
func (reg *registry) cancelRequest(targetID int64) (cancelOutcome, []entry) {
	reg.mutex.Lock()

	desc, ok := reg.descs[targetID]
	if !ok {
		reg.mutex.Unlock()
		return cancelAbsent, nil
	}

	if !desc.started {
		delete(reg.descs, targetID)
		reg.mutex.Unlock()

		desc.cancel()
		return cancelPending, nil
	}

	desc.cancelled = true
	var purged []entry
	if desc.usage == 0 {
		delete(reg.descs, targetID)
		purged = reg.removeBound(targetID)
	}
	reg.mutex.Unlock()

	desc.cancel()
	return cancelStarted, purged
}
