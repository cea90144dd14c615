package session

import (
	"context"
	"testing"

	"github.com/leftmike/kumo/wire"
)

func TestCancelUnknown(t *testing.T) {
	te := newTestEngine()
	hdlr, _, _ := makeHandler(t, te, wire.CurrentVersion, 0)
	defer hdlr.Close()

	rsp := handleReq(hdlr, &wire.CancelRequest{ID: 1, TargetID: 42})
	if rsp != nil {
		t.Errorf("got %#v want no response", rsp)
	}
}

func TestCancelNotStarted(t *testing.T) {
	te := newTestEngine()
	hdlr, _, _ := makeHandler(t, te, wire.CurrentVersion, 0)
	defer hdlr.Close()

	ctx := context.Background()
	exec := &wire.ExecuteRequest{ID: 7, SQL: "select 1", PageSize: 8}
	hdlr.Register(ctx, exec)

	rsp := hdlr.Handle(ctx, &wire.CancelRequest{ID: 8, TargetID: 7})
	checkError(t, rsp, wire.StatusCancelled)
	checkRegistry(t, hdlr, 0, 0)

	rsp = hdlr.Handle(ctx, exec)
	if rsp != nil {
		t.Errorf("got %#v want no response", rsp)
	}

	te.checkOps(t, []testOp{
		{op: "NewSession"},
	})
}

func TestCancelDuringExecute(t *testing.T) {
	te := newTestEngine()
	hdlr, _, _ := makeHandler(t, te, wire.CurrentVersion, 0)
	defer hdlr.Close()

	ctx := context.Background()
	exec := &wire.ExecuteRequest{ID: 3, SQL: "block", PageSize: 8}
	hdlr.Register(ctx, exec)

	ch := make(chan *wire.Response, 1)
	go func() {
		ch <- hdlr.Handle(ctx, exec)
	}()
	<-te.blocked

	rsp := hdlr.Handle(ctx, &wire.CancelRequest{ID: 4, TargetID: 3})
	if rsp != nil {
		t.Errorf("got %#v want no response", rsp)
	}

	rsp = <-ch
	checkError(t, rsp, wire.StatusCancelled)
	checkRegistry(t, hdlr, 0, 0)
}

func TestCancelPurgesCursors(t *testing.T) {
	te := newTestEngine()
	hdlr, _, _ := makeHandler(t, te, wire.CurrentVersion, 0)
	defer hdlr.Close()

	rsp := handleReq(hdlr, &wire.ExecuteRequest{ID: 1, SQL: "select 5", PageSize: 2})
	res, _ := checkSuccess(t, rsp).(*wire.ExecuteResult)
	checkRegistry(t, hdlr, 1, 1)

	rsp = handleReq(hdlr, &wire.CancelRequest{ID: 2, TargetID: 1})
	if rsp != nil {
		t.Errorf("got %#v want no response", rsp)
	}
	checkRegistry(t, hdlr, 0, 0)

	rsp = handleReq(hdlr, &wire.FetchRequest{ID: 3, CursorID: res.CursorID, PageSize: 2})
	checkError(t, rsp, wire.StatusUnknown)

	te.checkOps(t, []testOp{
		{op: "NewSession"},
		{op: "Execute", args: []string{"select 5"}},
		{op: "CloseRows"},
	})
}

func TestCancelOldProtocol(t *testing.T) {
	te := newTestEngine()
	hdlr, _, _ := makeHandler(t, te, wire.Ver1_4, 0)
	defer hdlr.Close()

	rsp := handleReq(hdlr, &wire.ExecuteRequest{ID: 1, SQL: "select 3", PageSize: 8})
	checkSuccess(t, rsp)
	checkRegistry(t, hdlr, 1, 0)

	rsp = handleReq(hdlr, &wire.CancelRequest{ID: 2, TargetID: 1})
	checkError(t, rsp, wire.StatusUnsupported)
}
