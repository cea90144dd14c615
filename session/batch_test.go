package session

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/leftmike/kumo/wire"
)

func TestBatch(t *testing.T) {
	te := newTestEngine()
	hdlr, _, _ := makeHandler(t, te, wire.CurrentVersion, 0)
	defer hdlr.Close()

	queries := []wire.Query{
		{SQL: "update 1", Args: []interface{}{int64(1)}},
		{Args: []interface{}{int64(2)}},
		{SQL: "update 2", Args: []interface{}{int64(3)}},
	}
	rsp := handleReq(hdlr, &wire.BatchRequest{ID: 1, Queries: queries, AutoCommit: true})
	res, ok := checkSuccess(t, rsp).(*wire.BatchResult)
	if !ok {
		t.Fatalf("got %T want *wire.BatchResult", rsp.Result)
	}
	if !reflect.DeepEqual(res.UpdateCounts, []int64{1, 1, 2}) {
		t.Errorf("UpdateCounts: got %v want [1 1 2]", res.UpdateCounts)
	}
	if res.Error != "" {
		t.Errorf("Error: got %q want none", res.Error)
	}
	checkRegistry(t, hdlr, 0, 0)

	te.checkOps(t, []testOp{
		{op: "NewSession"},
		{op: "ExecuteBatch", args: []string{"update 1", "2"}},
		{op: "ExecuteBatch", args: []string{"update 2", "1"}},
	})
}

// A failed sub batch reports failed counts for its argument sets and the
// batch continues with the next template.
func TestBatchPartialFailure(t *testing.T) {
	te := newTestEngine()
	hdlr, _, _ := makeHandler(t, te, wire.CurrentVersion, 0)
	defer hdlr.Close()

	queries := []wire.Query{
		{SQL: "failafter 1", Args: []interface{}{int64(1)}},
		{Args: []interface{}{int64(2)}},
		{Args: []interface{}{int64(3)}},
		{SQL: "update 5", Args: []interface{}{int64(4)}},
	}
	rsp := handleReq(hdlr, &wire.BatchRequest{ID: 1, Queries: queries})
	res, _ := checkSuccess(t, rsp).(*wire.BatchResult)
	want := []int64{1, wire.ExecuteFailed, wire.ExecuteFailed, 5}
	if !reflect.DeepEqual(res.UpdateCounts, want) {
		t.Errorf("UpdateCounts: got %v want %v", res.UpdateCounts, want)
	}
	if res.ErrStatus != wire.StatusUnknown {
		t.Errorf("ErrStatus: got %s want %s", res.ErrStatus, wire.StatusUnknown)
	}
	if !strings.Contains(res.Error, "failed after 1") {
		t.Errorf("Error: got %q want failed after 1", res.Error)
	}
}

func TestBatchFirstQueryNoSQL(t *testing.T) {
	te := newTestEngine()
	hdlr, _, _ := makeHandler(t, te, wire.CurrentVersion, 0)
	defer hdlr.Close()

	rsp := handleReq(hdlr, &wire.BatchRequest{ID: 1,
		Queries: []wire.Query{{Args: []interface{}{int64(1)}}}})
	checkError(t, rsp, wire.StatusUnknown)
}

func TestBatchCancelled(t *testing.T) {
	te := newTestEngine()
	hdlr, _, _ := makeHandler(t, te, wire.CurrentVersion, 0)
	defer hdlr.Close()

	ctx := context.Background()
	req := &wire.BatchRequest{ID: 6,
		Queries: []wire.Query{{SQL: "block", Args: []interface{}{int64(1)}}}}
	hdlr.Register(ctx, req)

	ch := make(chan *wire.Response, 1)
	go func() {
		ch <- hdlr.Handle(ctx, req)
	}()
	<-te.blocked

	rsp := hdlr.Handle(ctx, &wire.CancelRequest{ID: 7, TargetID: 6})
	if rsp != nil {
		t.Errorf("got %#v want no response", rsp)
	}

	rsp = <-ch
	checkError(t, rsp, wire.StatusCancelled)
	checkRegistry(t, hdlr, 0, 0)
}

func TestOrderedBatchInline(t *testing.T) {
	te := newTestEngine()
	hdlr, tsn, _ := makeHandler(t, te, wire.CurrentVersion, 0)
	defer hdlr.Close()

	rsp := handleReq(hdlr, &wire.OrderedBatchRequest{
		BatchRequest: wire.BatchRequest{ID: 1,
			Queries: []wire.Query{{SQL: "update 4", Args: []interface{}{int64(1)}}}},
	})
	if rsp != nil {
		t.Fatalf("got %#v want no response", rsp)
	}

	rsp = tsn.wait(t)
	res, ok := checkSuccess(t, rsp).(*wire.OrderedBatchResult)
	if !ok {
		t.Fatalf("got %T want *wire.OrderedBatchResult", rsp.Result)
	}
	if res.Order != 0 {
		t.Errorf("Order: got %d want 0", res.Order)
	}
	if !reflect.DeepEqual(res.UpdateCounts, []int64{4}) {
		t.Errorf("UpdateCounts: got %v want [4]", res.UpdateCounts)
	}

	te.checkOps(t, []testOp{
		{op: "NewSession"},
		{op: "ExecuteBatch", args: []string{"update 4", "1"}},
	})
}

func orderedBatch(id, order int64, sql string, last bool) *wire.OrderedBatchRequest {
	return &wire.OrderedBatchRequest{
		BatchRequest: wire.BatchRequest{
			ID:              id,
			Queries:         []wire.Query{{SQL: sql, Args: []interface{}{order}}},
			LastStreamBatch: last,
		},
		Order: order,
	}
}

// Ordered stream batches may arrive in any order but must be applied in
// their client assigned order, and the final batch must be applied last.
func TestOrderedStreaming(t *testing.T) {
	te := newTestEngine()
	hdlr, tsn, cliCtx := makeHandler(t, te, wire.CurrentVersion, 0)
	cliCtx.EnableStreaming(true, 100)

	for _, req := range []*wire.OrderedBatchRequest{
		orderedBatch(11, 1, "update 11", false),
		orderedBatch(12, 2, "update 12", false),
		orderedBatch(10, 0, "update 10", false),
	} {
		if rsp := handleReq(hdlr, req); rsp != nil {
			t.Fatalf("got %#v want no response", rsp)
		}
	}

	var orders []int64
	for i := 0; i < 3; i += 1 {
		rsp := tsn.wait(t)
		res, ok := checkSuccess(t, rsp).(*wire.OrderedBatchResult)
		if !ok {
			t.Fatalf("got %T want *wire.OrderedBatchResult", rsp.Result)
		}
		orders = append(orders, res.Order)
	}
	if !reflect.DeepEqual(orders, []int64{0, 1, 2}) {
		t.Errorf("orders: got %v want [0 1 2]", orders)
	}

	te.checkOps(t, []testOp{
		{op: "NewSession"},
		{op: "StreamBatch", args: []string{"update 10", "1"}},
		{op: "StreamBatch", args: []string{"update 11", "1"}},
		{op: "StreamBatch", args: []string{"update 12", "1"}},
	})

	if rsp := handleReq(hdlr, orderedBatch(13, 3, "update 13", true)); rsp != nil {
		t.Fatalf("got %#v want no response", rsp)
	}
	rsp := tsn.wait(t)
	res, _ := checkSuccess(t, rsp).(*wire.OrderedBatchResult)
	if res.Order != 3 {
		t.Errorf("Order: got %d want 3", res.Order)
	}
	if cliCtx.Streaming() {
		t.Error("still streaming after the last batch")
	}

	te.checkOps(t, []testOp{
		{op: "StreamBatch", args: []string{"update 13", "1"}},
	})

	hdlr.Close()
	checkRegistry(t, hdlr, 0, 0)
}

func TestExecuteWhileStreaming(t *testing.T) {
	te := newTestEngine()
	hdlr, _, cliCtx := makeHandler(t, te, wire.CurrentVersion, 0)
	defer hdlr.Close()
	cliCtx.EnableStreaming(false, 50)

	rsp := handleReq(hdlr, &wire.ExecuteRequest{ID: 1, SQL: "select 1", PageSize: 8})
	msg := checkError(t, rsp, wire.StatusUnknown)
	if !strings.Contains(msg, "streaming") {
		t.Errorf("got %q want streaming", msg)
	}

	rsp = handleReq(hdlr, &wire.BatchRequest{ID: 2,
		Queries: []wire.Query{
			{SQL: "update 1", Args: []interface{}{int64(1)}},
			{Args: []interface{}{int64(2)}},
		}})
	res, _ := checkSuccess(t, rsp).(*wire.BatchResult)
	if !reflect.DeepEqual(res.UpdateCounts, []int64{1, 1}) {
		t.Errorf("UpdateCounts: got %v want [1 1]", res.UpdateCounts)
	}

	rsp = handleReq(hdlr, &wire.BatchRequest{ID: 3,
		Queries:         []wire.Query{{SQL: "update 1", Args: []interface{}{int64(3)}}},
		LastStreamBatch: true})
	checkSuccess(t, rsp)
	if cliCtx.Streaming() {
		t.Error("still streaming after the last batch")
	}

	rsp = handleReq(hdlr, &wire.ExecuteRequest{ID: 4, SQL: "select 1", PageSize: 8})
	checkSuccess(t, rsp)

	te.checkOps(t, []testOp{
		{op: "NewSession"},
		{op: "StreamBatch", args: []string{"update 1", "2"}},
		{op: "StreamBatch", args: []string{"update 1", "1"}},
		{op: "Execute", args: []string{"select 1"}},
	})
}
