package session

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/leftmike/kumo/engine"
	"github.com/leftmike/kumo/wire"
)

// entry is a server side resource registered in a session's cursor table:
// an open query cursor or an in progress bulk load.
type entry interface {
	cursorID() int64
	requestID() int64
	close(ctx context.Context) error
}

// registry tracks the open cursors and the cancellable requests of one
// session. A single mutex guards both tables so that checks spanning them
// are atomic.
type registry struct {
	mutex      sync.Mutex
	maxCursors int
	lastID     int64
	cursors    map[int64]entry
	descs      map[int64]*descriptor
}

func newRegistry(maxCursors int) *registry {
	return &registry{
		maxCursors: maxCursors,
		cursors:    map[int64]entry{},
		descs:      map[int64]*descriptor{},
	}
}

// nextID allocates a cursor id after checking the open cursor limit.
// reg.mutex must be held.
func (reg *registry) nextID() (int64, error) {
	if reg.maxCursors > 0 && len(reg.cursors) >= reg.maxCursors {
		return 0, fmt.Errorf("session: too many open cursors: maximum is %d", reg.maxCursors)
	}

	reg.lastID += 1
	return reg.lastID, nil
}

func (reg *registry) addCursor(reqID int64, rows engine.Rows, maxRows int) (*cursor, error) {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()

	id, err := reg.nextID()
	if err != nil {
		return nil, err
	}

	cur := &cursor{
		id:      id,
		reqID:   reqID,
		rows:    rows,
		maxRows: maxRows,
	}
	reg.cursors[id] = cur
	return cur, nil
}

func (reg *registry) addBulkLoad(reqID int64, sink engine.BulkLoadSink) (*bulkLoad, error) {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()

	id, err := reg.nextID()
	if err != nil {
		return nil, err
	}

	bl := &bulkLoad{
		id:    id,
		reqID: reqID,
		sink:  sink,
	}
	reg.cursors[id] = bl
	return bl, nil
}

func (reg *registry) get(id int64) (entry, bool) {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()

	e, ok := reg.cursors[id]
	return e, ok
}

func (reg *registry) remove(id int64) (entry, bool) {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()

	e, ok := reg.cursors[id]
	if ok {
		delete(reg.cursors, id)
	}
	return e, ok
}

// removeBound removes and returns every entry bound to reqID. reg.mutex
// must be held.
func (reg *registry) removeBound(reqID int64) []entry {
	var entries []entry
	for id, e := range reg.cursors {
		if e.requestID() == reqID {
			entries = append(entries, e)
			delete(reg.cursors, id)
		}
	}
	return entries
}

// hasBound reports whether any entry is bound to reqID. reg.mutex must be
// held.
func (reg *registry) hasBound(reqID int64) bool {
	for _, e := range reg.cursors {
		if e.requestID() == reqID {
			return true
		}
	}
	return false
}

func (reg *registry) removeForRequest(reqID int64) []entry {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()

	return reg.removeBound(reqID)
}

func (reg *registry) count() int {
	reg.mutex.Lock()
	defer reg.mutex.Unlock()

	return len(reg.cursors)
}

// clear empties both tables, cancelling every registered request, and
// returns the removed entries so the caller can close them.
func (reg *registry) clear() []entry {
	reg.mutex.Lock()
	descs := reg.descs
	reg.descs = map[int64]*descriptor{}
	cursors := reg.cursors
	reg.cursors = map[int64]entry{}
	reg.mutex.Unlock()

	for _, desc := range descs {
		desc.cancel()
	}

	entries := make([]entry, 0, len(cursors))
	for _, e := range cursors {
		entries = append(entries, e)
	}
	return entries
}

// cursor pages rows out of an engine result set. The last flag of a page
// must be exact, so the cursor reads one row ahead when a page fills.
type cursor struct {
	id      int64
	reqID   int64
	rows    engine.Rows
	maxRows int
	fetched int
	peeked  []interface{}
	eof     bool
}

func (cur *cursor) cursorID() int64 {
	return cur.id
}

func (cur *cursor) requestID() int64 {
	return cur.reqID
}

func (cur *cursor) close(_ context.Context) error {
	return cur.rows.Close()
}

func (cur *cursor) columns() []wire.ColumnMeta {
	return cur.rows.Columns()
}

// next returns the next row, or io.EOF once the result set or the row limit
// is exhausted.
func (cur *cursor) next(ctx context.Context) ([]interface{}, error) {
	if cur.eof {
		return nil, io.EOF
	}
	if cur.maxRows > 0 && cur.fetched >= cur.maxRows {
		cur.eof = true
		return nil, io.EOF
	}

	row := cur.peeked
	if row == nil {
		row = make([]interface{}, len(cur.rows.Columns()))
		err := cur.rows.Next(ctx, row)
		if err == io.EOF {
			cur.eof = true
			return nil, io.EOF
		} else if err != nil {
			return nil, err
		}
	} else {
		cur.peeked = nil
	}

	cur.fetched += 1
	return row, nil
}

// more reports whether another row is available, reading ahead if necessary.
func (cur *cursor) more(ctx context.Context) (bool, error) {
	if cur.eof {
		return false, nil
	}
	if cur.maxRows > 0 && cur.fetched >= cur.maxRows {
		cur.eof = true
		return false, nil
	}
	if cur.peeked != nil {
		return true, nil
	}

	row := make([]interface{}, len(cur.rows.Columns()))
	err := cur.rows.Next(ctx, row)
	if err == io.EOF {
		cur.eof = true
		return false, nil
	} else if err != nil {
		return false, err
	}

	cur.peeked = row
	return true, nil
}

// fetchPage returns up to pageSize rows and whether the cursor is now
// exhausted.
func (cur *cursor) fetchPage(ctx context.Context, pageSize int) ([][]interface{}, bool, error) {
	var rows [][]interface{}
	for len(rows) < pageSize {
		row, err := cur.next(ctx)
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, false, err
		}
		rows = append(rows, row)
	}

	if cur.eof {
		return rows, true, nil
	}
	more, err := cur.more(ctx)
	if err != nil {
		return nil, false, err
	}
	return rows, !more, nil
}

// bulkLoad is an in progress client file ingestion; batches of file data
// arrive addressed to the cursor id.
type bulkLoad struct {
	id    int64
	reqID int64
	sink  engine.BulkLoadSink
}

func (bl *bulkLoad) cursorID() int64 {
	return bl.id
}

func (bl *bulkLoad) requestID() int64 {
	return bl.reqID
}

// close aborts the load; the normal finish goes through the sink directly.
func (bl *bulkLoad) close(ctx context.Context) error {
	_, err := bl.sink.Close(ctx, true)
	return err
}
