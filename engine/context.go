package engine

import (
	"sync"

	"github.com/leftmike/kumo/wire"
)

// ClientContext carries the per connection execution state shared by the
// session handler and the engine. The exported fields are set once, before
// the connection handles requests.
type ClientContext struct {
	Schema              string
	DistributedJoins    bool
	EnforceJoinOrder    bool
	Collocated          bool
	ReplicatedOnly      bool
	Lazy                bool
	SkipReducerOnUpdate bool
	AutoCloseCursors    bool
	NestedTxMode        wire.NestedTxMode

	mutex     sync.Mutex
	cond      *sync.Cond
	streaming bool
	ordered   bool
	batchSize int
	processed int64
	shutdown  bool
}

func NewClientContext() *ClientContext {
	cliCtx := &ClientContext{}
	cliCtx.cond = sync.NewCond(&cliCtx.mutex)
	return cliCtx
}

// EnableStreaming puts the connection in streaming mode: updates are routed
// to the engine in batches of up to batchSize statements. When ordered is
// true, batches are applied in the client assigned order.
func (cliCtx *ClientContext) EnableStreaming(ordered bool, batchSize int) {
	cliCtx.mutex.Lock()
	defer cliCtx.mutex.Unlock()

	cliCtx.streaming = true
	cliCtx.ordered = ordered
	cliCtx.batchSize = batchSize
	cliCtx.processed = 0
}

func (cliCtx *ClientContext) DisableStreaming() {
	cliCtx.mutex.Lock()
	defer cliCtx.mutex.Unlock()

	cliCtx.streaming = false
	cliCtx.ordered = false
	cliCtx.batchSize = 0
}

func (cliCtx *ClientContext) Streaming() bool {
	cliCtx.mutex.Lock()
	defer cliCtx.mutex.Unlock()

	return cliCtx.streaming
}

func (cliCtx *ClientContext) StreamOrdered() bool {
	cliCtx.mutex.Lock()
	defer cliCtx.mutex.Unlock()

	return cliCtx.ordered
}

func (cliCtx *ClientContext) StreamBatchSize() int {
	cliCtx.mutex.Lock()
	defer cliCtx.mutex.Unlock()

	return cliCtx.batchSize
}

// OrderedRequestProcessed records that one ordered batch finished.
func (cliCtx *ClientContext) OrderedRequestProcessed() {
	cliCtx.mutex.Lock()
	defer cliCtx.mutex.Unlock()

	cliCtx.processed += 1
	cliCtx.cond.Broadcast()
}

// WaitProcessedOrdered blocks until at least total ordered batches have
// finished or the connection is shut down.
func (cliCtx *ClientContext) WaitProcessedOrdered(total int64) {
	cliCtx.mutex.Lock()
	defer cliCtx.mutex.Unlock()

	for cliCtx.processed < total && !cliCtx.shutdown {
		cliCtx.cond.Wait()
	}
}

// Shutdown wakes any goroutine blocked in WaitProcessedOrdered; the
// connection is going away and the batches it is waiting on will never
// arrive.
func (cliCtx *ClientContext) Shutdown() {
	cliCtx.mutex.Lock()
	defer cliCtx.mutex.Unlock()

	cliCtx.shutdown = true
	cliCtx.cond.Broadcast()
}
