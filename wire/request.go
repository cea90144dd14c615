package wire

// Request is the client to server message; the concrete type selects the
// operation. Handlers type switch on it.
type Request interface {
	Kind() Kind

	// RequestID is the client assigned identifier for this request; zero
	// for requests that are never tracked (handshake).
	RequestID() int64
}

type HandshakeRequest struct {
	Version             Version      `json:"version"`
	Schema              string       `json:"schema,omitempty"`
	DistributedJoins    bool         `json:"distributedJoins,omitempty"`
	EnforceJoinOrder    bool         `json:"enforceJoinOrder,omitempty"`
	Collocated          bool         `json:"collocated,omitempty"`
	ReplicatedOnly      bool         `json:"replicatedOnly,omitempty"`
	Lazy                bool         `json:"lazy,omitempty"`
	SkipReducerOnUpdate bool         `json:"skipReducerOnUpdate,omitempty"`
	AutoCloseCursors    bool         `json:"autoCloseCursors,omitempty"`
	NestedTxMode        NestedTxMode `json:"nestedTxMode,omitempty"`
}

func (_ *HandshakeRequest) Kind() Kind {
	return Handshake
}

func (_ *HandshakeRequest) RequestID() int64 {
	return 0
}

type ExecuteRequest struct {
	ID            int64         `json:"id"`
	Schema        string        `json:"schema,omitempty"`
	SQL           string        `json:"sql"`
	Args          []interface{} `json:"args,omitempty"`
	PageSize      int           `json:"pageSize"`
	MaxRows       int           `json:"maxRows,omitempty"`
	AutoCommit    bool          `json:"autoCommit"`
	StatementType StatementType `json:"statementType,omitempty"`
}

func (_ *ExecuteRequest) Kind() Kind {
	return Execute
}

func (req *ExecuteRequest) RequestID() int64 {
	return req.ID
}

type FetchRequest struct {
	ID       int64 `json:"id"`
	CursorID int64 `json:"cursorId"`
	PageSize int   `json:"pageSize"`
}

func (_ *FetchRequest) Kind() Kind {
	return Fetch
}

func (req *FetchRequest) RequestID() int64 {
	return req.ID
}

type CloseRequest struct {
	ID       int64 `json:"id"`
	CursorID int64 `json:"cursorId"`
}

func (_ *CloseRequest) Kind() Kind {
	return CloseCursor
}

func (req *CloseRequest) RequestID() int64 {
	return req.ID
}

type QueryMetaRequest struct {
	ID       int64 `json:"id"`
	CursorID int64 `json:"cursorId"`
}

func (_ *QueryMetaRequest) Kind() Kind {
	return QueryMeta
}

func (req *QueryMetaRequest) RequestID() int64 {
	return req.ID
}

// Query is one entry of a batch: a statement template and one set of bound
// arguments. Consecutive entries with an empty SQL reuse the previous
// template with new arguments.
type Query struct {
	SQL  string        `json:"sql,omitempty"`
	Args []interface{} `json:"args,omitempty"`
}

type BatchRequest struct {
	ID              int64   `json:"id"`
	Schema          string  `json:"schema,omitempty"`
	Queries         []Query `json:"queries"`
	AutoCommit      bool    `json:"autoCommit"`
	LastStreamBatch bool    `json:"lastStreamBatch,omitempty"`
}

func (_ *BatchRequest) Kind() Kind {
	return Batch
}

func (req *BatchRequest) RequestID() int64 {
	return req.ID
}

// OrderedBatchRequest is a batch tagged with the client assigned position
// in the stream; batches are applied in Order regardless of arrival order.
type OrderedBatchRequest struct {
	BatchRequest
	Order int64 `json:"order"`
}

func (_ *OrderedBatchRequest) Kind() Kind {
	return OrderedBatch
}

type BulkLoadBatchRequest struct {
	ID       int64           `json:"id"`
	CursorID int64           `json:"cursorId"`
	Command  BulkLoadCommand `json:"command"`
	Data     []byte          `json:"data,omitempty"`
}

func (_ *BulkLoadBatchRequest) Kind() Kind {
	return BulkLoadBatch
}

func (req *BulkLoadBatchRequest) RequestID() int64 {
	return req.ID
}

type CancelRequest struct {
	ID       int64 `json:"id"`
	TargetID int64 `json:"targetId"`
}

func (_ *CancelRequest) Kind() Kind {
	return Cancel
}

func (req *CancelRequest) RequestID() int64 {
	return req.ID
}

// Metadata requests filter with SQL LIKE patterns; empty means any.

type MetaTablesRequest struct {
	ID     int64  `json:"id"`
	Schema string `json:"schema,omitempty"`
	Table  string `json:"table,omitempty"`
}

func (_ *MetaTablesRequest) Kind() Kind {
	return MetaTables
}

func (req *MetaTablesRequest) RequestID() int64 {
	return req.ID
}

type MetaColumnsRequest struct {
	ID     int64  `json:"id"`
	Schema string `json:"schema,omitempty"`
	Table  string `json:"table,omitempty"`
	Column string `json:"column,omitempty"`
}

func (_ *MetaColumnsRequest) Kind() Kind {
	return MetaColumns
}

func (req *MetaColumnsRequest) RequestID() int64 {
	return req.ID
}

type MetaIndexesRequest struct {
	ID     int64  `json:"id"`
	Schema string `json:"schema,omitempty"`
	Table  string `json:"table,omitempty"`
}

func (_ *MetaIndexesRequest) Kind() Kind {
	return MetaIndexes
}

func (req *MetaIndexesRequest) RequestID() int64 {
	return req.ID
}

type MetaParamsRequest struct {
	ID     int64  `json:"id"`
	Schema string `json:"schema,omitempty"`
	SQL    string `json:"sql"`
}

func (_ *MetaParamsRequest) Kind() Kind {
	return MetaParams
}

func (req *MetaParamsRequest) RequestID() int64 {
	return req.ID
}

type MetaPrimaryKeysRequest struct {
	ID     int64  `json:"id"`
	Schema string `json:"schema,omitempty"`
	Table  string `json:"table,omitempty"`
}

func (_ *MetaPrimaryKeysRequest) Kind() Kind {
	return MetaPrimaryKeys
}

func (req *MetaPrimaryKeysRequest) RequestID() int64 {
	return req.ID
}

type MetaSchemasRequest struct {
	ID     int64  `json:"id"`
	Schema string `json:"schema,omitempty"`
}

func (_ *MetaSchemasRequest) Kind() Kind {
	return MetaSchemas
}

func (req *MetaSchemasRequest) RequestID() int64 {
	return req.ID
}
