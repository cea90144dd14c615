package wire

import (
	"encoding/json"
	"fmt"
)

// Response is the server to client envelope. Status and Error describe the
// outcome; Result is the payload of a successful response and its concrete
// type depends on the request kind.
type Response struct {
	Status Status
	Error  string
	Result Result
}

// Result is implemented by every response payload. The interface is closed:
// only types in this package can satisfy it.
type Result interface {
	resultKind() string
}

func NewResponse(res Result) *Response {
	return &Response{Status: StatusSuccess, Result: res}
}

func NewErrorResponse(status Status, msg string) *Response {
	return &Response{Status: status, Error: msg}
}

type responseJSON struct {
	Status Status          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Kind   string          `json:"resultKind,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
}

func (rsp Response) MarshalJSON() ([]byte, error) {
	env := responseJSON{
		Status: rsp.Status,
		Error:  rsp.Error,
	}
	if rsp.Result != nil {
		buf, err := json.Marshal(rsp.Result)
		if err != nil {
			return nil, err
		}
		env.Kind = rsp.Result.resultKind()
		env.Result = buf
	}
	return json.Marshal(env)
}

func (rsp *Response) UnmarshalJSON(buf []byte) error {
	var env responseJSON
	err := json.Unmarshal(buf, &env)
	if err != nil {
		return err
	}
	rsp.Status = env.Status
	rsp.Error = env.Error
	rsp.Result = nil
	if env.Kind == "" {
		return nil
	}
	newResult, ok := resultFactories[env.Kind]
	if !ok {
		return fmt.Errorf("wire: unexpected result kind: %s", env.Kind)
	}
	rsp.Result = newResult()
	if env.Result == nil {
		return nil
	}
	return json.Unmarshal(env.Result, rsp.Result)
}

// HandshakeResult reports whether the server accepted the proposed protocol
// version. On rejection Version is the newest version the server supports
// so the client can retry.
type HandshakeResult struct {
	Accepted bool    `json:"accepted"`
	Version  Version `json:"version"`
	Server   string  `json:"server,omitempty"`
}

func (_ *HandshakeResult) resultKind() string {
	return "handshake"
}

// ExecuteResult is the result of a single statement: the first page of rows
// for a query, or the update count otherwise.
type ExecuteResult struct {
	CursorID    int64           `json:"cursorId"`
	IsQuery     bool            `json:"isQuery"`
	Rows        [][]interface{} `json:"rows,omitempty"`
	Last        bool            `json:"last"`
	UpdateCount int64           `json:"updateCount,omitempty"`
}

func (_ *ExecuteResult) resultKind() string {
	return "execute"
}

// StatementResult summarizes one statement of a multiple statement execute.
// CursorID is -1 when the statement was not a query; UpdateCount is -1 when
// it was.
type StatementResult struct {
	IsQuery     bool  `json:"isQuery"`
	UpdateCount int64 `json:"updateCount"`
	CursorID    int64 `json:"cursorId"`
}

// ExecuteMultiResult is the result of executing multiple statements at
// once. Rows and Last describe the first page of the first statement when
// that statement was a query.
type ExecuteMultiResult struct {
	Results []StatementResult `json:"results"`
	Rows    [][]interface{}   `json:"rows,omitempty"`
	Last    bool              `json:"last"`
}

func (_ *ExecuteMultiResult) resultKind() string {
	return "executeMulti"
}

type FetchResult struct {
	Rows [][]interface{} `json:"rows"`
	Last bool            `json:"last"`
}

func (_ *FetchResult) resultKind() string {
	return "fetch"
}

type QueryMetaResult struct {
	Columns []ColumnMeta `json:"columns"`
}

func (_ *QueryMetaResult) resultKind() string {
	return "queryMeta"
}

// BatchResult carries one update count per batch entry. A failed entry is
// reported as ExecuteFailed; ErrStatus and Error describe the first failure
// while the response envelope itself still reports success.
type BatchResult struct {
	UpdateCounts []int64 `json:"updateCounts,omitempty"`
	ErrStatus    Status  `json:"errStatus,omitempty"`
	Error        string  `json:"error,omitempty"`
}

func (_ *BatchResult) resultKind() string {
	return "batch"
}

type OrderedBatchResult struct {
	BatchResult
	Order int64 `json:"order"`
}

func (_ *OrderedBatchResult) resultKind() string {
	return "orderedBatch"
}

// BulkLoadAckResult tells the client to start sending the named file in
// batches of at most BatchSize bytes, addressed to CursorID.
type BulkLoadAckResult struct {
	CursorID  int64  `json:"cursorId"`
	FileName  string `json:"fileName"`
	BatchSize int    `json:"batchSize"`
}

func (_ *BulkLoadAckResult) resultKind() string {
	return "bulkLoadAck"
}

type TableMeta struct {
	Schema string `json:"schema"`
	Name   string `json:"name"`
	Type   string `json:"type"`
}

type MetaTablesResult struct {
	Tables []TableMeta `json:"tables,omitempty"`
}

func (_ *MetaTablesResult) resultKind() string {
	return "metaTables"
}

type ColumnMetaV1 struct {
	Schema string `json:"schema,omitempty"`
	Table  string `json:"table,omitempty"`
	Name   string `json:"name"`
	Type   string `json:"type"`
}

type ColumnMetaV2 struct {
	Schema   string `json:"schema,omitempty"`
	Table    string `json:"table,omitempty"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

type ColumnMeta struct {
	Schema    string `json:"schema,omitempty"`
	Table     string `json:"table,omitempty"`
	Name      string `json:"name"`
	Type      string `json:"type"`
	Nullable  bool   `json:"nullable"`
	Precision int    `json:"precision,omitempty"`
	Scale     int    `json:"scale,omitempty"`
	Default   string `json:"default,omitempty"`
}

// V1 and V2 downgrade column metadata for clients that negotiated an older
// protocol version.

func (cm ColumnMeta) V1() ColumnMetaV1 {
	return ColumnMetaV1{
		Schema: cm.Schema,
		Table:  cm.Table,
		Name:   cm.Name,
		Type:   cm.Type,
	}
}

func (cm ColumnMeta) V2() ColumnMetaV2 {
	return ColumnMetaV2{
		Schema:   cm.Schema,
		Table:    cm.Table,
		Name:     cm.Name,
		Type:     cm.Type,
		Nullable: cm.Nullable,
	}
}

type MetaColumnsResult struct {
	Columns []ColumnMetaV1 `json:"columns,omitempty"`
}

func (_ *MetaColumnsResult) resultKind() string {
	return "metaColumns"
}

type MetaColumnsV2Result struct {
	Columns []ColumnMetaV2 `json:"columns,omitempty"`
}

func (_ *MetaColumnsV2Result) resultKind() string {
	return "metaColumnsV2"
}

type MetaColumnsV3Result struct {
	Columns []ColumnMeta `json:"columns,omitempty"`
}

func (_ *MetaColumnsV3Result) resultKind() string {
	return "metaColumnsV3"
}

type IndexMeta struct {
	Schema  string   `json:"schema"`
	Table   string   `json:"table"`
	Name    string   `json:"name"`
	Unique  bool     `json:"unique"`
	Columns []string `json:"columns"`
}

type MetaIndexesResult struct {
	Indexes []IndexMeta `json:"indexes,omitempty"`
}

func (_ *MetaIndexesResult) resultKind() string {
	return "metaIndexes"
}

type ParameterMeta struct {
	TypeName string `json:"typeName"`
	Nullable bool   `json:"nullable"`
}

type MetaParamsResult struct {
	Params []ParameterMeta `json:"params,omitempty"`
}

func (_ *MetaParamsResult) resultKind() string {
	return "metaParams"
}

type PrimaryKeyMeta struct {
	Schema  string   `json:"schema"`
	Table   string   `json:"table"`
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
}

type MetaPrimaryKeysResult struct {
	PrimaryKeys []PrimaryKeyMeta `json:"primaryKeys,omitempty"`
}

func (_ *MetaPrimaryKeysResult) resultKind() string {
	return "metaPrimaryKeys"
}

type MetaSchemasResult struct {
	Schemas []string `json:"schemas,omitempty"`
}

func (_ *MetaSchemasResult) resultKind() string {
	return "metaSchemas"
}

var resultFactories = map[string]func() Result{
	"handshake":       func() Result { return &HandshakeResult{} },
	"execute":         func() Result { return &ExecuteResult{} },
	"executeMulti":    func() Result { return &ExecuteMultiResult{} },
	"fetch":           func() Result { return &FetchResult{} },
	"queryMeta":       func() Result { return &QueryMetaResult{} },
	"batch":           func() Result { return &BatchResult{} },
	"orderedBatch":    func() Result { return &OrderedBatchResult{} },
	"bulkLoadAck":     func() Result { return &BulkLoadAckResult{} },
	"metaTables":      func() Result { return &MetaTablesResult{} },
	"metaColumns":     func() Result { return &MetaColumnsResult{} },
	"metaColumnsV2":   func() Result { return &MetaColumnsV2Result{} },
	"metaColumnsV3":   func() Result { return &MetaColumnsV3Result{} },
	"metaIndexes":     func() Result { return &MetaIndexesResult{} },
	"metaParams":      func() Result { return &MetaParamsResult{} },
	"metaPrimaryKeys": func() Result { return &MetaPrimaryKeysResult{} },
	"metaSchemas":     func() Result { return &MetaSchemasResult{} },
}
