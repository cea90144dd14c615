// Package wire defines the thin client protocol: request and response
// messages, status codes, protocol versions, and the frame codec.
//
// Every frame is a 1 byte message kind, a 4 byte big-endian body length,
// and a JSON body.
package wire

import (
	"fmt"
)

type Kind int

const (
	Handshake Kind = iota + 1
	Execute
	Fetch
	CloseCursor
	QueryMeta
	Batch
	OrderedBatch
	BulkLoadBatch
	Cancel
	MetaTables
	MetaColumns
	MetaIndexes
	MetaParams
	MetaPrimaryKeys
	MetaSchemas

	// Reply is the kind used by every server to client frame.
	Reply Kind = 30
)

func (k Kind) String() string {
	switch k {
	case Handshake:
		return "HANDSHAKE"
	case Execute:
		return "EXECUTE"
	case Fetch:
		return "FETCH"
	case CloseCursor:
		return "CLOSE"
	case QueryMeta:
		return "QUERY_META"
	case Batch:
		return "BATCH"
	case OrderedBatch:
		return "ORDERED_BATCH"
	case BulkLoadBatch:
		return "BULK_LOAD_BATCH"
	case Cancel:
		return "CANCEL"
	case MetaTables:
		return "META_TABLES"
	case MetaColumns:
		return "META_COLUMNS"
	case MetaIndexes:
		return "META_INDEXES"
	case MetaParams:
		return "META_PARAMS"
	case MetaPrimaryKeys:
		return "META_PRIMARY_KEYS"
	case MetaSchemas:
		return "META_SCHEMAS"
	case Reply:
		return "REPLY"
	}

	return fmt.Sprintf("KIND(%d)", int(k))
}

type Status int

const (
	StatusSuccess        Status = 0
	StatusUnknown        Status = 1
	StatusUnsupported    Status = 2
	StatusCancelled      Status = 3
	StatusSerialization  Status = 4
	StatusTxCompleted    Status = 5
	StatusTxTypeMismatch Status = 6
	StatusDuplicateKey   Status = 7
)

func (st Status) String() string {
	switch st {
	case StatusSuccess:
		return "success"
	case StatusUnknown:
		return "unknown error"
	case StatusUnsupported:
		return "unsupported operation"
	case StatusCancelled:
		return "query cancelled"
	case StatusSerialization:
		return "transaction serialization conflict"
	case StatusTxCompleted:
		return "transaction already completed"
	case StatusTxTypeMismatch:
		return "transaction type mismatch"
	case StatusDuplicateKey:
		return "duplicate key"
	}

	return fmt.Sprintf("status(%d)", int(st))
}

// ExecuteFailed is the update count recorded for a statement in a failed
// sub-batch when the engine reports no per-statement counts.
const ExecuteFailed int64 = -3

type Version struct {
	Major uint16 `json:"major"`
	Minor uint16 `json:"minor"`
}

var (
	Ver1_0 = Version{1, 0}

	// Ver1_4 extended the columns metadata result with nullability.
	Ver1_4 = Version{1, 4}

	// Ver2_0 added query cancellation and precision, scale, and default
	// in the columns metadata result.
	Ver2_0 = Version{2, 0}

	CurrentVersion = Ver2_0

	supportedVersions = []Version{Ver1_0, Ver1_4, Ver2_0}
)

func (v Version) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compare returns -1, 0, or 1 as v is older than, the same as, or newer
// than v2.
func (v Version) Compare(v2 Version) int {
	if v.Major != v2.Major {
		if v.Major < v2.Major {
			return -1
		}
		return 1
	}
	if v.Minor != v2.Minor {
		if v.Minor < v2.Minor {
			return -1
		}
		return 1
	}
	return 0
}

func SupportedVersion(v Version) bool {
	for _, sv := range supportedVersions {
		if v == sv {
			return true
		}
	}
	return false
}

type StatementType int

const (
	AnyStatement StatementType = iota
	QueryStatement
	UpdateStatement
)

func (st StatementType) String() string {
	switch st {
	case AnyStatement:
		return "any"
	case QueryStatement:
		return "query"
	case UpdateStatement:
		return "update"
	}

	return fmt.Sprintf("statement(%d)", int(st))
}

// NestedTxMode selects how a nested BEGIN is handled by the engine.
type NestedTxMode int

const (
	NestedTxCommit NestedTxMode = iota + 1
	NestedTxIgnore
	NestedTxError
)

func (m NestedTxMode) String() string {
	switch m {
	case NestedTxCommit:
		return "commit"
	case NestedTxIgnore:
		return "ignore"
	case NestedTxError:
		return "error"
	}

	return fmt.Sprintf("nested-tx(%d)", int(m))
}

type BulkLoadCommand int

const (
	BulkLoadContinue BulkLoadCommand = iota + 1
	BulkLoadFinishedEOF
	BulkLoadFinishedError
)

func (cmd BulkLoadCommand) String() string {
	switch cmd {
	case BulkLoadContinue:
		return "continue"
	case BulkLoadFinishedEOF:
		return "finished-eof"
	case BulkLoadFinishedError:
		return "finished-error"
	}

	return fmt.Sprintf("bulk-load(%d)", int(cmd))
}
