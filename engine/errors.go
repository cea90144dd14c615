package engine

import (
	"github.com/leftmike/kumo/wire"
)

// SQLError classifies a failed statement with a protocol status.
type SQLError struct {
	Status wire.Status
	Err    error
}

func (err *SQLError) Error() string {
	return err.Err.Error()
}

func (err *SQLError) Unwrap() error {
	return err.Err
}

// BatchError reports a batch that failed part way through; Counts holds the
// update counts of the statements that were applied.
type BatchError struct {
	Counts []int64
	Err    error
}

func (err *BatchError) Error() string {
	return err.Err.Error()
}

func (err *BatchError) Unwrap() error {
	return err.Err
}
