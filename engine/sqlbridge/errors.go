package sqlbridge

import (
	"context"
	"errors"
	"strings"

	"github.com/lib/pq"

	"github.com/leftmike/kumo/engine"
	"github.com/leftmike/kumo/wire"
)

// sqlState matches drivers that report a SQLSTATE without importing them.
type sqlState interface {
	SQLState() string
}

// mapError converts upstream and context errors into the engine error
// taxonomy. Errors already carrying a status pass through unchanged.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	var sqlErr *engine.SQLError
	if errors.As(err, &sqlErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &engine.SQLError{Status: wire.StatusCancelled, Err: err}
	}

	var code string
	var pqErr *pq.Error
	var st sqlState
	if errors.As(err, &pqErr) {
		code = string(pqErr.Code)
	} else if errors.As(err, &st) {
		code = st.SQLState()
	}
	if code != "" {
		return &engine.SQLError{Status: statusForCode(code), Err: err}
	}
	return err
}

func statusForCode(code string) wire.Status {
	switch code {
	case "40001", "40P01":
		return wire.StatusSerialization
	case "23505":
		return wire.StatusDuplicateKey
	case "57014":
		return wire.StatusCancelled
	case "0A000":
		return wire.StatusUnsupported
	}
	if strings.HasPrefix(code, "25") {
		return wire.StatusTxCompleted
	}
	return wire.StatusUnknown
}
