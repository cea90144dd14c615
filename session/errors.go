package session

import (
	"context"
	"errors"

	"github.com/leftmike/kumo/engine"
	"github.com/leftmike/kumo/wire"
)

const cancelledMessage = "session: query was cancelled"

func cancelledResponse() *wire.Response {
	return wire.NewErrorResponse(wire.StatusCancelled, cancelledMessage)
}

// statusOf maps an engine failure to a wire status and a client message;
// every error maps to some status.
func statusOf(err error) (wire.Status, string) {
	var sqlErr *engine.SQLError
	if errors.As(err, &sqlErr) {
		return sqlErr.Status, sqlErr.Error()
	}
	if errors.Is(err, context.Canceled) {
		return wire.StatusCancelled, cancelledMessage
	}
	return wire.StatusUnknown, err.Error()
}

func errorResponse(err error) *wire.Response {
	status, msg := statusOf(err)
	return wire.NewErrorResponse(status, msg)
}
