package sqlbridge

import (
	"context"
	"io"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/leftmike/kumo/wire"
)

type bridgeRows struct {
	rows *sqlx.Rows
	cols []wire.ColumnMeta
}

func newBridgeRows(rows *sqlx.Rows) (*bridgeRows, error) {
	cts, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	cols := make([]wire.ColumnMeta, 0, len(cts))
	for _, ct := range cts {
		cm := wire.ColumnMeta{
			Name: ct.Name(),
			Type: strings.ToLower(ct.DatabaseTypeName()),
		}
		if nullable, ok := ct.Nullable(); ok {
			cm.Nullable = nullable
		}
		if prec, scale, ok := ct.DecimalSize(); ok {
			cm.Precision = int(prec)
			cm.Scale = int(scale)
		} else if length, ok := ct.Length(); ok {
			cm.Precision = int(length)
		}
		cols = append(cols, cm)
	}
	return &bridgeRows{rows: rows, cols: cols}, nil
}

func (brows *bridgeRows) Columns() []wire.ColumnMeta {
	return brows.cols
}

func (brows *bridgeRows) Next(ctx context.Context, dest []interface{}) error {
	if err := ctx.Err(); err != nil {
		return mapError(err)
	}

	if !brows.rows.Next() {
		err := brows.rows.Err()
		if err != nil {
			return mapError(err)
		}
		return io.EOF
	}

	vals, err := brows.rows.SliceScan()
	if err != nil {
		return mapError(err)
	}
	for idx := range dest {
		if idx < len(vals) {
			dest[idx] = downstreamValue(vals[idx])
		}
	}
	return nil
}

func (brows *bridgeRows) Close() error {
	return brows.rows.Close()
}

// downstreamValue converts driver values to types the wire codec carries.
func downstreamValue(val interface{}) interface{} {
	if b, ok := val.([]byte); ok {
		return string(b)
	}
	return val
}
