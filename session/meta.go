package session

import (
	"context"

	"github.com/leftmike/kumo/wire"
)

func (hdlr *Handler) metaTables(ctx context.Context, req *wire.MetaTablesRequest) *wire.Response {
	tbls, err := hdlr.ses.Tables(ctx, req.Schema, req.Table)
	if err != nil {
		return errorResponse(err)
	}
	return wire.NewResponse(&wire.MetaTablesResult{Tables: tbls})
}

// metaColumns serves column metadata in the richest form the negotiated
// protocol version understands.
func (hdlr *Handler) metaColumns(ctx context.Context, req *wire.MetaColumnsRequest) *wire.Response {
	cols, err := hdlr.ses.Columns(ctx, req.Schema, req.Table, req.Column)
	if err != nil {
		return errorResponse(err)
	}

	if hdlr.version.Compare(wire.Ver2_0) >= 0 {
		return wire.NewResponse(&wire.MetaColumnsV3Result{Columns: cols})
	}
	if hdlr.version.Compare(wire.Ver1_4) >= 0 {
		v2 := make([]wire.ColumnMetaV2, 0, len(cols))
		for _, cm := range cols {
			v2 = append(v2, cm.V2())
		}
		return wire.NewResponse(&wire.MetaColumnsV2Result{Columns: v2})
	}
	v1 := make([]wire.ColumnMetaV1, 0, len(cols))
	for _, cm := range cols {
		v1 = append(v1, cm.V1())
	}
	return wire.NewResponse(&wire.MetaColumnsResult{Columns: v1})
}

func (hdlr *Handler) metaIndexes(ctx context.Context, req *wire.MetaIndexesRequest) *wire.Response {
	idxs, err := hdlr.ses.Indexes(ctx, req.Schema, req.Table)
	if err != nil {
		return errorResponse(err)
	}
	return wire.NewResponse(&wire.MetaIndexesResult{Indexes: idxs})
}

func (hdlr *Handler) metaParams(ctx context.Context, req *wire.MetaParamsRequest) *wire.Response {
	params, err := hdlr.ses.ParameterMetadata(ctx, req.Schema, req.SQL)
	if err != nil {
		return errorResponse(err)
	}
	return wire.NewResponse(&wire.MetaParamsResult{Params: params})
}

func (hdlr *Handler) metaPrimaryKeys(ctx context.Context,
	req *wire.MetaPrimaryKeysRequest) *wire.Response {

	pks, err := hdlr.ses.PrimaryKeys(ctx, req.Schema, req.Table)
	if err != nil {
		return errorResponse(err)
	}
	return wire.NewResponse(&wire.MetaPrimaryKeysResult{PrimaryKeys: pks})
}

func (hdlr *Handler) metaSchemas(ctx context.Context, req *wire.MetaSchemasRequest) *wire.Response {
	schemas, err := hdlr.ses.Schemas(ctx, req.Schema)
	if err != nil {
		return errorResponse(err)
	}
	return wire.NewResponse(&wire.MetaSchemasResult{Schemas: schemas})
}
