package client

import (
	"context"
	"fmt"

	"github.com/leftmike/kumo/wire"
)

// The catalog operations below take SQL LIKE patterns; an empty pattern
// matches everything.

// Tables lists the tables matching the schema and table patterns.
func (cn *Conn) Tables(ctx context.Context, schema, table string) ([]wire.TableMeta, error) {
	rsp, err := cn.call(ctx,
		&wire.MetaTablesRequest{ID: cn.nextID(), Schema: schema, Table: table})
	if err != nil {
		return nil, err
	}
	mt, ok := rsp.Result.(*wire.MetaTablesResult)
	if !ok {
		return nil, fmt.Errorf("client: expected table metadata: %#v", rsp.Result)
	}
	return mt.Tables, nil
}

// Columns lists the columns matching the schema, table, and column
// patterns. Older protocol versions carry less; missing fields are left
// zero.
func (cn *Conn) Columns(ctx context.Context, schema, table,
	column string) ([]wire.ColumnMeta, error) {

	rsp, err := cn.call(ctx, &wire.MetaColumnsRequest{
		ID:     cn.nextID(),
		Schema: schema,
		Table:  table,
		Column: column,
	})
	if err != nil {
		return nil, err
	}

	switch res := rsp.Result.(type) {
	case *wire.MetaColumnsResult:
		cols := make([]wire.ColumnMeta, 0, len(res.Columns))
		for _, cm := range res.Columns {
			cols = append(cols, wire.ColumnMeta{
				Schema: cm.Schema,
				Table:  cm.Table,
				Name:   cm.Name,
				Type:   cm.Type,
			})
		}
		return cols, nil
	case *wire.MetaColumnsV2Result:
		cols := make([]wire.ColumnMeta, 0, len(res.Columns))
		for _, cm := range res.Columns {
			cols = append(cols, wire.ColumnMeta{
				Schema:   cm.Schema,
				Table:    cm.Table,
				Name:     cm.Name,
				Type:     cm.Type,
				Nullable: cm.Nullable,
			})
		}
		return cols, nil
	case *wire.MetaColumnsV3Result:
		return res.Columns, nil
	}
	return nil, fmt.Errorf("client: expected column metadata: %#v", rsp.Result)
}

// Indexes lists the indexes of the tables matching the schema and table
// patterns.
func (cn *Conn) Indexes(ctx context.Context, schema, table string) ([]wire.IndexMeta, error) {
	rsp, err := cn.call(ctx,
		&wire.MetaIndexesRequest{ID: cn.nextID(), Schema: schema, Table: table})
	if err != nil {
		return nil, err
	}
	mi, ok := rsp.Result.(*wire.MetaIndexesResult)
	if !ok {
		return nil, fmt.Errorf("client: expected index metadata: %#v", rsp.Result)
	}
	return mi.Indexes, nil
}

// PrimaryKeys lists the primary keys of the tables matching the schema and
// table patterns.
func (cn *Conn) PrimaryKeys(ctx context.Context, schema,
	table string) ([]wire.PrimaryKeyMeta, error) {

	rsp, err := cn.call(ctx,
		&wire.MetaPrimaryKeysRequest{ID: cn.nextID(), Schema: schema, Table: table})
	if err != nil {
		return nil, err
	}
	mpk, ok := rsp.Result.(*wire.MetaPrimaryKeysResult)
	if !ok {
		return nil, fmt.Errorf("client: expected primary key metadata: %#v", rsp.Result)
	}
	return mpk.PrimaryKeys, nil
}

// Schemas lists the schemas matching the pattern.
func (cn *Conn) Schemas(ctx context.Context, schema string) ([]string, error) {
	rsp, err := cn.call(ctx, &wire.MetaSchemasRequest{ID: cn.nextID(), Schema: schema})
	if err != nil {
		return nil, err
	}
	ms, ok := rsp.Result.(*wire.MetaSchemasResult)
	if !ok {
		return nil, fmt.Errorf("client: expected schema metadata: %#v", rsp.Result)
	}
	return ms.Schemas, nil
}

// ParameterMetadata describes the parameter markers of sql without
// executing it.
func (cn *Conn) ParameterMetadata(ctx context.Context, schema,
	sql string) ([]wire.ParameterMeta, error) {

	rsp, err := cn.call(ctx,
		&wire.MetaParamsRequest{ID: cn.nextID(), Schema: schema, SQL: sql})
	if err != nil {
		return nil, err
	}
	mp, ok := rsp.Result.(*wire.MetaParamsResult)
	if !ok {
		return nil, fmt.Errorf("client: expected parameter metadata: %#v", rsp.Result)
	}
	return mp.Params, nil
}
