package sqlbridge

import (
	"context"

	"github.com/leftmike/kumo/wire"
)

// The catalog queries use information_schema where it covers the request.
// Index metadata has no portable view, so it comes from pg_catalog;
// upstreams without pg_catalog fail the indexes request and nothing else.

const (
	tablesQuery = `
SELECT table_schema, table_name, table_type FROM information_schema.tables
 WHERE table_schema LIKE ? AND table_name LIKE ?
 ORDER BY table_schema, table_name`

	columnsQuery = `
SELECT table_schema, table_name, column_name, data_type, is_nullable,
       COALESCE(character_maximum_length, numeric_precision, 0),
       COALESCE(numeric_scale, 0), COALESCE(column_default, '')
  FROM information_schema.columns
 WHERE table_schema LIKE ? AND table_name LIKE ? AND column_name LIKE ?
 ORDER BY table_schema, table_name, ordinal_position`

	indexesQuery = `
SELECT n.nspname, t.relname, i.relname, ix.indisunique, a.attname
  FROM pg_catalog.pg_index ix
  JOIN pg_catalog.pg_class i ON i.oid = ix.indexrelid
  JOIN pg_catalog.pg_class t ON t.oid = ix.indrelid
  JOIN pg_catalog.pg_namespace n ON n.oid = t.relnamespace
  JOIN pg_catalog.pg_attribute a ON a.attrelid = t.oid AND a.attnum = ANY(ix.indkey)
 WHERE n.nspname LIKE ? AND t.relname LIKE ?
 ORDER BY n.nspname, t.relname, i.relname, a.attnum`

	primaryKeysQuery = `
SELECT tc.table_schema, tc.table_name, tc.constraint_name, kcu.column_name
  FROM information_schema.table_constraints tc
  JOIN information_schema.key_column_usage kcu
    ON kcu.constraint_schema = tc.constraint_schema
   AND kcu.constraint_name = tc.constraint_name
 WHERE tc.constraint_type = 'PRIMARY KEY'
   AND tc.table_schema LIKE ? AND tc.table_name LIKE ?
 ORDER BY tc.table_schema, tc.table_name, kcu.ordinal_position`

	schemasQuery = `
SELECT schema_name FROM information_schema.schemata
 WHERE schema_name LIKE ? ORDER BY schema_name`
)

func likePattern(pat string) string {
	if pat == "" {
		return "%"
	}
	return pat
}

func (ses *session) Tables(ctx context.Context, schema,
	table string) ([]wire.TableMeta, error) {

	q := ses.br.db.Rebind(tablesQuery)
	rows, err := ses.execer().QueryxContext(ctx, q, likePattern(schema), likePattern(table))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var tbls []wire.TableMeta
	for rows.Next() {
		var tm wire.TableMeta
		err = rows.Scan(&tm.Schema, &tm.Name, &tm.Type)
		if err != nil {
			return nil, mapError(err)
		}
		if tm.Type == "BASE TABLE" {
			tm.Type = "TABLE"
		}
		tbls = append(tbls, tm)
	}
	if err = rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return tbls, nil
}

func (ses *session) Columns(ctx context.Context, schema, table,
	column string) ([]wire.ColumnMeta, error) {

	q := ses.br.db.Rebind(columnsQuery)
	rows, err := ses.execer().QueryxContext(ctx, q, likePattern(schema),
		likePattern(table), likePattern(column))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var cols []wire.ColumnMeta
	for rows.Next() {
		var cm wire.ColumnMeta
		var nullable string
		err = rows.Scan(&cm.Schema, &cm.Table, &cm.Name, &cm.Type, &nullable,
			&cm.Precision, &cm.Scale, &cm.Default)
		if err != nil {
			return nil, mapError(err)
		}
		cm.Nullable = nullable == "YES"
		cols = append(cols, cm)
	}
	if err = rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return cols, nil
}

func (ses *session) Indexes(ctx context.Context, schema,
	table string) ([]wire.IndexMeta, error) {

	q := ses.br.db.Rebind(indexesQuery)
	rows, err := ses.execer().QueryxContext(ctx, q, likePattern(schema), likePattern(table))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var idxs []wire.IndexMeta
	for rows.Next() {
		var im wire.IndexMeta
		var col string
		err = rows.Scan(&im.Schema, &im.Table, &im.Name, &im.Unique, &col)
		if err != nil {
			return nil, mapError(err)
		}

		last := len(idxs) - 1
		if last >= 0 && idxs[last].Schema == im.Schema && idxs[last].Table == im.Table &&
			idxs[last].Name == im.Name {

			idxs[last].Columns = append(idxs[last].Columns, col)
		} else {
			im.Columns = []string{col}
			idxs = append(idxs, im)
		}
	}
	if err = rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return idxs, nil
}

func (ses *session) PrimaryKeys(ctx context.Context, schema,
	table string) ([]wire.PrimaryKeyMeta, error) {

	q := ses.br.db.Rebind(primaryKeysQuery)
	rows, err := ses.execer().QueryxContext(ctx, q, likePattern(schema), likePattern(table))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var pks []wire.PrimaryKeyMeta
	for rows.Next() {
		var pk wire.PrimaryKeyMeta
		var col string
		err = rows.Scan(&pk.Schema, &pk.Table, &pk.Name, &col)
		if err != nil {
			return nil, mapError(err)
		}

		last := len(pks) - 1
		if last >= 0 && pks[last].Schema == pk.Schema && pks[last].Table == pk.Table &&
			pks[last].Name == pk.Name {

			pks[last].Columns = append(pks[last].Columns, col)
		} else {
			pk.Columns = []string{col}
			pks = append(pks, pk)
		}
	}
	if err = rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return pks, nil
}

func (ses *session) Schemas(ctx context.Context, schema string) ([]string, error) {
	q := ses.br.db.Rebind(schemasQuery)
	rows, err := ses.execer().QueryxContext(ctx, q, likePattern(schema))
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var schemas []string
	for rows.Next() {
		var name string
		err = rows.Scan(&name)
		if err != nil {
			return nil, mapError(err)
		}
		schemas = append(schemas, name)
	}
	if err = rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return schemas, nil
}
