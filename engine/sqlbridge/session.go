package sqlbridge

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/leftmike/kumo/engine"
	"github.com/leftmike/kumo/wire"
)

type session struct {
	br     *Bridge
	cliCtx *engine.ClientContext
	tx     *sqlx.Tx
}

// execer is the part of sqlx shared by the pool and an open transaction.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryxContext(ctx context.Context, query string, args ...interface{}) (*sqlx.Rows, error)
	PreparexContext(ctx context.Context, query string) (*sqlx.Stmt, error)
}

func (ses *session) execer() execer {
	if ses.tx != nil {
		return ses.tx
	}
	return ses.br.db
}

func (ses *session) Execute(ctx context.Context, q engine.Query,
	opts engine.ExecuteOptions) ([]engine.Result, error) {

	stmts, err := splitStatements(q.SQL)
	if err != nil {
		return nil, err
	}
	if len(stmts) == 0 {
		return nil, fmt.Errorf("sqlbridge: empty statement")
	}
	if len(stmts) > 1 && !opts.MultiStatements {
		return nil, fmt.Errorf("sqlbridge: multiple statements not allowed")
	}

	results := make([]engine.Result, 0, len(stmts))
	for _, stmt := range stmts {
		res, err := ses.executeStmt(ctx, stmt, q.Args, opts)
		if err != nil {
			return nil, mapError(err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (ses *session) executeStmt(ctx context.Context, stmt string, args []interface{},
	opts engine.ExecuteOptions) (engine.Result, error) {

	kw := firstKeyword(stmt)
	switch kw {
	case "set":
		cmd, ok, err := parseSetStreaming(stmt)
		if err != nil {
			return engine.Result{}, err
		}
		if ok {
			if cmd.on {
				ses.cliCtx.EnableStreaming(cmd.ordered, cmd.batchSize)
			} else {
				ses.cliCtx.DisableStreaming()
			}
			return engine.Result{Tag: "SET"}, nil
		}
	case "copy":
		return ses.startCopy(ctx, stmt, opts)
	case "begin", "start":
		return ses.beginTx(ctx, opts)
	case "commit", "end":
		return ses.commitTx()
	case "rollback", "abort":
		return ses.rollbackTx()
	}

	if !opts.AutoCommit && ses.tx == nil {
		// The client turned autocommit off; statements run in a transaction
		// it will finish with COMMIT or ROLLBACK.
		err := ses.begin(ctx, opts)
		if err != nil {
			return engine.Result{}, err
		}
	}

	if queryKeyword(kw) {
		rows, err := ses.execer().QueryxContext(ctx, stmt, args...)
		if err != nil {
			return engine.Result{}, err
		}
		brows, err := newBridgeRows(rows)
		if err != nil {
			rows.Close()
			return engine.Result{}, err
		}
		return engine.Result{Rows: brows, Tag: strings.ToUpper(kw)}, nil
	}

	res, err := ses.execer().ExecContext(ctx, stmt, args...)
	if err != nil {
		return engine.Result{}, err
	}
	cnt, _ := res.RowsAffected() // not every driver counts affected rows
	return engine.Result{UpdateCount: cnt, Tag: strings.ToUpper(kw)}, nil
}

func (ses *session) begin(ctx context.Context, opts engine.ExecuteOptions) error {
	tx, err := ses.br.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if opts.Schema != "" {
		_, err = tx.ExecContext(ctx, "SET LOCAL search_path TO "+quoteIdent(opts.Schema))
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	ses.tx = tx
	return nil
}

func (ses *session) beginTx(ctx context.Context,
	opts engine.ExecuteOptions) (engine.Result, error) {

	if ses.tx != nil {
		switch ses.cliCtx.NestedTxMode {
		case wire.NestedTxIgnore:
			return engine.Result{Tag: "BEGIN"}, nil
		case wire.NestedTxError:
			return engine.Result{}, fmt.Errorf("sqlbridge: transaction already started")
		default:
			err := ses.tx.Commit()
			ses.tx = nil
			if err != nil {
				return engine.Result{}, err
			}
		}
	}

	err := ses.begin(ctx, opts)
	return engine.Result{Tag: "BEGIN"}, err
}

func (ses *session) commitTx() (engine.Result, error) {
	if ses.tx == nil {
		return engine.Result{Tag: "COMMIT"}, nil
	}

	err := ses.tx.Commit()
	ses.tx = nil
	return engine.Result{Tag: "COMMIT"}, err
}

func (ses *session) rollbackTx() (engine.Result, error) {
	if ses.tx == nil {
		return engine.Result{Tag: "ROLLBACK"}, nil
	}

	err := ses.tx.Rollback()
	ses.tx = nil
	return engine.Result{Tag: "ROLLBACK"}, err
}

func (ses *session) ExecuteBatch(ctx context.Context, sqlStmt string,
	argSets [][]interface{}, opts engine.ExecuteOptions) ([]int64, error) {

	if !opts.AutoCommit && ses.tx == nil {
		err := ses.begin(ctx, opts)
		if err != nil {
			return nil, mapError(err)
		}
	}

	stmt, err := ses.execer().PreparexContext(ctx, sqlStmt)
	if err != nil {
		return nil, mapError(err)
	}
	defer stmt.Close()

	counts := make([]int64, 0, len(argSets))
	for _, args := range argSets {
		res, err := stmt.ExecContext(ctx, args...)
		if err != nil {
			return nil, &engine.BatchError{Counts: counts, Err: mapError(err)}
		}
		cnt, _ := res.RowsAffected()
		counts = append(counts, cnt)
	}
	return counts, nil
}

func (ses *session) StreamBatch(ctx context.Context, sqlStmt string,
	argSets [][]interface{}, opts engine.ExecuteOptions) ([]int64, error) {

	// The upstream applies updates immediately; streaming batches
	// statements at the protocol level only.
	return ses.ExecuteBatch(ctx, sqlStmt, argSets, opts)
}

// ParameterMetadata counts the parameter markers of sqlStmt; the upstream
// is not asked to describe the statement, so the types are unknown.
func (ses *session) ParameterMetadata(ctx context.Context, schema,
	sqlStmt string) ([]wire.ParameterMeta, error) {

	n, err := countPlaceholders(sqlStmt)
	if err != nil {
		return nil, err
	}
	return make([]wire.ParameterMeta, n), nil
}

func (ses *session) ActiveTx() bool {
	return ses.tx != nil
}

func (ses *session) Close() error {
	if ses.tx != nil {
		err := ses.tx.Rollback()
		ses.tx = nil
		if err != nil && err != sql.ErrTxDone {
			return err
		}
	}
	return nil
}
