// Package sqlbridge implements the kumo engine contract on top of any
// database/sql driver. Statements execute against the upstream database;
// catalog metadata is served from information_schema; the gateway level
// commands are handled here: SET STREAMING, transaction control, and COPY
// bulk loads.
package sqlbridge

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/leftmike/kumo/engine"
)

type Options struct {
	// MaxConns limits the upstream connections held by the pool; zero means
	// no limit.
	MaxConns int

	// Serial forces sessions to execute one request at a time; set it when
	// the upstream cannot handle concurrent statements from one client.
	Serial bool
}

type Bridge struct {
	db     *sqlx.DB
	serial bool
}

// NewEngine opens an upstream database handle. The handle is a pool and
// connects lazily; use Ping to check the upstream is reachable.
func NewEngine(driver, dsn string, opts Options) (*Bridge, error) {
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlbridge: open %s: %s", driver, err)
	}
	if opts.MaxConns > 0 {
		db.SetMaxOpenConns(opts.MaxConns)
	}
	return &Bridge{db: db, serial: opts.Serial}, nil
}

func (br *Bridge) Ping(ctx context.Context) error {
	return br.db.PingContext(ctx)
}

func (br *Bridge) Close() error {
	return br.db.Close()
}

func (br *Bridge) Serial() bool {
	return br.serial
}

func (br *Bridge) NewSession(ctx context.Context,
	cliCtx *engine.ClientContext) (engine.Session, error) {

	return &session{br: br, cliCtx: cliCtx}, nil
}
