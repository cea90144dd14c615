// Package client implements the thin client side of the wire protocol: a
// connection handshakes once, then issues requests and reads their
// responses over a single TCP stream. The console and the tests use it; so
// can any program that wants kumo results without a database/sql driver.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/kumo/engine"
	"github.com/leftmike/kumo/wire"
)

const defaultPageSize = 1024

// Config configures a connection. Address is required; the zero value of
// every other field selects a default.
type Config struct {
	Address string

	// Version is proposed during the handshake; the current protocol
	// version when zero. If the server rejects it, Connect retries with
	// the version the server counters with, when this client supports it.
	Version wire.Version

	// Schema is the default schema of the session.
	Schema string

	DistributedJoins    bool
	EnforceJoinOrder    bool
	Collocated          bool
	ReplicatedOnly      bool
	Lazy                bool
	SkipReducerOnUpdate bool

	// AutoCloseCursors asks the server to drop a cursor as soon as its
	// final page has been sent. Column metadata is unavailable for query
	// results that fit in a single page.
	AutoCloseCursors bool

	NestedTxMode wire.NestedTxMode

	// PageSize bounds the rows fetched per round trip.
	PageSize int

	// MaxRows truncates every query result; zero means unlimited.
	MaxRows int
}

// Conn is a client connection. A Conn may be shared by goroutines:
// requests round trip one at a time, and only cancels overtake them.
type Conn struct {
	conn      net.Conn
	version   wire.Version
	server    string
	pageSize  int
	maxRows   int
	autoClose bool

	// callMutex serializes round trips; writeMutex serializes frames so a
	// cancel can cut in while a call waits on its response.
	callMutex  sync.Mutex
	writeMutex sync.Mutex

	mutex  sync.Mutex
	lastID int64
}

// Connect dials the server and negotiates a protocol version.
func Connect(ctx context.Context, cfg Config) (*Conn, error) {
	ver := cfg.Version
	if ver == (wire.Version{}) {
		ver = wire.CurrentVersion
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s failed: %s", cfg.Address, err)
	}

	cn := &Conn{
		conn:      conn,
		pageSize:  cfg.PageSize,
		maxRows:   cfg.MaxRows,
		autoClose: cfg.AutoCloseCursors,
	}
	if cn.pageSize <= 0 {
		cn.pageSize = defaultPageSize
	}

	for {
		hr, err := cn.handshake(ctx, cfg, ver)
		if err != nil {
			conn.Close()
			return nil, err
		}
		if hr.Accepted {
			cn.version = hr.Version
			cn.server = hr.Server
			return cn, nil
		}

		if hr.Version == ver || !wire.SupportedVersion(hr.Version) {
			conn.Close()
			return nil, fmt.Errorf("client: %s: version %s not supported by server",
				cfg.Address, ver)
		}
		log.WithFields(log.Fields{
			"proposed": ver.String(),
			"server":   hr.Version.String(),
		}).Info("retrying handshake")
		ver = hr.Version
	}
}

func (cn *Conn) handshake(ctx context.Context, cfg Config,
	ver wire.Version) (*wire.HandshakeResult, error) {

	err := wire.WriteRequest(cn.conn, &wire.HandshakeRequest{
		Version:             ver,
		Schema:              cfg.Schema,
		DistributedJoins:    cfg.DistributedJoins,
		EnforceJoinOrder:    cfg.EnforceJoinOrder,
		Collocated:          cfg.Collocated,
		ReplicatedOnly:      cfg.ReplicatedOnly,
		Lazy:                cfg.Lazy,
		SkipReducerOnUpdate: cfg.SkipReducerOnUpdate,
		AutoCloseCursors:    cfg.AutoCloseCursors,
		NestedTxMode:        cfg.NestedTxMode,
	})
	if err != nil {
		return nil, err
	}
	rsp, err := cn.read(ctx)
	if err != nil {
		return nil, err
	}
	if rsp.Status != wire.StatusSuccess {
		return nil, statusError(rsp)
	}
	hr, ok := rsp.Result.(*wire.HandshakeResult)
	if !ok {
		return nil, fmt.Errorf("client: expected a handshake result: %#v", rsp.Result)
	}
	return hr, nil
}

// Close closes the connection; the server drops the session and any open
// cursors with it.
func (cn *Conn) Close() error {
	return cn.conn.Close()
}

// Version returns the negotiated protocol version.
func (cn *Conn) Version() wire.Version {
	return cn.version
}

// Server returns the name the server announced during the handshake.
func (cn *Conn) Server() string {
	return cn.server
}

// RequestID allocates a request id. Pass it as Options.RequestID so a
// concurrent Cancel can target the request.
func (cn *Conn) RequestID() int64 {
	return cn.nextID()
}

func (cn *Conn) nextID() int64 {
	cn.mutex.Lock()
	defer cn.mutex.Unlock()

	cn.lastID += 1
	return cn.lastID
}

func (cn *Conn) write(req wire.Request) error {
	cn.writeMutex.Lock()
	defer cn.writeMutex.Unlock()

	return wire.WriteRequest(cn.conn, req)
}

// read reads one response, honoring ctx. An abandoned read leaves the
// stream mid frame, so cancellation closes the connection.
func (cn *Conn) read(ctx context.Context) (*wire.Response, error) {
	if ctx.Done() == nil {
		return wire.ReadResponse(cn.conn)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)

		select {
		case <-ctx.Done():
			cn.conn.SetReadDeadline(time.Now())
		case <-stop:
		}
	}()

	rsp, err := wire.ReadResponse(cn.conn)

	close(stop)
	<-done
	cn.conn.SetReadDeadline(time.Time{})

	if err != nil && ctx.Err() != nil {
		cn.conn.Close()
		return nil, ctx.Err()
	}
	return rsp, err
}

// call sends req and waits for its response; an error status becomes an
// engine.SQLError.
func (cn *Conn) call(ctx context.Context, req wire.Request) (*wire.Response, error) {
	cn.callMutex.Lock()
	defer cn.callMutex.Unlock()

	err := cn.write(req)
	if err != nil {
		return nil, err
	}

	rsp, err := cn.read(ctx)
	if err != nil {
		return nil, err
	}
	if rsp.Status != wire.StatusSuccess {
		return nil, statusError(rsp)
	}
	return rsp, nil
}

// Cancel interrupts the request with id targetID. It does not wait for
// anything: the cancelled request reports the cancellation through its own
// response.
func (cn *Conn) Cancel(targetID int64) error {
	return cn.write(&wire.CancelRequest{ID: cn.nextID(), TargetID: targetID})
}

func statusError(rsp *wire.Response) error {
	return &engine.SQLError{Status: rsp.Status, Err: errors.New(rsp.Error)}
}
