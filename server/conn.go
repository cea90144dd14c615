package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/kumo/engine"
	"github.com/leftmike/kumo/session"
	"github.com/leftmike/kumo/wire"
)

type Config struct {
	Address string
}

// ListenAndServe serves the native wire protocol on cfg.Address until the
// server shuts down.
func (svr *Server) ListenAndServe(cfg Config) error {
	l, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return err
	}
	return svr.Serve(l)
}

func (svr *Server) Serve(l net.Listener) error {
	err := svr.addListener(l)
	if err != nil {
		return err
	}

	for {
		conn, err := l.Accept()
		if err != nil {
			svr.mutex.Lock()
			if svr.shutdown {
				err = ErrServerClosed
			}
			svr.mutex.Unlock()
			log.WithField("error", err.Error()).Error("accept")
			return err
		}

		entry := log.WithFields(log.Fields{
			"addr": conn.RemoteAddr().String(),
		})
		entry.Info("connected")

		go svr.handleConn(conn, entry)
	}
}

func (svr *Server) handleConn(conn net.Conn, entry *log.Entry) {
	atomic.AddInt32(&svr.connCount, 1)
	defer atomic.AddInt32(&svr.connCount, -1)

	defer entry.Info("disconnected")

	if !svr.trackConn(conn, true) {
		conn.Close()
		return
	}
	defer func() {
		if svr.trackConn(conn, false) {
			conn.Close()
		}
	}()

	cliCtx, ver, err := svr.handshake(conn, entry)
	if err != nil {
		if err != io.EOF {
			entry.WithField("error", err.Error()).Error("handshake")
		}
		return
	}
	entry = entry.WithField("version", ver)
	entry.Debug("handshake accepted")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := &connSender{conn: conn, entry: entry}
	hdlr, err := session.NewHandler(ctx, svr.Engine, cliCtx, sender,
		session.Config{
			Version:    ver,
			MaxCursors: svr.MaxCursors,
		})
	if err != nil {
		entry.WithField("error", err.Error()).Error("new session")
		sender.Send(wire.NewErrorResponse(wire.StatusUnknown, err.Error()))
		return
	}

	svr.serveRequests(ctx, conn, hdlr, sender, entry)

	// Stop in flight requests before waiting for them.
	cancel()
	hdlr.Close()
}

// handshake negotiates the protocol version. An unsupported proposal is
// rejected with the newest version the server speaks; the client may retry
// on the same connection.
func (svr *Server) handshake(conn net.Conn, entry *log.Entry) (*engine.ClientContext,
	wire.Version, error) {

	for {
		req, err := wire.ReadRequest(conn)
		if err != nil {
			return nil, wire.Version{}, err
		}
		hr, ok := req.(*wire.HandshakeRequest)
		if !ok {
			return nil, wire.Version{},
				fmt.Errorf("server: expected a handshake request: %s", req.Kind())
		}

		if !wire.SupportedVersion(hr.Version) {
			entry.WithField("version", hr.Version).Info("handshake version rejected")
			err = wire.WriteResponse(conn,
				wire.NewResponse(&wire.HandshakeResult{
					Version: wire.CurrentVersion,
					Server:  svr.serverName(),
				}))
			if err != nil {
				return nil, wire.Version{}, err
			}
			continue
		}

		err = wire.WriteResponse(conn,
			wire.NewResponse(&wire.HandshakeResult{
				Accepted: true,
				Version:  hr.Version,
				Server:   svr.serverName(),
			}))
		if err != nil {
			return nil, wire.Version{}, err
		}

		cliCtx := engine.NewClientContext()
		cliCtx.Schema = hr.Schema
		cliCtx.DistributedJoins = hr.DistributedJoins
		cliCtx.EnforceJoinOrder = hr.EnforceJoinOrder
		cliCtx.Collocated = hr.Collocated
		cliCtx.ReplicatedOnly = hr.ReplicatedOnly
		cliCtx.Lazy = hr.Lazy
		cliCtx.SkipReducerOnUpdate = hr.SkipReducerOnUpdate
		cliCtx.AutoCloseCursors = hr.AutoCloseCursors
		cliCtx.NestedTxMode = hr.NestedTxMode
		return cliCtx, hr.Version, nil
	}
}

// connSender serializes response frames onto the connection. Handle
// responses and out of band ordered batch results are sent from different
// goroutines.
type connSender struct {
	mutex sync.Mutex
	conn  net.Conn
	entry *log.Entry
}

func (snd *connSender) Send(rsp *wire.Response) {
	snd.mutex.Lock()
	defer snd.mutex.Unlock()

	err := wire.WriteResponse(snd.conn, rsp)
	if err != nil {
		snd.entry.WithField("error", err.Error()).Error("send response")
	}
}

// serveRequests reads frames until the connection closes. Cancels are
// handled on the read loop so they can interrupt the request executing on
// the processor goroutine; everything else executes in arrival order.
func (svr *Server) serveRequests(ctx context.Context, conn net.Conn,
	hdlr *session.Handler, sender *connSender, entry *log.Entry) {

	reqs := make(chan wire.Request, 32)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()

		for req := range reqs {
			rsp := hdlr.Handle(ctx, req)
			if rsp != nil {
				sender.Send(rsp)
			}
		}
	}()

	for {
		req, err := wire.ReadRequest(conn)
		if err != nil {
			if err != io.EOF {
				entry.WithField("error", err.Error()).Error("read request")
			}
			break
		}

		if req.Kind() == wire.Cancel {
			rsp := hdlr.Handle(ctx, req)
			if rsp != nil {
				sender.Send(rsp)
			}
			continue
		}

		// Register before queueing so a cancel read later always observes
		// the request.
		hdlr.Register(ctx, req)
		reqs <- req
	}

	close(reqs)
	wg.Wait()
}
