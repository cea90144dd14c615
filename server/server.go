// Package server accepts client connections and runs the request loop of
// each. It serves the native wire protocol, a PostgreSQL compatible
// listener for standard tools, and an SSH console for administration.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/leftmike/kumo/engine"
)

var ErrServerClosed = errors.New("server: closed")

type Server struct {
	Engine engine.Engine

	// Name is reported to clients during the handshake.
	Name string

	// MaxCursors bounds the open cursors of each session; zero means no
	// limit.
	MaxCursors int

	mutex      sync.Mutex
	listeners  map[net.Listener]struct{}
	activeConn map[net.Conn]struct{}
	sshServers []*sshServer
	connCount  int32
	shutdown   bool
	closed     bool
}

func (svr *Server) serverName() string {
	if svr.Name == "" {
		return "kumo"
	}
	return svr.Name
}

func (svr *Server) addListener(l net.Listener) error {
	svr.mutex.Lock()
	defer svr.mutex.Unlock()

	if svr.shutdown {
		l.Close()
		return ErrServerClosed
	}
	if svr.listeners == nil {
		svr.listeners = map[net.Listener]struct{}{}
	}
	svr.listeners[l] = struct{}{}
	return nil
}

func (svr *Server) addServer(ss *sshServer) error {
	svr.mutex.Lock()
	defer svr.mutex.Unlock()

	if svr.shutdown {
		ss.stop()
		return ErrServerClosed
	}
	svr.sshServers = append(svr.sshServers, ss)
	return nil
}

func (svr *Server) trackConn(conn net.Conn, add bool) bool {
	svr.mutex.Lock()
	defer svr.mutex.Unlock()

	if svr.closed {
		return false
	}
	if add {
		if svr.activeConn == nil {
			svr.activeConn = map[net.Conn]struct{}{}
		}
		svr.activeConn[conn] = struct{}{}
	} else {
		delete(svr.activeConn, conn)
	}
	return true
}

func (svr *Server) closeListeners() error {
	var err error
	for l := range svr.listeners {
		cerr := l.Close()
		if cerr != nil && err == nil {
			err = cerr
		}
		delete(svr.listeners, l)
	}
	for _, ss := range svr.sshServers {
		ss.stop()
	}
	return err
}

// Close immediately closes all listeners and active connections.
func (svr *Server) Close() error {
	svr.mutex.Lock()
	defer svr.mutex.Unlock()

	if svr.closed {
		return nil
	}
	svr.closed = true

	var err error
	if !svr.shutdown {
		err = svr.closeListeners()
		svr.shutdown = true
	}

	for conn := range svr.activeConn {
		conn.Close()
		delete(svr.activeConn, conn)
	}
	for _, ss := range svr.sshServers {
		ss.close()
	}
	return err
}

// Shutdown stops accepting new connections and waits for the active ones
// to finish, or for ctx to expire.
func (svr *Server) Shutdown(ctx context.Context) error {
	var err error

	svr.mutex.Lock()
	if svr.closed {
		svr.mutex.Unlock()
		return nil
	}
	if !svr.shutdown {
		err = svr.closeListeners()
		svr.shutdown = true
	}
	svr.mutex.Unlock()

	last := int32(-1)
	for {
		cc := atomic.LoadInt32(&svr.connCount)
		if cc == 0 {
			break
		}
		if cc != last {
			log.WithField("connections", cc).Info("waiting for active connections")
			last = cc
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return err
}
