package server

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/leftmike/kumo/engine"
	"github.com/leftmike/kumo/repl"
)

// SSHConfig configures the administrative console listener. With no host
// password check and no authorized keys, client auth is disabled.
type SSHConfig struct {
	Address         string
	HostKeysBytes   [][]byte
	AuthorizedBytes []byte
	CheckPassword   func(user, password string) error
}

type sshServer struct {
	mutex      sync.Mutex
	cfg        *ssh.ServerConfig
	listener   net.Listener
	activeConn map[*ssh.ServerConn]struct{}
	shutdown   bool
	closed     bool
}

func newSSHServer(sshCfg SSHConfig, name string) (*sshServer, error) {
	cfg := ssh.ServerConfig{
		AuthLogCallback: func(md ssh.ConnMetadata, method string, err error) {
			if method != "none" {
				l := log.WithFields(log.Fields{
					"user":   md.User(),
					"addr":   md.RemoteAddr().String(),
					"method": method,
				})
				if err != nil {
					l.WithField("error", err.Error()).Error("authentication failed")
				} else {
					l.Info("authentication succeeded")
				}
			}
		},
		BannerCallback: func(md ssh.ConnMetadata) string {
			return name + "\n"
		},
	}

	for _, keyBytes := range sshCfg.HostKeysBytes {
		key, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, err
		}
		cfg.AddHostKey(key)
	}

	bytes := sshCfg.AuthorizedBytes
	authorizedKeys := map[string]struct{}{}
	for len(bytes) > 0 {
		key, _, _, rest, err := ssh.ParseAuthorizedKey(bytes)
		if err != nil {
			return nil, err
		}
		authorizedKeys[string(key.Marshal())] = struct{}{}
		bytes = rest
	}

	if sshCfg.CheckPassword == nil && len(authorizedKeys) == 0 {
		cfg.NoClientAuth = true
		log.Warn("ssh client auth: NONE")
	}

	if sshCfg.CheckPassword != nil {
		checkPassword := sshCfg.CheckPassword
		cfg.PasswordCallback =
			func(md ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
				return nil, checkPassword(md.User(), string(pass))
			}
		log.Info("ssh client auth: password")
	}

	if len(authorizedKeys) > 0 {
		cfg.PublicKeyCallback =
			func(md ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
				if _, ok := authorizedKeys[string(key.Marshal())]; !ok {
					return nil, fmt.Errorf("unknown public key for %s", md.User())
				}
				return nil, nil
			}
		log.Info("ssh client auth: public key")
	}

	return &sshServer{
		cfg:        &cfg,
		activeConn: map[*ssh.ServerConn]struct{}{},
	}, nil
}

// ListenAndServeSSH serves an interactive console over SSH on
// sshCfg.Address; each session channel runs against its own engine session.
func (svr *Server) ListenAndServeSSH(sshCfg SSHConfig) error {
	l, err := net.Listen("tcp", sshCfg.Address)
	if err != nil {
		return err
	}
	return svr.ServeSSH(l, sshCfg)
}

func (svr *Server) ServeSSH(l net.Listener, sshCfg SSHConfig) error {
	ss, err := newSSHServer(sshCfg, svr.serverName())
	if err != nil {
		l.Close()
		return err
	}

	ss.listener = l
	err = svr.addServer(ss)
	if err != nil {
		return err
	}

	for {
		tcp, err := ss.listener.Accept()
		if err != nil {
			ss.mutex.Lock()
			if ss.shutdown {
				err = ErrServerClosed
			}
			ss.mutex.Unlock()
			log.WithField("error", err.Error()).Error("ssh accept")
			return err
		}

		conn, chans, reqs, err := ssh.NewServerConn(tcp, ss.cfg)
		if err != nil {
			log.WithField("error", err.Error()).Error("ssh new server connection")
			continue
		}
		entry := log.WithFields(log.Fields{
			"user": conn.User(),
			"addr": conn.RemoteAddr().String(),
		})
		entry.Info("ssh connected")

		go ssh.DiscardRequests(reqs)
		go ss.handleConn(svr, conn, chans, entry)
	}
}

func (ss *sshServer) trackConn(conn *ssh.ServerConn, add bool) bool {
	ss.mutex.Lock()
	defer ss.mutex.Unlock()

	if ss.closed {
		return false
	}
	if add {
		ss.activeConn[conn] = struct{}{}
	} else {
		delete(ss.activeConn, conn)
	}
	return true
}

func (ss *sshServer) handleConn(svr *Server, conn *ssh.ServerConn,
	chans <-chan ssh.NewChannel, entry *log.Entry) {

	atomic.AddInt32(&svr.connCount, 1)
	defer atomic.AddInt32(&svr.connCount, -1)

	if ss.trackConn(conn, true) {
		for ch := range chans {
			go ss.handleChannel(svr, ch, entry)
		}
		if ss.trackConn(conn, false) {
			conn.Close()
		}
	} else {
		conn.Close()
	}
	entry.Info("ssh disconnected")
}

// termReader adapts terminal line editing to the rune reader the console
// expects.
type termReader struct {
	term *terminal.Terminal
	line []byte
}

func (tr *termReader) Read(d []byte) (int, error) {
	if len(tr.line) == 0 {
		line, err := tr.term.ReadLine()
		if err != nil {
			return 0, err
		}
		tr.line = []byte(line + "\n")
	}

	n := len(d)
	if n > len(tr.line) {
		n = len(tr.line)
	}

	copy(d, tr.line[:n])
	tr.line = tr.line[n:]
	return n, nil
}

func (ss *sshServer) handleChannel(svr *Server, nch ssh.NewChannel, entry *log.Entry) {
	typ := nch.ChannelType()
	if typ != "session" {
		nch.Reject(ssh.UnknownChannelType, typ)
		entry.WithField("channel-type", typ).Error("unknown channel type")
		return
	}

	ch, reqs, err := nch.Accept()
	if err != nil {
		entry.WithField("error", err.Error()).Error("new channel accept")
		return
	}
	defer ch.Close()

	go func() {
		for req := range reqs {
			if req.WantReply {
				req.Reply(true, nil)
			}
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ses, err := svr.Engine.NewSession(ctx, engine.NewClientContext())
	if err != nil {
		entry.WithField("error", err.Error()).Error("ssh new session")
		return
	}
	defer ses.Close()

	term := terminal.NewTerminal(ch, svr.serverName()+"> ")
	tr := termReader{term: term}
	repl.ReplSQL(ctx, repl.SessionRunner(ses), bufio.NewReader(&tr), term)
}

func (ss *sshServer) stop() {
	ss.mutex.Lock()
	defer ss.mutex.Unlock()

	if !ss.shutdown {
		ss.listener.Close()
		ss.shutdown = true
	}
}

func (ss *sshServer) close() {
	ss.mutex.Lock()
	defer ss.mutex.Unlock()

	if ss.closed {
		return
	}
	ss.closed = true

	if !ss.shutdown {
		ss.listener.Close()
		ss.shutdown = true
	}
	for conn := range ss.activeConn {
		conn.Close()
		delete(ss.activeConn, conn)
	}
}
