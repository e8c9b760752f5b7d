// Package tcpserver is the singleton L5 component of spec.md §4.5: it owns
// the listener set and session table, runs the accept loop, enforces the
// session cap with a rate-limited warning, and handles keep-alive and
// teardown (graceful with a timeout, then forced). Grounded almost
// directly on mbp/core/listener.ListenerMgr — tracked maps, sync.Once
// guarded stop, deadline-based Accept polling, and a permit semaphore.
package tcpserver

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"synrelay/common/logx"
	"synrelay/core/errs"
	"synrelay/core/frame"
	"synrelay/core/session"
	"synrelay/core/stream"
)

// AcceptFilter is the ACL hook: spec.md §4.1's is_allowed, invoked once at
// raw accept with the bare address (no DNS resolution attempted here —
// resolve_dns_if_needed is the caller's ACL policy, not the server's).
type AcceptFilter func(peerAddr string) bool

// ListenerSpec is one pending listener instance, spec.md §3's "Instance
// config" minus the fields already resolved by activation (ruleset is
// already a resolved weak reference by the time it reaches here).
type ListenerSpec struct {
	Addr                string
	Mode                stream.DriverMode
	AuthMode            stream.AuthMode
	TLSConfig           *tls.Config
	InputName           string
	SupportOctetFraming bool
	Ruleset             *session.Ruleset

	// AcceptFilter, when set, overrides the server-wide filter for this one
	// listener instance — spec.md §4.1's permitted-peer list is configured
	// per instance, not per module.
	AcceptFilter AcceptFilter

	// Framing and keep-alive parameters the legacy directive grammar sets
	// per listener block (spec.md §6); AddtlFrameDelim of -1 means "no
	// additional delimiter byte configured for this instance".
	KeepAlive       bool
	KeepAlivePeriod time.Duration
	NotifyOnClose   bool
	DisableLFDelim  bool
	AddtlFrameDelim int
}

// Config is spec.md §3's Module config: server-wide caps only. Per-listener
// framing/keep-alive parameters live on ListenerSpec since the legacy
// directive grammar sets them per instance.
type Config struct {
	MaxSessions    int
	MaxListeners   int
	MaxMessageSize int
}

// Server is the per-module singleton TCP server.
type Server struct {
	cfg  Config
	acl  AcceptFilter
	sink session.Sink
	log  *logx.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	pending   []ListenerSpec
	listeners map[*stream.Listener]ListenerSpec
	sessions  map[*session.Session]struct{}
	ready     bool
	stopOnce  sync.Once

	sem         chan struct{}
	warnLimiter *rate.Limiter
}

func New(cfg Config, acl AcceptFilter, sink session.Sink) *Server {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 200
	}
	if cfg.MaxListeners <= 0 {
		cfg.MaxListeners = 20
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:         cfg,
		acl:         acl,
		sink:        sink,
		log:         logx.New(logx.WithPrefix("tcpserver")),
		ctx:         ctx,
		cancel:      cancel,
		listeners:   make(map[*stream.Listener]ListenerSpec),
		sessions:    make(map[*session.Session]struct{}),
		sem:         make(chan struct{}, cfg.MaxSessions),
		warnLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}
}

// Configure implements spec.md §4.5's configure(port, support_octet_framing):
// adds a pending listener spec, consumed once by OpenListenSockets.
func (s *Server) Configure(spec ListenerSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, spec)
}

// OpenListenSockets implements open_listen_sockets(): resolves and binds
// every pending spec, respecting max_listeners.
func (s *Server) OpenListenSockets() error {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if len(pending) > s.cfg.MaxListeners {
		return fmt.Errorf("%w: %d pending listeners exceeds max_listeners=%d", errs.ErrResourceExhausted, len(pending), s.cfg.MaxListeners)
	}

	for _, spec := range pending {
		if err := s.openOne(spec); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) openOne(spec ListenerSpec) error {
	ln, err := stream.OpenListener(spec.Addr, spec.Mode, spec.AuthMode, nil, spec.TLSConfig)
	if err != nil {
		return err
	}
	ln.AcceptFilter = s.acl
	if spec.AcceptFilter != nil {
		ln.AcceptFilter = spec.AcceptFilter
	}

	s.mu.Lock()
	s.listeners[ln] = spec
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ln, spec)
	s.log.Infof("tcpserver: listening on %s (input=%s octet_framing=%v)", spec.Addr, spec.InputName, spec.SupportOctetFraming)
	return nil
}

// ConstructFinalize implements construct_finalize(): transitions the
// server to ready. Idempotent.
func (s *Server) ConstructFinalize() {
	s.mu.Lock()
	s.ready = true
	s.mu.Unlock()
}

// Run implements run(): blocks until the server is asked to shut down.
func (s *Server) Run() {
	<-s.ctx.Done()
	s.wg.Wait()
}

func (s *Server) acceptLoop(ln *stream.Listener, spec ListenerSpec) {
	defer s.wg.Done()
	defer func() {
		_ = ln.Close()
		s.mu.Lock()
		delete(s.listeners, ln)
		s.mu.Unlock()
	}()

	ln.SetAcceptDeadline(time.Now().Add(200 * time.Millisecond))

	for {
		st, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil || isClosedErr(err) {
				return
			}
			if isErrPeerDenied(err) {
				ln.SetAcceptDeadline(time.Now().Add(200 * time.Millisecond))
				continue
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				ln.SetAcceptDeadline(time.Now().Add(200 * time.Millisecond))
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				continue
			}
			s.log.Errorf("tcpserver: accept error on %s: %v", spec.Addr, err)
			return
		}
		ln.SetAcceptDeadline(time.Now().Add(200 * time.Millisecond))
		s.handleAccepted(st, spec)
	}
}

func (s *Server) handleAccepted(st *stream.Stream, spec ListenerSpec) {
	select {
	case s.sem <- struct{}{}:
	default:
		if s.warnLimiter.Allow() {
			s.log.Warnf("tcpserver: rejecting %s: session cap (%d) reached", st.PeerAddr, s.cfg.MaxSessions)
		}
		_ = st.Close()
		return
	}

	if spec.KeepAlive {
		st.SetKeepAlive(true, spec.KeepAlivePeriod)
	}

	reassembler := frame.New(s.cfg.MaxMessageSize, spec.SupportOctetFraming, spec.DisableLFDelim, spec.AddtlFrameDelim)
	sess := session.New(st, reassembler, s.sink, st.PeerAddr, "", st.PeerTLSName, spec.InputName, spec.Ruleset)
	sess.EmitMsgOnClose = spec.NotifyOnClose
	sess.Open()

	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.serveSession(sess, st)
}

func (s *Server) serveSession(sess *session.Session, st *stream.Stream) {
	defer s.wg.Done()
	defer func() {
		<-s.sem
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
	}()

	buf := make([]byte, 64*1024)
	for {
		select {
		case <-s.ctx.Done():
			// spec.md §5: on shutdown, sessions take the error-close path
			// (no flush) to guarantee bounded teardown time.
			sess.OnCloseError()
			return
		default:
		}

		n, err := st.Recv(buf)
		if err != nil {
			sess.OnCloseError()
			return
		}
		if n == 0 {
			sess.OnCloseRegular()
			return
		}
		if err := sess.OnData(buf[:n]); err != nil {
			sess.OnCloseError()
			return
		}
	}
}

// Destruct implements destruct(): graceful shutdown with a timeout, then
// forced connection close. Safe to call more than once.
func (s *Server) Destruct() { s.DestructWithTimeout(10 * time.Second) }

func (s *Server) DestructWithTimeout(timeout time.Duration) {
	s.stopOnce.Do(func() {
		s.log.Infof("tcpserver: stopping (timeout=%s)", timeout)
		s.cancel()

		s.mu.Lock()
		for ln := range s.listeners {
			_ = ln.Close()
		}
		s.mu.Unlock()

		done := make(chan struct{})
		go func() { s.wg.Wait(); close(done) }()

		select {
		case <-done:
			s.log.Debugf("tcpserver: stopped gracefully")
		case <-time.After(timeout):
			s.log.Infof("tcpserver: force-closing remaining sessions after timeout")
			s.mu.Lock()
			for sess := range s.sessions {
				sess.OnCloseError()
			}
			s.mu.Unlock()
		}
	})
}

// SessionCount and ListenerCount back the admin introspection API.
func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) ListenerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

func isClosedErr(err error) bool {
	if err == net.ErrClosed {
		return true
	}
	const msg = "use of closed network connection"
	s := err.Error()
	return len(s) >= len(msg) && s[len(s)-len(msg):] == msg
}

func isErrPeerDenied(err error) bool {
	return err == errs.ErrPeerDenied
}
