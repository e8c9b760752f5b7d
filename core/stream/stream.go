// Package stream is the driver adapter spec.md §4.2 describes: a thin
// polymorphic wrapper over plaintext and TLS net.Conn that exposes
// open_listener/accept/recv/close, handling TLS handshake + verified peer
// name extraction + permitted-peer re-check before a Stream is handed back.
// Grounded on mbp/core/listener.listen's plaintext-vs-tls.Listen branching
// and mbp/common/ttls for the TLS config itself.
package stream

import (
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"synrelay/common/logx"
	"synrelay/common/ttls"
	"synrelay/core/errs"
)

// DriverMode and AuthMode re-export ttls's enums so callers need only
// import stream for the common case.
type DriverMode = ttls.DriverMode
type AuthMode = ttls.AuthMode

const (
	ModePlaintext = ttls.ModePlaintext
	ModeTLSAnon   = ttls.ModeTLSAnon
	ModeTLSX509   = ttls.ModeTLSX509
)

// Listener wraps a bound net.Listener plus the driver parameters needed to
// validate each accepted connection.
type Listener struct {
	net.Listener
	tcpLn     *net.TCPListener
	mode      DriverMode
	authMode  AuthMode
	permitted PeerChecker
	tlsConfig *tls.Config
	log       *logx.Logger

	// AcceptFilter is invoked with the bare connecting address immediately
	// after the raw accept, before any TLS handshake — this is spec.md
	// §4.1's "called once at accept" ACL check. Returning false rejects the
	// connection with no session created and no handshake attempted.
	AcceptFilter func(peerAddr string) bool
}

// PeerChecker is the narrow interface core/acl.List satisfies; kept here so
// stream doesn't import acl and force a dependency cycle risk.
type PeerChecker interface {
	IsAllowedTLSName(verifiedName string) bool
}

// Stream is an accepted, fully-authenticated connection: for TLS variants
// the handshake has completed and the peer has already cleared the ACL
// re-check before Accept returns it.
type Stream struct {
	conn       net.Conn
	PeerAddr   string
	PeerTLSName string
}

// OpenListener implements spec.md §4.2's open_listener(port, driver_mode,
// auth_mode, permitted_peers) -> listener.
func OpenListener(addr string, mode DriverMode, authMode AuthMode, permitted PeerChecker, tlsConfig *tls.Config) (*Listener, error) {
	if mode != ModePlaintext && tlsConfig == nil {
		return nil, errors.New("stream: tls mode requires a tls config")
	}
	raw, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("stream: listen %s: %w", addr, err)
	}
	tcpLn, _ := raw.(*net.TCPListener)

	var ln net.Listener = raw
	if mode != ModePlaintext {
		ln = tls.NewListener(raw, tlsConfig)
	}
	return &Listener{
		Listener:  ln,
		tcpLn:     tcpLn,
		mode:      mode,
		authMode:  authMode,
		permitted: permitted,
		tlsConfig: tlsConfig,
		log:       logx.New(logx.WithPrefix("stream")),
	}, nil
}

// SetAcceptDeadline sets a deadline on the underlying TCP listener so
// Accept returns periodically, letting the caller poll for shutdown. A
// no-op if the listener isn't backed by *net.TCPListener.
func (l *Listener) SetAcceptDeadline(t time.Time) {
	if l.tcpLn != nil {
		_ = l.tcpLn.SetDeadline(t)
	}
}

// Accept implements spec.md §4.2's accept(listener) -> stream. For TLS
// variants it blocks until the handshake completes and the verified peer
// name is available; on handshake failure or ACL rejection, the connection
// is closed and (nil, errs.ErrPeerDenied) is returned so the caller never
// creates a session for it.
func (l *Listener) Accept() (*Stream, error) {
	c, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	if l.AcceptFilter != nil {
		addr := addrHost(c.RemoteAddr())
		if !l.AcceptFilter(addr) {
			_ = c.Close()
			l.log.Warnf("stream: peer %s denied by acl at accept", addr)
			return nil, errs.ErrPeerDenied
		}
	}

	if l.mode == ModePlaintext {
		return &Stream{conn: c, PeerAddr: c.RemoteAddr().String()}, nil
	}

	tc, ok := c.(*tls.Conn)
	if !ok {
		_ = c.Close()
		return nil, fmt.Errorf("stream: expected *tls.Conn, got %T", c)
	}
	if err := tc.Handshake(); err != nil {
		_ = tc.Close()
		l.log.Warnf("stream: tls handshake failed from %s: %v", c.RemoteAddr(), err)
		return nil, errs.ErrPeerDenied
	}

	cs := tc.ConnectionState()
	verified := ttls.VerifiedPeerName(&cs, l.authMode)
	if l.authMode != ttls.AuthAnon {
		if l.permitted != nil && !l.permitted.IsAllowedTLSName(verified) {
			_ = tc.Close()
			l.log.Warnf("stream: tls peer %q not permitted from %s", verified, c.RemoteAddr())
			return nil, errs.ErrPeerDenied
		}
	}

	return &Stream{conn: tc, PeerAddr: c.RemoteAddr().String(), PeerTLSName: verified}, nil
}

// Recv implements spec.md §4.2's recv(stream, buf) -> bytes_read. A return
// of (0, nil) signals orderly remote close.
func (s *Stream) Recv(buf []byte) (int, error) {
	n, err := s.conn.Read(buf)
	if err != nil {
		if errors.Is(err, net.ErrClosed) {
			return n, err
		}
		if isEOF(err) {
			return n, nil
		}
		return n, fmt.Errorf("%w: %v", errs.ErrIOTransient, err)
	}
	return n, nil
}

func isEOF(err error) bool {
	return err != nil && err.Error() == "EOF"
}

func (s *Stream) Close() error { return s.conn.Close() }

func (s *Stream) SetKeepAlive(enable bool, period time.Duration) {
	if tc, ok := underlyingTCP(s.conn); ok {
		_ = tc.SetKeepAlive(enable)
		if enable && period > 0 {
			_ = tc.SetKeepAlivePeriod(period)
		}
	}
}

func (s *Stream) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

func (s *Stream) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *Stream) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }

func addrHost(a net.Addr) string {
	if tcp, ok := a.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(a.String())
	if err != nil {
		return a.String()
	}
	return host
}

func underlyingTCP(c net.Conn) (*net.TCPConn, bool) {
	switch v := c.(type) {
	case *net.TCPConn:
		return v, true
	case *tls.Conn:
		if tc, ok := v.NetConn().(*net.TCPConn); ok {
			return tc, true
		}
	}
	return nil, false
}
