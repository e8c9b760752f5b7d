// Package session implements spec.md §4.4's per-connection state machine:
// INIT -> OPEN -> CLOSING -> CLOSED, driving a frame.Reassembler over a
// stream.Stream and submitting completed messages to a batch sink.
// Grounded on mbp/core/listener.serveLoop's per-connection goroutine shape
// and mbp/core/transport.Pipe's cancellation-aware teardown.
package session

import (
	"fmt"
	"sync"

	"synrelay/common/logx"
	"synrelay/core/errs"
	"synrelay/core/frame"
	"synrelay/model"
)

type State int

const (
	StateInit State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Stream is the narrow contract a Session needs from core/stream.Stream,
// kept as an interface so sessions are constructible in tests without a
// real socket.
type Stream interface {
	Recv(buf []byte) (int, error)
	Close() error
}

// Sink receives completed messages; core/batch.Router implements it.
type Sink interface {
	Submit(msg *model.Message)
}

// Ruleset is the narrow, weakly-held reference a Session keeps to its
// bound ruleset, matching spec.md's "session weakly references its bound
// ruleset" ownership note.
type Ruleset struct {
	Name string
}

// Session owns one accepted connection's framing/lifecycle state.
type Session struct {
	mu    sync.Mutex
	state State

	stream      Stream
	reassembler *frame.Reassembler
	sink        Sink

	PeerAddr    string
	PeerFQDN    string
	PeerTLSName string
	InputName   string
	Ruleset     *Ruleset

	EmitMsgOnClose bool

	log *logx.Logger
}

func New(stream Stream, reassembler *frame.Reassembler, sink Sink, peerAddr, peerFQDN, peerTLSName, inputName string, rs *Ruleset) *Session {
	return &Session{
		state:       StateInit,
		stream:      stream,
		reassembler: reassembler,
		sink:        sink,
		PeerAddr:    peerAddr,
		PeerFQDN:    peerFQDN,
		PeerTLSName: peerTLSName,
		InputName:   inputName,
		Ruleset:     rs,
		log:         logx.New(logx.WithPrefix("session")),
	}
}

// Open transitions INIT -> OPEN; called after accept + ACL + (for TLS)
// handshake succeeded.
func (s *Session) Open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateInit {
		s.state = StateOpen
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// OnData implements spec.md §4.4's on_data(bytes): drives the reassembler
// and submits one message per emitted payload.
func (s *Session) OnData(data []byte) error {
	frames, err := s.reassembler.Feed(data)
	for _, f := range frames {
		s.submit(f)
	}
	if err != nil {
		return fmt.Errorf("session: %w", err)
	}
	return nil
}

func (s *Session) submit(f frame.Frame) {
	if s.sink == nil {
		return
	}
	msg := &model.Message{
		Payload:     f.Payload,
		PeerAddr:    s.PeerAddr,
		PeerFQDN:    s.PeerFQDN,
		PeerTLSName: s.PeerTLSName,
		InputName:   s.InputName,
		Oversized:   f.Oversized,
	}
	if s.Ruleset != nil {
		msg.RulesetName = s.Ruleset.Name
	}
	s.sink.Submit(msg)
}

// OnCloseRegular implements spec.md §4.4's on_close_regular(): flush any
// pending partial frame, submit it, then tear down.
func (s *Session) OnCloseRegular() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	s.mu.Unlock()

	if f := s.reassembler.Flush(); f != nil {
		s.submit(*f)
	}
	s.emitCloseNotice("regular")
	s.teardown()
}

// OnCloseError implements spec.md §4.4's on_close_error(): discard any
// pending partial frame, then tear down.
func (s *Session) OnCloseError() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosing
	s.mu.Unlock()

	s.reassembler.Discard()
	s.emitCloseNotice("error")
	s.teardown()
}

func (s *Session) emitCloseNotice(reason string) {
	if !s.EmitMsgOnClose || s.sink == nil {
		return
	}
	msg := &model.Message{
		Payload:   []byte(fmt.Sprintf("session closed (%s): peer=%s", reason, s.PeerAddr)),
		PeerAddr:  s.PeerAddr,
		InputName: s.InputName,
	}
	if s.Ruleset != nil {
		msg.RulesetName = s.Ruleset.Name
	}
	s.sink.Submit(msg)
}

func (s *Session) teardown() {
	_ = s.stream.Close()
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
}

// IOTransientError wraps recv errors the caller should treat as a
// reconnect-eligible error-close, per errs.ErrIOTransient.
func IOTransientError(err error) error {
	return fmt.Errorf("%w: %v", errs.ErrIOTransient, err)
}
