package session

import (
	"testing"

	"synrelay/core/frame"
	"synrelay/model"
)

type fakeAddr struct{ s string }

func (a fakeAddr) String() string { return a.s }

type fakeStream struct {
	closed bool
}

func (f *fakeStream) Recv(buf []byte) (int, error)        { return 0, nil }
func (f *fakeStream) Close() error                        { f.closed = true; return nil }
func (f *fakeStream) RemoteAddr() interface{ String() string } { return fakeAddr{"10.0.0.1:9999"} }

type fakeSink struct {
	msgs []*model.Message
}

func (s *fakeSink) Submit(msg *model.Message) { s.msgs = append(s.msgs, msg) }

func newTestSession(sink Sink) (*Session, *fakeStream) {
	st := &fakeStream{}
	reasm := frame.New(1024, true, false, -1)
	sess := New(st, reasm, sink, "10.0.0.1:9999", "", "", "syslog-tcp", &Ruleset{Name: "main"})
	sess.Open()
	return sess, st
}

func TestOnCloseRegularFlushesPendingFrame(t *testing.T) {
	sink := &fakeSink{}
	sess, st := newTestSession(sink)

	if err := sess.OnData([]byte("partial-no-newline")); err != nil {
		t.Fatalf("OnData: %v", err)
	}
	sess.OnCloseRegular()

	if !st.closed {
		t.Fatalf("expected stream closed after regular close")
	}
	if len(sink.msgs) != 1 {
		t.Fatalf("expected pending frame flushed as one message, got %d", len(sink.msgs))
	}
	if string(sink.msgs[0].Payload) != "partial-no-newline" {
		t.Fatalf("unexpected flushed payload: %q", sink.msgs[0].Payload)
	}
	if sess.State() != StateClosed {
		t.Fatalf("expected StateClosed, got %v", sess.State())
	}
}

func TestOnCloseErrorDiscardsPendingFrame(t *testing.T) {
	sink := &fakeSink{}
	sess, st := newTestSession(sink)

	if err := sess.OnData([]byte("partial-no-newline")); err != nil {
		t.Fatalf("OnData: %v", err)
	}
	sess.OnCloseError()

	if !st.closed {
		t.Fatalf("expected stream closed after error close")
	}
	if len(sink.msgs) != 0 {
		t.Fatalf("expected no message submitted on error close, got %d", len(sink.msgs))
	}
}

func TestOnDataSubmitsCompletedDelimitedFrames(t *testing.T) {
	sink := &fakeSink{}
	sess, _ := newTestSession(sink)

	if err := sess.OnData([]byte("hello\nworld\n")); err != nil {
		t.Fatalf("OnData: %v", err)
	}
	if len(sink.msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(sink.msgs))
	}
	if sink.msgs[0].RulesetName != "main" {
		t.Fatalf("expected ruleset name tagged on message, got %q", sink.msgs[0].RulesetName)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	sink := &fakeSink{}
	sess, _ := newTestSession(sink)
	sess.OnCloseRegular()
	sess.OnCloseRegular()
	sess.OnCloseError()
	if len(sink.msgs) > 0 {
		t.Fatalf("expected no pending frame on an already-empty reassembler")
	}
}
