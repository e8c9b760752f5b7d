package stream

import (
	"net"
	"testing"
	"time"
)

func TestOpenListenerPlaintextAcceptRoundTrip(t *testing.T) {
	ln, err := OpenListener("127.0.0.1:0", ModePlaintext, "", nil, nil)
	if err != nil {
		t.Fatalf("OpenListener: %v", err)
	}
	defer ln.Close()

	addr := ln.Addr().String()
	done := make(chan error, 1)
	go func() {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			done <- err
			return
		}
		defer conn.Close()
		_, err = conn.Write([]byte("hello"))
		done <- err
	}()

	ln.SetAcceptDeadline(time.Now().Add(2 * time.Second))
	st, err := ln.Accept()
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer st.Close()

	buf := make([]byte, 16)
	n, err := st.Recv(buf)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("unexpected payload: %q", buf[:n])
	}
	if err := <-done; err != nil {
		t.Fatalf("dial goroutine: %v", err)
	}
}

type denyAll struct{}

func (denyAll) IsAllowedTLSName(string) bool { return false }

func TestAcceptFilterRejectsBeforeSessionCreated(t *testing.T) {
	ln, err := OpenListener("127.0.0.1:0", ModePlaintext, "", nil, nil)
	if err != nil {
		t.Fatalf("OpenListener: %v", err)
	}
	defer ln.Close()
	ln.AcceptFilter = func(addr string) bool { return false }

	addr := ln.Addr().String()
	go func() {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
		}
	}()

	ln.SetAcceptDeadline(time.Now().Add(2 * time.Second))
	_, err = ln.Accept()
	if err == nil {
		t.Fatalf("expected Accept to reject a filtered peer")
	}
}
