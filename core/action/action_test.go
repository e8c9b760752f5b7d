package action

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"synrelay/model"
)

func TestDiscardAlwaysSucceeds(t *testing.T) {
	if err := (Discard{}).Execute(&model.Message{Payload: []byte("x")}); err != nil {
		t.Fatalf("discard returned error: %v", err)
	}
}

func TestFileActionAppendsFramedPayloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.log")

	fa, err := NewFileAction(path)
	if err != nil {
		t.Fatalf("NewFileAction: %v", err)
	}
	defer fa.Close()

	if err := fa.Execute(&model.Message{Payload: []byte("hello")}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := fa.Execute(&model.Message{Payload: []byte("world")}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	fa.Close()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(b) != "hello\nworld\n" {
		t.Fatalf("unexpected file contents: %q", b)
	}
}

func TestForwardActionWritesOctetCountedFrame(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, _ := conn.Read(buf)
		received <- string(buf[:n])
	}()

	fwd := NewForwardAction(ln.Addr().String(), nil)
	defer fwd.Close()
	if err := fwd.Execute(&model.Message{Payload: []byte("hello")}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	select {
	case got := <-received:
		if got != "5 hello" {
			t.Fatalf("expected octet-counted frame %q, got %q", "5 hello", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for forwarded frame")
	}
}
