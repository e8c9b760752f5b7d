// Package action implements spec.md's reference rule actions: discard,
// file (append framed payloads to disk), and forward (re-emit the payload
// octet-counted to a downstream TCP/TLS peer). Grounded on
// mbp/core/transport.Pipe's keep-alive + deadline-writer dial pattern for
// forward, generalized from a bidirectional proxy pipe down to a one-shot
// framed write.
package action

import (
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"synrelay/common/logx"
	"synrelay/model"
)

// Action matches core/ruleset.Action.
type Action interface {
	Name() string
	Execute(msg *model.Message) error
}

// Discard drops the message; used to terminate a rule chain without
// forwarding or persisting, e.g. for noisy/known-benign traffic.
type Discard struct{}

func (Discard) Name() string                 { return "discard" }
func (Discard) Execute(*model.Message) error { return nil }

// FileAction appends each payload, framed with a trailing newline, to a
// local file. One FileAction instance owns one open handle for its
// lifetime; concurrent rule dispatch across sessions is serialized with a
// mutex since os.File isn't safe for concurrent Write from multiple
// goroutines expecting atomic appends.
type FileAction struct {
	path string
	mu   sync.Mutex
	f    *os.File
	log  *logx.Logger
}

func NewFileAction(path string) (*FileAction, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("action: open %s: %w", path, err)
	}
	return &FileAction{path: path, f: f, log: logx.New(logx.WithPrefix("action.file"))}, nil
}

func (a *FileAction) Name() string { return "file:" + a.path }

func (a *FileAction) Execute(msg *model.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.f.Write(msg.Payload); err != nil {
		return fmt.Errorf("action: write %s: %w", a.path, err)
	}
	if _, err := a.f.Write([]byte("\n")); err != nil {
		return fmt.Errorf("action: write %s: %w", a.path, err)
	}
	return nil
}

func (a *FileAction) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.f.Close()
}

// Queue matches core/ruleset.Queue; kept as a locally-declared interface
// so this package doesn't import core/ruleset, mirroring how Action above
// mirrors core/ruleset.Action structurally instead of importing it.
type Queue interface {
	Enqueue(msg *model.Message) error
}

// QueueAction hands each message to a ruleset's attached queue collaborator
// instead of dispatching it inline — spec.md's data flow description of
// rules invoking external action plugins via the queue collaborator.
type QueueAction struct {
	queue Queue
}

func NewQueueAction(q Queue) *QueueAction { return &QueueAction{queue: q} }

func (a *QueueAction) Name() string { return "queue" }

func (a *QueueAction) Execute(msg *model.Message) error {
	if a.queue == nil {
		return nil
	}
	return a.queue.Enqueue(msg)
}

// ForwardAction re-emits each payload octet-counted to a downstream TCP or
// TLS peer, dialing lazily and redialing on write failure. Keep-alive and a
// bounded write deadline mirror mbp/core/transport.Pipe's connection
// hygiene, collapsed from a bidirectional pipe to a one-shot write.
type ForwardAction struct {
	addr      string
	tlsConfig *tls.Config

	mu   sync.Mutex
	conn net.Conn
	log  *logx.Logger
}

func NewForwardAction(addr string, tlsConfig *tls.Config) *ForwardAction {
	return &ForwardAction{addr: addr, tlsConfig: tlsConfig, log: logx.New(logx.WithPrefix("action.forward"))}
}

func (a *ForwardAction) Name() string { return "forward:" + a.addr }

func (a *ForwardAction) Execute(msg *model.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.conn == nil {
		if err := a.dial(); err != nil {
			return fmt.Errorf("action: dial %s: %w", a.addr, err)
		}
	}

	framed := fmt.Sprintf("%d %s", len(msg.Payload), msg.Payload)
	_ = a.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if _, err := a.conn.Write([]byte(framed)); err != nil {
		_ = a.conn.Close()
		a.conn = nil
		return fmt.Errorf("action: write %s: %w", a.addr, err)
	}
	return nil
}

func (a *ForwardAction) dial() error {
	var conn net.Conn
	var err error
	if a.tlsConfig != nil {
		conn, err = tls.Dial("tcp", a.addr, a.tlsConfig)
	} else {
		conn, err = net.Dial("tcp", a.addr)
	}
	if err != nil {
		return err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(30 * time.Second)
	}
	a.conn = conn
	return nil
}

func (a *ForwardAction) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		err := a.conn.Close()
		a.conn = nil
		return err
	}
	return nil
}
