// Package input is spec.md §4.8's facade: it accumulates pending listener
// instance configs and ruleset-building directives as the legacy config
// grammar is read, then activates them into a single shared
// core/tcpserver.Server and core/ruleset.Registry at startup. Grounded on
// mbp/app.App.New/Start's activation sequencing (parse everything first,
// construct the runtime second) and mbp/core/listener.ListenerMgr.StartRule's
// per-protocol listener dispatch.
package input

import (
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"synrelay/common/logx"
	"synrelay/common/ttls"
	"synrelay/core/acl"
	"synrelay/core/errs"
	"synrelay/core/parser"
	"synrelay/core/queue"
	"synrelay/core/ruleset"
	"synrelay/core/session"
	"synrelay/core/stream"
	"synrelay/core/tcpserver"
	"synrelay/model"
)

// pendingListener mirrors the directive-accumulated state for one
// `inputtcpserverrun` block, before any of it is resolved into a
// tcpserver.ListenerSpec.
type pendingListener struct {
	port                 int
	inputName            string
	bindRuleset          string
	supportOctetFraming  bool
	keepAlive            bool
	notifyOnClose        bool
	streamDriverMode     int
	streamDriverAuthMode string
	permittedPeers       []model.PermittedPeer
	addTLFrameDelimiter  int
	disableLFDelimiter   bool
	flowControl          bool
}

// Facade is the L8 component. It implements common/config.Directives so a
// DirectiveReader can drive it line by line; TLSMaterial supplies the
// cert/key/sniGuard the directive grammar itself has no directive for
// (spec.md's legacy grammar assumes the module-wide TLS config lives in the
// YAML ambient config, per SPEC_FULL.md's AMBIENT STACK section).
type Facade struct {
	mu sync.Mutex

	maxSessions  int
	maxListeners int

	cur *pendingListener
	all []*pendingListener

	registry *ruleset.Registry

	TLSMaterial func() (cert, key, sniGuard string)

	// DB, when set, backs any ruleset's private queue (the
	// rulesetcreatemainqueue directive). A nil DB degrades queue creation
	// to a warned no-op rather than failing activation.
	DB *gorm.DB

	server *tcpserver.Server
	log    *logx.Logger
}

func New(registry *ruleset.Registry) *Facade {
	return &Facade{
		registry: registry,
		log:      logx.New(logx.WithPrefix("input")),
	}
}

func (f *Facade) ensureCur() *pendingListener {
	if f.cur == nil {
		f.cur = &pendingListener{streamDriverMode: 0, streamDriverAuthMode: "anon", addTLFrameDelimiter: -1}
	}
	return f.cur
}

// AppendListener implements config.Directives: each call both finalizes any
// prior in-progress listener block and starts a new one at the given port,
// matching the legacy grammar's "inputtcpserverrun N" block-opening role.
func (f *Facade) AppendListener(port int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cur != nil {
		f.all = append(f.all, f.cur)
	}
	f.cur = &pendingListener{port: port, streamDriverMode: 0, streamDriverAuthMode: "anon", addTLFrameDelimiter: -1}
	return nil
}

func (f *Facade) SetKeepAlive(b bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCur().keepAlive = b
	return nil
}

func (f *Facade) SetSupportOctetFraming(b bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCur().supportOctetFraming = b
	return nil
}

func (f *Facade) SetMaxSessions(n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maxSessions = n
	return nil
}

func (f *Facade) SetMaxListeners(n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maxListeners = n
	return nil
}

func (f *Facade) SetNotifyOnClose(b bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCur().notifyOnClose = b
	return nil
}

func (f *Facade) SetStreamDriverMode(n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCur().streamDriverMode = n
	return nil
}

func (f *Facade) SetStreamDriverAuthMode(word string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCur().streamDriverAuthMode = word
	return nil
}

func (f *Facade) AppendPermittedPeer(word string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	deny := strings.HasPrefix(word, "!")
	pattern := strings.TrimPrefix(word, "!")
	cur := f.ensureCur()
	cur.permittedPeers = append(cur.permittedPeers, model.PermittedPeer{Pattern: pattern, Deny: deny})
	return nil
}

func (f *Facade) SetAddTLFrameDelimiter(n int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCur().addTLFrameDelimiter = n
	return nil
}

func (f *Facade) SetDisableLFDelimiter(b bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCur().disableLFDelimiter = b
	return nil
}

func (f *Facade) SetInputName(word string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCur().inputName = word
	return nil
}

func (f *Facade) SetBindRuleset(word string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCur().bindRuleset = word
	return nil
}

func (f *Facade) SetFlowControl(b bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensureCur().flowControl = b
	return nil
}

// AppendCurrentRulesetParser and SetCurrentRulesetCreateMainQueue operate on
// the ruleset registry's "current" ruleset, not on the pending listener
// block — the legacy grammar keeps these namespaces independent.
func (f *Facade) AppendCurrentRulesetParser(word string) error {
	f.mu.Lock()
	rs, err := f.registry.Current()
	f.mu.Unlock()
	if err != nil {
		return err
	}
	p, err := parser.Lookup(word)
	if err != nil {
		f.log.Warnf("input: ruleset %q: unknown parser %q, skipped", rs.Name, word)
		return nil
	}
	f.registry.AddParser(rs, p)
	return nil
}

func (f *Facade) SetCurrentRulesetCreateMainQueue(b bool) error {
	if !b {
		return nil
	}
	return f.registry.AttachQueueToCurrent(func() ruleset.Queue {
		if f.DB == nil {
			f.log.Warnf("input: rulesetcreatemainqueue requested but no database is configured; queue will drop messages")
			return noopQueue{}
		}
		q := queue.New(f.DB, 700*time.Millisecond, 1000)
		q.Start()
		return q
	})
}

// noopQueue satisfies core/ruleset.Queue for the no-database fallback path.
type noopQueue struct{}

func (noopQueue) Enqueue(*model.Message) error { return nil }

// ResetConfigVariables implements "resetconfigvariables": clears the
// in-progress listener block back to defaults without discarding already
// finalized blocks, matching the legacy grammar's per-block reset role.
func (f *Facade) ResetConfigVariables() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cur = nil
	return nil
}

// ConstructRuleset implements construct(name) for the facade's own
// callers (config YAML loading uses this directly rather than the
// directive grammar, since rulesets are declared structurally there).
func (f *Facade) ConstructRuleset(name string, isDefault bool) (*ruleset.Ruleset, error) {
	rs, err := f.registry.Construct(name)
	if err != nil {
		return nil, err
	}
	if isDefault {
		f.registry.SetDefault(name)
	}
	f.registry.SetCurrent(name)
	return rs, nil
}

// ActivatePrePrivDrop implements spec.md §4.8's activate_pre_priv_drop():
// constructs the shared tcpserver.Server (if at least one listener instance
// was configured), applies module-level parameters, configures every
// pending listener instance concurrently via errgroup (replacing
// mbp/app.App's ad hoc goroutine+WaitGroup fan-out), then binds their
// sockets one by one in a single OpenListenSockets call, and returns
// errs.ErrNoListeners if nothing was configured.
func (f *Facade) ActivatePrePrivDrop(acceptFilter func(addr string) bool, sink session.Sink) error {
	f.mu.Lock()
	if f.cur != nil {
		f.all = append(f.all, f.cur)
		f.cur = nil
	}
	pending := f.all
	maxSessions, maxListeners := f.maxSessions, f.maxListeners
	f.mu.Unlock()

	if len(pending) == 0 {
		return errs.ErrNoListeners
	}

	f.registry.Finalize()

	srv := tcpserver.New(tcpserver.Config{
		MaxSessions:    maxSessions,
		MaxListeners:   maxListeners,
		MaxMessageSize: 64 * 1024,
	}, acceptFilter, sink)
	f.server = srv

	var g errgroup.Group
	for _, pl := range pending {
		pl := pl
		g.Go(func() error { return f.configureOne(srv, pl) })
	}
	if err := g.Wait(); err != nil {
		return err
	}

	srv.ConstructFinalize()
	if err := srv.OpenListenSockets(); err != nil {
		return err
	}
	return nil
}

func (f *Facade) configureOne(srv *tcpserver.Server, pl *pendingListener) error {
	mode := stream.DriverMode(pl.streamDriverMode)
	authMode := stream.AuthMode(strings.ToLower(pl.streamDriverAuthMode))
	if authMode == "" {
		authMode = ttls.AuthAnon
	}

	var rsRef *session.Ruleset
	if pl.bindRuleset != "" {
		if rs, ok := f.registry.Get(pl.bindRuleset); ok {
			rsRef = &session.Ruleset{Name: rs.Name}
		} else {
			f.log.Warnf("input: instance port=%d: unknown bind_ruleset %q, falling back to default", pl.port, pl.bindRuleset)
			if def := f.registry.Default(); def != nil {
				rsRef = &session.Ruleset{Name: def.Name}
			}
		}
	} else if def := f.registry.Default(); def != nil {
		rsRef = &session.Ruleset{Name: def.Name}
	}

	tlsCfg := f.loadTLSIfNeeded(pl, mode)

	// Each instance owns its own permitted-peer list (spec.md §4.1); wiring
	// it as a per-listener AcceptFilter rather than a server-wide one keeps
	// one instance's ACL from leaking onto another's traffic.
	aclList := acl.NewList(fmt.Sprintf("tcp/%d", pl.port), pl.permittedPeers)

	srv.Configure(tcpserver.ListenerSpec{
		Addr:                ":" + strconv.Itoa(pl.port),
		Mode:                mode,
		AuthMode:            authMode,
		TLSConfig:           tlsCfg,
		InputName:           pl.inputName,
		SupportOctetFraming: pl.supportOctetFraming,
		Ruleset:             rsRef,
		AcceptFilter:        func(addr string) bool { return aclList.IsAllowed(addr, "", false) },
		KeepAlive:           pl.keepAlive,
		KeepAlivePeriod:     30 * time.Second,
		NotifyOnClose:       pl.notifyOnClose,
		DisableLFDelim:      pl.disableLFDelimiter,
		AddtlFrameDelim:     pl.addTLFrameDelimiter,
	})
	return nil
}

func (f *Facade) loadTLSIfNeeded(pl *pendingListener, mode stream.DriverMode) *tls.Config {
	if mode == stream.ModePlaintext || f.TLSMaterial == nil {
		return nil
	}
	cert, key, sniGuard := f.TLSMaterial()
	cfg, err := ttls.LoadTLSConfig(cert, key, sniGuard, ttls.DriverMode(mode))
	if err != nil {
		f.log.Errorf("input: port=%d: tls config load failed: %v", pl.port, err)
		return nil
	}
	return cfg
}

// Destruct tears down the shared server, if one was constructed.
func (f *Facade) Destruct() {
	if f.server != nil {
		f.server.Destruct()
	}
}

func (f *Facade) Server() *tcpserver.Server { return f.server }
