// Package app wires config, database, ruleset registry, input facade and
// telemetry into one running module, and drives the hot-reload loop that
// rebuilds the ruleset registry and re-activates the TCP server whenever
// the config file changes on disk. Grounded on mbp/app.App.New/Start's
// construction-then-watch shape, generalized from its DB-snapshot diff
// (SnapshotEnabledRule) to a config-file-content diff, since this module's
// rulesets and listeners are declared in YAML rather than in a database.
package app

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"synrelay/common/bruteguard"
	"synrelay/common/config"
	"synrelay/common/logx"
	"synrelay/core/action"
	"synrelay/core/batch"
	"synrelay/core/parser"
	"synrelay/core/ruleset"
	"synrelay/core/telemetry"
	"synrelay/db"
	"synrelay/input"
	"synrelay/model"
)

// runtime is one activated generation: a ruleset registry bound to an
// input facade and the tcpserver.Server it opened. Reload swaps the whole
// thing rather than mutating it in place (SPEC_FULL.md §5's "never in
// place" hot-activation note).
type runtime struct {
	registry *ruleset.Registry
	facade   *input.Facade
	router   *batch.Router
	sink     *countingSink
}

// App is the top-level component server.Run constructs and drives.
type App struct {
	Cfg     *config.Config
	CfgPath string
	DB      *db.DB
	Guard   *bruteguard.Guard
	Tele    *telemetry.Exporter
	Tail    *TailHub

	mu      sync.RWMutex
	rt      *runtime
	rawHash [32]byte

	Ctx    context.Context
	Cancel context.CancelFunc

	log *logx.Logger
}

var log = logx.New(logx.WithPrefix("app"))

func New(cfgPath string) (*App, error) {
	cfg, cfgP, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logx.SetLevelString(cfg.Logging.Level)

	a := &App{
		Cfg:     cfg,
		CfgPath: cfgP,
		Tail:    NewTailHub(200),
		log:     log,
	}
	a.log.Infof("config loaded from %s", cfgP)

	if cfg.DB.Driver != "" {
		gdb, err := db.OpenGorm(cfg.DB.Driver, cfg.DB.DSN, cfg.DB.Pool)
		if err != nil {
			return nil, fmt.Errorf("open db: %w", err)
		}
		a.DB = gdb
		a.log.Infof("db connected (driver=%s)", cfg.DB.Driver)
	}

	a.Guard = bruteguard.New(bruteguard.Config{
		Window:      10 * time.Minute,
		MaxFails:    5,
		Cooldown:    30 * time.Minute,
		BaseBackoff: 3 * time.Second,
		MaxBackoff:  1 * time.Minute,
		GCInterval:  1 * time.Minute,
		AliveFor:    12 * time.Hour,
	})
	a.log.Infof("bruteguard ready")

	rt, err := a.buildRuntime(cfg)
	if err != nil {
		return nil, fmt.Errorf("build runtime: %w", err)
	}
	a.rt = rt
	a.rawHash = fingerprint(cfg)

	if cfg.Influx.Enable {
		a.Tele = telemetry.New(cfg.Influx.BaseURL, cfg.Influx.Token, cfg.Influx.Org, cfg.Influx.Bucket, cfg.Influx.InsecureSkipVerify, rt.facade.Server())
		rt.sink.tele = a.Tele
	}

	return a, nil
}

// buildRuntime constructs one fresh generation: a registry populated from
// cfg.Rulesets, an input.Facade driven directly by cfg.Listeners (the YAML
// declaration of what the legacy directive grammar would otherwise set
// line by line), and its activated tcpserver.Server.
func (a *App) buildRuntime(cfg *config.Config) (*runtime, error) {
	reg := ruleset.NewRegistry()
	facade := input.New(reg)
	if a.DB != nil {
		facade.DB = a.DB.GormDataSource
	}
	if cfg.TLS.Cert != "" {
		facade.TLSMaterial = func() (string, string, string) {
			return cfg.TLS.Cert, cfg.TLS.Key, cfg.TLS.SniGuard
		}
	}

	for _, rsc := range cfg.Rulesets {
		rs, err := facade.ConstructRuleset(rsc.Name, rsc.IsDefault)
		if err != nil {
			return nil, fmt.Errorf("ruleset %q: %w", rsc.Name, err)
		}
		for _, pname := range rsc.Parsers {
			p, err := parser.Lookup(pname)
			if err != nil {
				a.log.Warnf("app: ruleset %q: unknown parser %q, skipped", rsc.Name, pname)
				continue
			}
			reg.AddParser(rs, p)
		}
		if rsc.CreateMainQueue {
			// Attached before rules are built so a "queue" action in this
			// ruleset's own rule chain can bind to rs.Queue immediately.
			reg.SetCurrent(rsc.Name)
			if err := facade.SetCurrentRulesetCreateMainQueue(true); err != nil {
				return nil, fmt.Errorf("ruleset %q: create_main_queue: %w", rsc.Name, err)
			}
		}
		for _, ruleSpec := range rsc.Rules {
			rule := &ruleset.Rule{}
			for _, asp := range ruleSpec.Actions {
				act, err := a.buildAction(rs, asp)
				if err != nil {
					a.log.Warnf("app: ruleset %q: %v", rsc.Name, err)
					continue
				}
				rule.Actions = append(rule.Actions, act)
			}
			reg.AddRule(rs, rule)
		}
	}

	for _, l := range cfg.Listeners {
		if err := applyListenerSpec(facade, l); err != nil {
			return nil, fmt.Errorf("listener port=%d: %w", l.Port, err)
		}
	}
	_ = facade.SetMaxSessions(cfg.MaxSessions)
	_ = facade.SetMaxListeners(cfg.MaxListeners)

	router := batch.NewRouter(reg)
	sink := &countingSink{router: router, tele: a.Tele, tail: a.Tail}

	allowAll := func(string) bool { return true }
	if err := facade.ActivatePrePrivDrop(allowAll, sink); err != nil {
		return nil, fmt.Errorf("activate: %w", err)
	}

	return &runtime{registry: reg, facade: facade, router: router, sink: sink}, nil
}

// applyListenerSpec drives one config.ListenerSpec through the same
// Directives methods the legacy grammar would call, so YAML-declared
// instances and directive-declared instances share one code path.
func applyListenerSpec(f *input.Facade, l config.ListenerSpec) error {
	if err := f.AppendListener(l.Port); err != nil {
		return err
	}
	_ = f.SetInputName(l.InputName)
	_ = f.SetBindRuleset(l.BindRuleset)
	_ = f.SetSupportOctetFraming(l.SupportOctetFraming)
	_ = f.SetKeepAlive(l.KeepAlive)
	_ = f.SetNotifyOnClose(l.NotifyOnClose)
	_ = f.SetStreamDriverMode(l.StreamDriverMode)
	_ = f.SetStreamDriverAuthMode(l.StreamDriverAuthMode)
	if l.AddTLFrameDelimiter != 0 {
		// Zero is config.ListenerSpec's unset YAML value as well as a legal
		// delimiter byte; until the YAML schema carries an explicit
		// "unset" sentinel, only a non-zero value overrides the facade's
		// -1 ("no additional delimiter") default.
		_ = f.SetAddTLFrameDelimiter(l.AddTLFrameDelimiter)
	}
	_ = f.SetDisableLFDelimiter(l.DisableLFDelimiter)
	_ = f.SetFlowControl(l.FlowControl)
	for _, p := range l.PermittedPeers {
		_ = f.AppendPermittedPeer(p)
	}
	return nil
}

func (a *App) buildAction(rs *ruleset.Ruleset, asp config.ActionSpec) (ruleset.Action, error) {
	switch asp.Type {
	case "", "discard":
		return action.Discard{}, nil
	case "file":
		return action.NewFileAction(asp.Path)
	case "forward":
		var tlsCfg *tls.Config
		if asp.TLS {
			host, _, _ := net.SplitHostPort(asp.Addr)
			tlsCfg = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
		}
		return action.NewForwardAction(asp.Addr, tlsCfg), nil
	case "queue":
		if rs.Queue == nil {
			return nil, fmt.Errorf("queue action on ruleset %q requires create_main_queue: true", rs.Name)
		}
		return action.NewQueueAction(rs.Queue), nil
	default:
		return nil, fmt.Errorf("unknown action type %q", asp.Type)
	}
}

// countingSink adapts batch.Router's single-message Submit into the
// module's observability surface: every submitted message is counted for
// telemetry and mirrored onto the tail hub for the admin API's websocket
// stream, then dispatched as normal.
type countingSink struct {
	router *batch.Router
	tele   *telemetry.Exporter
	tail   *TailHub
}

func (s *countingSink) Submit(msg *model.Message) {
	if s.tele != nil {
		s.tele.IncMessages()
	}
	if s.tail != nil {
		s.tail.Push(msg)
	}
	s.router.Submit(msg)
}

/* -------------------- start/stop & hot reload -------------------- */

func (a *App) Start() error {
	a.Ctx, a.Cancel = context.WithCancel(context.Background())
	if a.Tele != nil {
		a.Tele.Start()
	}
	go a.watchAndHotReload(30 * time.Second)
	a.log.Infof("hot-reload watcher started (interval=30s)")
	return nil
}

func (a *App) watchAndHotReload(interval time.Duration) {
	tk := time.NewTicker(interval)
	defer tk.Stop()
	for {
		select {
		case <-a.Ctx.Done():
			a.log.Debugf("hot-reload watcher exit")
			return
		case <-tk.C:
			a.reloadIfChanged()
		}
	}
}

func (a *App) reloadIfChanged() {
	cfg, _, err := config.Load(a.CfgPath)
	if err != nil {
		a.log.Errorf("hot-reload: config reload failed: %v", err)
		return
	}
	h := fingerprint(cfg)
	a.mu.RLock()
	unchanged := h == a.rawHash
	a.mu.RUnlock()
	if unchanged {
		return
	}

	a.log.Infof("hot-reload: config changed, rebuilding runtime")
	newRT, err := a.buildRuntime(cfg)
	if err != nil {
		a.log.Errorf("hot-reload: rebuild failed, keeping previous runtime: %v", err)
		return
	}

	a.mu.Lock()
	old := a.rt
	a.rt = newRT
	a.Cfg = cfg
	a.rawHash = h
	a.mu.Unlock()

	if old != nil {
		old.facade.Destruct()
		old.registry.DestroyAll(func(q ruleset.Queue) {
			if s, ok := q.(interface{ Shutdown() }); ok {
				s.Shutdown()
			}
		})
	}
	a.log.Infof("hot-reload: runtime swapped")
}

func fingerprint(cfg *config.Config) [32]byte {
	return sha256.Sum256([]byte(fmt.Sprintf("%#v", cfg)))
}

// Registry exposes the active generation's ruleset registry to the admin
// API; it changes identity across a hot reload, so callers must not cache
// the pointer across calls.
func (a *App) Registry() *ruleset.Registry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rt.registry
}

func (a *App) Server() interface {
	SessionCount() int
	ListenerCount() int
} {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.rt.facade.Server()
}

func (a *App) Stop() error {
	if a.Cancel != nil {
		a.Cancel()
	}
	a.mu.Lock()
	rt := a.rt
	a.mu.Unlock()
	if rt != nil {
		rt.facade.Destruct()
	}
	if a.Tele != nil {
		a.Tele.Stop()
	}
	a.log.Infof("app stopped")
	return nil
}
