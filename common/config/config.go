// Package config loads synrelay's running configuration: a YAML snapshot
// for the ambient stack (logging, admin auth, TLS, DB, telemetry), plus a
// DirectiveReader that tokenizes the legacy line-directive grammar into
// calls against the input facade's programmatic API. Adapted from
// mbp/common/config.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"synrelay/common/logx"
	"synrelay/common/util"
	"synrelay/core/errs"
)

type DBPoolCfg struct {
	MaxOpen        int `yaml:"max_open"`
	MaxIdle        int `yaml:"max_idle"`
	MaxLifetimeSec int `yaml:"max_lifetime_sec"`
}

type DBCfg struct {
	Driver string    `yaml:"driver"`
	DSN    string    `yaml:"dsn"`
	Pool   DBPoolCfg `yaml:"pool"`
	Enable bool      `yaml:"enable"`
}

type AdminAuth struct {
	Username       string `yaml:"username"`
	PasswordSHA256 string `yaml:"password_sha256"`
	JWTSecret      string `yaml:"jwt_secret"`
	TokenTTL       int    `yaml:"token_ttl"`
	// ListenAddr is the admin API's bind address, e.g. ":8080". Empty
	// defaults to ":8080" in server.Run.
	ListenAddr string `yaml:"listen_addr"`
}

type TLSConfig struct {
	Cert     string `yaml:"cert"`
	Key      string `yaml:"key"`
	SniGuard string `yaml:"sniGuard"`
}

type Logging struct {
	Level string `yaml:"level"`
}

type InfluxDB2Config struct {
	BaseURL            string `yaml:"base_url"`
	Token              string `yaml:"token"`
	Org                string `yaml:"org"`
	Bucket             string `yaml:"bucket"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	Enable             bool   `yaml:"enable"`
}

// ListenerSpec is one `inputtcpserverrun` instance's accumulated config,
// the YAML equivalent of a block of directive lines.
type ListenerSpec struct {
	Port                 int      `yaml:"port"`
	InputName            string   `yaml:"input_name"`
	BindRuleset          string   `yaml:"bind_ruleset"`
	SupportOctetFraming  bool     `yaml:"support_octet_framing"`
	KeepAlive            bool     `yaml:"keep_alive"`
	NotifyOnClose        bool     `yaml:"notify_on_close"`
	StreamDriverMode     int      `yaml:"stream_driver_mode"`
	StreamDriverAuthMode string   `yaml:"stream_driver_auth_mode"`
	PermittedPeers       []string `yaml:"permitted_peers"`
	AddTLFrameDelimiter  int      `yaml:"add_tl_frame_delimiter"`
	DisableLFDelimiter   bool     `yaml:"disable_lf_delimiter"`
	FlowControl          bool     `yaml:"flow_control"`
}

// ActionSpec is one step of a RuleSpec's action chain, the YAML
// declaration of a core/action plugin instance.
type ActionSpec struct {
	// Type selects the plugin: "discard" (also the empty value), "file",
	// "forward", or "queue".
	Type string `yaml:"type"`

	// Path is the target file for type "file".
	Path string `yaml:"path"`

	// Addr is the downstream peer address for type "forward".
	Addr string `yaml:"addr"`
	// TLS dials Addr over TLS (system roots, server name taken from Addr's
	// host) instead of plaintext; the module's own TLS cert/key are not used.
	TLS bool `yaml:"tls"`
}

// RuleSpec is one Rule of a RulesetSpec: an ordered action chain.
type RuleSpec struct {
	Actions []ActionSpec `yaml:"actions"`
}

// RulesetSpec mirrors the directives that build up a named ruleset.
type RulesetSpec struct {
	Name            string       `yaml:"name"`
	Parsers         []string     `yaml:"parsers"`
	CreateMainQueue bool         `yaml:"create_main_queue"`
	IsDefault       bool         `yaml:"default"`
	Rules           []RuleSpec   `yaml:"rules"`
}

type Config struct {
	DB        DBCfg           `yaml:"db"`
	Admin     AdminAuth       `yaml:"admin"`
	TLS       TLSConfig       `yaml:"tls"`
	Logging   Logging         `yaml:"logging"`
	Influx    InfluxDB2Config `yaml:"influx"`
	MaxSessions int           `yaml:"max_sessions"`
	MaxListeners int          `yaml:"max_listeners"`

	Listeners []ListenerSpec `yaml:"listeners"`
	Rulesets  []RulesetSpec  `yaml:"rulesets"`
}

func defaultSQLiteDSN() string {
	base := "/var/lib/synrelay"
	if util.IsDesktop() {
		base = "./lib"
	}
	return "file:" + filepath.ToSlash(filepath.Join(base, "synrelay.db")) + "?_pragma_busy_timeout=5000&_pragma_journal_mode=WAL"
}

var log = logx.New(logx.WithPrefix("config"))

// Load reads p, falling back to /etc/synrelay/config.yaml if p can't be
// opened, and fills in defaults (session/listener caps, sqlite DSN) the
// way mbp/common/config.Load does.
func Load(p string) (*Config, string, error) {
	b, err := os.ReadFile(p)
	if err != nil {
		p = "/etc/synrelay/config.yaml"
		b, err = os.ReadFile(p)
		if err != nil {
			log.Errorf("open config: no such file or directory")
			return nil, p, err
		}
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, p, err
	}

	if c.DB.Driver == "" {
		c.DB.Driver = "sqlite"
	}
	if c.DB.DSN == "" {
		c.DB.DSN = defaultSQLiteDSN()
	}
	if c.MaxSessions == 0 {
		c.MaxSessions = 200
	}
	if c.MaxListeners == 0 {
		c.MaxListeners = 20
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	if err := ensureDirForFileDSN(c.DB.DSN); err != nil {
		return nil, p, err
	}
	return &c, p, nil
}

func ensureDirForFileDSN(dsn string) error {
	if !strings.HasPrefix(dsn, "file:") {
		return nil
	}
	pth := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(pth, '?'); i >= 0 {
		pth = pth[:i]
	}
	return os.MkdirAll(filepath.Dir(pth), 0o755)
}

// Directives is the programmatic target a DirectiveReader drives. It is
// implemented by input.Facade; kept as a narrow interface here so config
// stays independent of the facade's concrete type.
type Directives interface {
	AppendListener(port int) error
	SetKeepAlive(b bool) error
	SetSupportOctetFraming(b bool) error
	SetMaxSessions(n int) error
	SetMaxListeners(n int) error
	SetNotifyOnClose(b bool) error
	SetStreamDriverMode(n int) error
	SetStreamDriverAuthMode(word string) error
	AppendPermittedPeer(word string) error
	SetAddTLFrameDelimiter(n int) error
	SetDisableLFDelimiter(b bool) error
	SetInputName(word string) error
	SetBindRuleset(word string) error
	SetFlowControl(b bool) error
	AppendCurrentRulesetParser(word string) error
	SetCurrentRulesetCreateMainQueue(b bool) error
	ResetConfigVariables() error
}

// DirectiveReader tokenizes the legacy line-directive grammar (spec.md §6)
// into calls against a Directives target. It never constructs core types
// itself — parsing and activation stay decoupled, as spec.md requires.
type DirectiveReader struct {
	target Directives
}

func NewDirectiveReader(target Directives) *DirectiveReader {
	return &DirectiveReader{target: target}
}

// ReadAll consumes r line by line, case-insensitive on the directive
// token, first match wins per line. Returns the first CONFIG_INVALID-style
// error encountered (unknown directive or malformed arg), stopping there.
func (d *DirectiveReader) ReadAll(r io.Reader) error {
	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := d.readLine(line); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	return sc.Err()
}

func (d *DirectiveReader) readLine(line string) error {
	fields := strings.SplitN(line, " ", 2)
	tok := strings.ToLower(strings.TrimSpace(fields[0]))
	arg := ""
	if len(fields) > 1 {
		arg = strings.TrimSpace(fields[1])
	}

	switch tok {
	case "inputtcpserverrun":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("%w: bad port %q", errs.ErrConfigInvalid, arg)
		}
		return d.target.AppendListener(n)
	case "inputtcpserverkeepalive":
		return d.target.SetKeepAlive(parseBool(arg))
	case "inputtcpserversupportoctetcountedframing":
		return d.target.SetSupportOctetFraming(parseBool(arg))
	case "inputtcpmaxsessions":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("%w: bad int %q", errs.ErrConfigInvalid, arg)
		}
		return d.target.SetMaxSessions(n)
	case "inputtcpmaxlisteners":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("%w: bad int %q", errs.ErrConfigInvalid, arg)
		}
		return d.target.SetMaxListeners(n)
	case "inputtcpservernotifyonconnectionclose":
		return d.target.SetNotifyOnClose(parseBool(arg))
	case "inputtcpserverstreamdrivermode":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("%w: bad mode %q", errs.ErrConfigInvalid, arg)
		}
		return d.target.SetStreamDriverMode(n)
	case "inputtcpserverstreamdriverauthmode":
		return d.target.SetStreamDriverAuthMode(strings.ToLower(arg))
	case "inputtcpserverstreamdriverpermittedpeer":
		return d.target.AppendPermittedPeer(arg)
	case "inputtcpserveraddtlframedelimiter":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("%w: bad delimiter %q", errs.ErrConfigInvalid, arg)
		}
		return d.target.SetAddTLFrameDelimiter(n)
	case "inputtcpserverdisablelfdelimiter":
		return d.target.SetDisableLFDelimiter(parseBool(arg))
	case "inputtcpserverinputname":
		return d.target.SetInputName(arg)
	case "inputtcpserverbindruleset":
		return d.target.SetBindRuleset(arg)
	case "inputtcpflowcontrol":
		return d.target.SetFlowControl(parseBool(arg))
	case "rulesetparser":
		return d.target.AppendCurrentRulesetParser(arg)
	case "rulesetcreatemainqueue":
		return d.target.SetCurrentRulesetCreateMainQueue(parseBool(arg))
	case "resetconfigvariables":
		return d.target.ResetConfigVariables()
	default:
		return fmt.Errorf("%w: unknown directive %q", errs.ErrConfigInvalid, tok)
	}
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
