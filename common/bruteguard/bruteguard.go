// Package bruteguard rate-limits repeated auth failures by IP and/or
// username: a fixed threshold triggers a cooldown lock, failures below
// threshold get exponential backoff. Used by the admin API's login
// endpoint. Adapted near-verbatim from mbp/common/bruteguard.
package bruteguard

import (
	"strings"
	"sync"
	"time"

	"synrelay/common/logx"
)

type Config struct {
	// Window is the failure-count sliding window; past it, fails soft-reset
	// (an already-active lock is untouched).
	Window time.Duration

	// MaxFails triggers an immediate Cooldown lock; below it, backoff grows
	// exponentially from BaseBackoff up to MaxBackoff.
	MaxFails    int
	Cooldown    time.Duration
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	GCInterval time.Duration
	AliveFor   time.Duration
}

func defaultConfig() Config {
	return Config{
		Window:      15 * time.Minute,
		MaxFails:    10,
		Cooldown:    15 * time.Minute,
		BaseBackoff: 2 * time.Second,
		MaxBackoff:  30 * time.Second,
		GCInterval:  time.Minute,
		AliveFor:    24 * time.Hour,
	}
}

type entry struct {
	fails       int
	lastFail    time.Time
	lockedUntil time.Time
	lastSeen    time.Time
}

type Guard struct {
	cfg Config

	mu     sync.Mutex
	store  map[string]*entry
	lastGC time.Time
	now    func() time.Time

	clearIPOnSuccess bool
	log              *logx.Logger
}

func New(cfg Config) *Guard {
	def := defaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.MaxFails <= 0 {
		cfg.MaxFails = def.MaxFails
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = def.BaseBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = def.MaxBackoff
	}
	if cfg.GCInterval <= 0 {
		cfg.GCInterval = def.GCInterval
	}
	if cfg.AliveFor <= 0 {
		cfg.AliveFor = def.AliveFor
	}

	return &Guard{
		cfg:   cfg,
		store: make(map[string]*entry, 1024),
		now:   time.Now,
		log:   logx.New(logx.WithPrefix("bruteguard")),
	}
}

// Allow is called before authenticating; it reports whether to proceed and,
// if not, how long until the lock lifts.
func (g *Guard) Allow(ip, user string) (ok bool, retryAfter time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gcIfNeeded()

	now := g.now()
	var next time.Time
	for _, k := range keys(ip, user) {
		if e := g.get(k, now); e != nil {
			if e.lockedUntil.After(next) {
				next = e.lockedUntil
			}
		}
	}
	if next.After(now) {
		wait := next.Sub(now)
		g.log.Debugf("BLOCK ip=%q user=%q until=%s wait=%s", ip, user, next.Format(time.RFC3339), wait)
		return false, wait
	}
	return true, 0
}

// Fail records one authentication failure (bad username or bad password
// are both failures).
func (g *Guard) Fail(ip, user string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gcIfNeeded()

	now := g.now()
	for _, k := range keys(ip, user) {
		e := g.getOrCreate(k, now)
		e.fails++
		e.lastFail = now
		e.lastSeen = now

		if g.cfg.MaxFails > 0 && e.fails >= g.cfg.MaxFails {
			e.lockedUntil = now.Add(g.cfg.Cooldown)
			g.log.Debugf("COOL-DOWN key=%s fails=%d until=%s", k, e.fails, e.lockedUntil.Format(time.RFC3339))
			continue
		}
		backoff := g.cfg.BaseBackoff
		for i := 1; i < e.fails; i++ {
			backoff *= 2
			if backoff >= g.cfg.MaxBackoff {
				backoff = g.cfg.MaxBackoff
				break
			}
		}
		until := now.Add(backoff)
		if until.After(e.lockedUntil) {
			e.lockedUntil = until
		}
		g.log.Debugf("FAIL key=%s fails=%d backoff=%s until=%s", k, e.fails, backoff, e.lockedUntil.Format(time.RFC3339))
	}
}

// Success clears the failure state for user and ip|user (and, if
// clearIPOnSuccess is set, ip as well).
func (g *Guard) Success(ip, user string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gcIfNeeded()

	now := g.now()
	trimIP := strings.TrimSpace(ip)
	trimUser := strings.TrimSpace(user)

	var toClear []string
	if trimUser != "" {
		toClear = append(toClear, "user:"+trimUser)
	}
	if trimIP != "" && trimUser != "" {
		toClear = append(toClear, "ipuser:"+trimIP+"|"+trimUser)
	}
	if g.clearIPOnSuccess && trimIP != "" && trimUser != "" {
		toClear = append(toClear, "ip:"+trimIP)
	}

	for _, k := range toClear {
		if e := g.get(k, now); e != nil {
			e.fails = 0
			e.lockedUntil = time.Time{}
			e.lastSeen = now
			g.log.Debugf("SUCCESS clear key=%s", k)
		}
	}
}

type Snapshot struct {
	Fails       int
	LockedUntil time.Time
}

func (g *Guard) Peek(ip, user string) Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()

	var s Snapshot
	for _, k := range keys(ip, user) {
		if e := g.get(k, now); e != nil {
			if e.fails > s.Fails {
				s.Fails = e.fails
			}
			if e.lockedUntil.After(s.LockedUntil) {
				s.LockedUntil = e.lockedUntil
			}
		}
	}
	return s
}

func (g *Guard) Stats() (keys int, blocked int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.gcIfNeeded()
	now := g.now()
	for _, e := range g.store {
		keys++
		if e.lockedUntil.After(now) {
			blocked++
		}
	}
	return
}

func (g *Guard) Clear(ip, user string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for _, k := range keys(ip, user) {
		if e := g.get(k, now); e != nil {
			e.fails = 0
			e.lockedUntil = time.Time{}
			e.lastSeen = now
			g.log.Debugf("CLEAR key=%s", k)
		}
	}
}

func (g *Guard) get(k string, now time.Time) *entry {
	e := g.store[k]
	if e == nil {
		return nil
	}
	if g.cfg.Window > 0 && !e.lastFail.IsZero() && now.Sub(e.lastFail) > g.cfg.Window {
		e.fails = 0
	}
	e.lastSeen = now
	return e
}

func (g *Guard) getOrCreate(k string, now time.Time) *entry {
	if e := g.get(k, now); e != nil {
		return e
	}
	e := &entry{lastSeen: now}
	g.store[k] = e
	return e
}

func (g *Guard) gcIfNeeded() {
	now := g.now()
	if now.Sub(g.lastGC) < g.cfg.GCInterval {
		return
	}
	g.lastGC = now
	alive := g.cfg.AliveFor
	for k, e := range g.store {
		if now.Sub(e.lastSeen) > alive {
			delete(g.store, k)
			g.log.Debugf("GC drop key=%s", k)
		}
	}
}

func keys(ip, user string) []string {
	ip = strings.TrimSpace(ip)
	user = strings.TrimSpace(user)
	switch {
	case ip != "" && user != "":
		return []string{"ip:" + ip, "user:" + user, "ipuser:" + ip + "|" + user}
	case ip != "":
		return []string{"ip:" + ip}
	case user != "":
		return []string{"user:" + user}
	default:
		return nil
	}
}
