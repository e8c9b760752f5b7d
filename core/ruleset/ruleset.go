// Package ruleset implements spec.md §4.6's L6 component: a case-insensitive
// named registry of Rulesets with default/current pointers, per-ruleset
// parser chains and optional private queues. Grounded on mbp/app.App's
// Rr map[int64]*RunningRule keyed registry (generalized from int64 rule ids
// to ruleset names) and mbp/db/dao's aggregator-construction idiom for the
// optional private queue.
package ruleset

import (
	"strings"
	"sync"

	"synrelay/common/logx"
	"synrelay/core/errs"
	"synrelay/model"
)

// Action is one step of a Rule's ordered action chain; core/action's
// reference plugins (discard, file, forward) implement it.
type Action interface {
	Name() string
	Execute(msg *model.Message) error
}

// Parser is one step of a Ruleset's parser chain; core/parser.Chain's
// builtins (rfc5424, legacy, raw) implement it.
type Parser interface {
	Name() string
	Parse(msg *model.Message) bool
}

// Queue is the narrow collaborator interface spec.md treats as external;
// core/queue.Queue satisfies it.
type Queue interface {
	Enqueue(msg *model.Message) error
}

// Rule is spec.md §3's Rule type: an ordered action sequence.
type Rule struct {
	Actions []Action
}

// Ruleset is spec.md §3's Ruleset type.
type Ruleset struct {
	Name    string
	mu      sync.RWMutex
	Rules   []*Rule
	Parsers []Parser
	Queue   Queue

	parsersInherited bool
}

// RulesSnapshot returns the current rule list under lock, for dispatch.
func (rs *Ruleset) RulesSnapshot() []*Rule {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]*Rule, len(rs.Rules))
	copy(out, rs.Rules)
	return out
}

// ParsersSnapshot returns a copy of the ruleset's own parser chain, which
// may be empty. Falling back to the default ruleset's chain when it is
// empty is done by the caller (core/batch's fast path).
func (rs *Ruleset) ParsersSnapshot() []Parser {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	out := make([]Parser, len(rs.Parsers))
	copy(out, rs.Parsers)
	return out
}

// Registry is spec.md §4.6's ruleset registry.
type Registry struct {
	mu          sync.RWMutex
	byName      map[string]*Ruleset
	order       []string
	defaultName string
	currentName string
	finalized   bool
	log         *logx.Logger
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Ruleset),
		log:    logx.New(logx.WithPrefix("ruleset")),
	}
}

func key(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Construct implements construct(name) -> ruleset: error if name already
// present.
func (r *Registry) Construct(name string) (*Ruleset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(name)
	if k == "" {
		return nil, errs.ErrConfigInvalid
	}
	if _, exists := r.byName[k]; exists {
		return nil, errs.ErrConfigInvalid
	}
	rs := &Ruleset{Name: name, parsersInherited: true}
	r.byName[k] = rs
	r.order = append(r.order, k)
	if r.defaultName == "" {
		r.defaultName = k
	}
	return rs, nil
}

// SetDefault and SetCurrent are silent no-ops on an unknown name, matching
// legacy behavior (see DESIGN.md's Open Question decision); a Warn is
// logged so the no-op isn't silent to an operator.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(name)
	if _, ok := r.byName[k]; !ok {
		r.log.Warnf("ruleset: set_default: unknown ruleset %q, ignored", name)
		return
	}
	r.defaultName = k
}

func (r *Registry) SetCurrent(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := key(name)
	if _, ok := r.byName[k]; !ok {
		r.log.Warnf("ruleset: set_current: unknown ruleset %q, ignored", name)
		return
	}
	r.currentName = k
}

// Get implements get(name) -> ruleset?.
func (r *Registry) Get(name string) (*Ruleset, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.byName[key(name)]
	return rs, ok
}

// Default returns the default ruleset, resolving the "first constructed
// becomes default if still unset" invariant at finalize time.
func (r *Registry) Default() *Ruleset {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.defaultName == "" {
		return nil
	}
	return r.byName[r.defaultName]
}

// Current returns the current ruleset, or errs.ErrNoCurrRuleset if unset.
func (r *Registry) Current() (*Ruleset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.currentName == "" {
		return nil, errs.ErrNoCurrRuleset
	}
	rs, ok := r.byName[r.currentName]
	if !ok {
		return nil, errs.ErrNoCurrRuleset
	}
	return rs, nil
}

// Finalize applies the "default pointer set to first constructed ruleset
// if still unset" invariant. Call once after config load completes.
func (r *Registry) Finalize() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.defaultName == "" && len(r.order) > 0 {
		r.defaultName = r.order[0]
	}
	r.finalized = true
}

// AddRule implements add_rule(ruleset, rule): drops rules with zero
// actions with a warning, never stores them.
func (r *Registry) AddRule(rs *Ruleset, rule *Rule) {
	if rule == nil || len(rule.Actions) == 0 {
		r.log.Warnf("ruleset: dropping rule with zero actions in %q", rs.Name)
		return
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.Rules = append(rs.Rules, rule)
}

// AddParser implements add_parser(ruleset, parser_name): the first
// addition removes inherited defaults; subsequent additions append.
func (r *Registry) AddParser(rs *Ruleset, p Parser) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.parsersInherited {
		rs.Parsers = nil
		rs.parsersInherited = false
	}
	rs.Parsers = append(rs.Parsers, p)
}

// AttachQueueToCurrent implements attach_queue(ruleset) as the legacy
// directive table expresses it (operating on the registry's current
// ruleset): constructs a private queue via factory, failing if one
// already exists or if no current ruleset is set.
func (r *Registry) AttachQueueToCurrent(factory func() Queue) error {
	rs, err := r.Current()
	if err != nil {
		return err
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.Queue != nil {
		return errs.ErrRulesQueueExists
	}
	rs.Queue = factory()
	return nil
}

// DestroyAll implements destroy_all(): tears down every ruleset and all
// owned queues; safe to call during config reload. Per DESIGN.md's Open
// Question decision, default/current pointers are cleared first.
func (r *Registry) DestroyAll(closeQueue func(Queue)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.defaultName = ""
	r.currentName = ""

	for _, k := range r.order {
		rs := r.byName[k]
		rs.mu.Lock()
		if rs.Queue != nil && closeQueue != nil {
			closeQueue(rs.Queue)
		}
		rs.Queue = nil
		rs.Rules = nil
		rs.Parsers = nil
		rs.mu.Unlock()
	}
	r.byName = make(map[string]*Ruleset)
	r.order = nil
	r.finalized = false
}

// ActionVisitor is invoked once per action during IterateAllActions.
type ActionVisitor func(rulesetName string, ruleIndex, actionIndex int, a Action) error

// IterateAllActions implements iterate_all_actions(fn, ctx): visits every
// action of every rule of every ruleset exactly once, in registry
// insertion order, then rule insertion order, then action insertion
// order. Used for HUP and shutdown broadcast.
func (r *Registry) IterateAllActions(fn ActionVisitor) error {
	r.mu.RLock()
	order := append([]string(nil), r.order...)
	sets := make([]*Ruleset, 0, len(order))
	for _, k := range order {
		sets = append(sets, r.byName[k])
	}
	r.mu.RUnlock()

	for _, rs := range sets {
		rules := rs.RulesSnapshot()
		for ri, rule := range rules {
			for ai, a := range rule.Actions {
				if err := fn(rs.Name, ri, ai, a); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Names returns the registry's names in insertion order, for admin
// introspection.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
