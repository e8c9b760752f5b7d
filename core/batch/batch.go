// Package batch implements spec.md §4.7's L7 component: the single-ruleset
// fast path and the multi-ruleset partitioning algorithm, dispatching a
// batch of messages to the ruleset registry's rule chains. No teacher file
// partitions cross-key; built from the spec's algorithm directly in the
// idiom of mbp/db/dao/traffic_log_aggregator.go's group-by-key-preserving-
// order loop.
package batch

import (
	"sync/atomic"

	"synrelay/core/ruleset"
	"synrelay/model"
)

// Element is spec.md §3's Batch element: a message plus its dispatch
// state.
type Element struct {
	Msg   *model.Message
	State model.ElementState
}

// ShutdownFlag is the shared reference spec.md §4.7 says sub-batches
// inherit so mid-batch shutdown aborts all paths.
type ShutdownFlag struct {
	flag atomic.Bool
}

func (f *ShutdownFlag) Set()        { f.flag.Store(true) }
func (f *ShutdownFlag) IsSet() bool { return f.flag.Load() }

// Batch is spec.md §3's Batch type.
type Batch struct {
	Elements      []Element
	SingleRuleset bool
	// Ruleset is only consulted on the single-ruleset fast path; nil means
	// "use the registry's default".
	Ruleset  *ruleset.Ruleset
	Shutdown *ShutdownFlag
}

// Registry is the narrow lookup the router needs from core/ruleset.
type Registry interface {
	Get(name string) (*ruleset.Ruleset, bool)
	Default() *ruleset.Ruleset
}

// Router dispatches batches to rulesets.
type Router struct {
	registry Registry
}

func NewRouter(registry Registry) *Router {
	return &Router{registry: registry}
}

// Submit implements core/session.Sink so sessions can feed messages
// straight into per-message single-element batches; callers doing real
// batching construct a Batch directly and call Dispatch.
func (r *Router) Submit(msg *model.Message) {
	b := &Batch{
		Elements:      []Element{{Msg: msg}},
		SingleRuleset: msg.RulesetName != "",
	}
	if b.SingleRuleset {
		if rs, ok := r.registry.Get(msg.RulesetName); ok {
			b.Ruleset = rs
		} else {
			b.SingleRuleset = false
		}
	}
	r.Dispatch(b)
}

// Dispatch routes b through the fast path or the partitioning algorithm
// depending on b.SingleRuleset.
func (r *Router) Dispatch(b *Batch) {
	if b.SingleRuleset {
		rs := b.Ruleset
		if rs == nil {
			rs = r.registry.Default()
		}
		r.fastPath(b.Elements, rs, b.Shutdown)
		return
	}
	r.partition(b)
}

// runParsers applies rs's parser chain to every not-yet-parsed element,
// first match wins, before any rule sees the batch — SPEC_FULL.md §5's
// parser chain execution step.
func runParsers(elems []Element, rs *ruleset.Ruleset) {
	parsers := rs.ParsersSnapshot()
	if len(parsers) == 0 {
		return
	}
	for i := range elems {
		msg := elems[i].Msg
		if msg == nil || msg.ParsedBy != "" {
			continue
		}
		for _, p := range parsers {
			if p.Parse(msg) {
				break
			}
		}
	}
}

// fastPath implements spec.md §4.7's single-ruleset fast path: the batch
// is handed to each rule in insertion order, each rule processing all
// READY elements before the next rule runs.
func (r *Router) fastPath(elems []Element, rs *ruleset.Ruleset, shutdown *ShutdownFlag) {
	if rs == nil {
		return
	}
	// A ruleset with an empty parser chain inherits the default ruleset's.
	parserSrc := rs
	if len(rs.ParsersSnapshot()) == 0 {
		if def := r.registry.Default(); def != nil {
			parserSrc = def
		}
	}
	runParsers(elems, parserSrc)
	for _, rule := range rs.RulesSnapshot() {
		if shutdown != nil && shutdown.IsSet() {
			return
		}
		for i := range elems {
			if elems[i].State == model.StateDiscarded {
				continue
			}
			for _, a := range rule.Actions {
				if err := a.Execute(elems[i].Msg); err != nil {
					elems[i].State = model.StateDiscarded
					break
				}
			}
		}
	}
}

// partition implements spec.md §4.7's multi-ruleset partitioning
// algorithm: carve a per-ruleset sub-batch in place, dispatch it via the
// fast path, and repeat until every element has been dispatched exactly
// once.
func (r *Router) partition(b *Batch) {
	elems := b.Elements
	n := len(elems)

	for {
		if b.Shutdown != nil && b.Shutdown.IsSet() {
			return
		}
		first := -1
		for i := range elems {
			if elems[i].State != model.StateDiscarded {
				first = i
				break
			}
		}
		if first == -1 {
			return
		}

		rsName := elems[first].Msg.RulesetName
		rs, ok := r.registry.Get(rsName)
		if !ok {
			rs = r.registry.Default()
		}

		sub := make([]Element, 0, n)
		for i := range elems {
			if elems[i].State == model.StateDiscarded {
				continue
			}
			if elems[i].Msg.RulesetName != rsName {
				continue
			}
			sub = append(sub, Element{Msg: elems[i].Msg})
			elems[i].State = model.StateDiscarded
		}

		r.fastPath(sub, rs, b.Shutdown)
	}
}
