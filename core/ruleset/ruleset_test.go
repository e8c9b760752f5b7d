package ruleset

import (
	"errors"
	"testing"

	"synrelay/core/errs"
	"synrelay/model"
)

type noopAction struct{}

func (noopAction) Name() string                   { return "noop" }
func (noopAction) Execute(*model.Message) error { return nil }

func TestFirstConstructedBecomesDefault(t *testing.T) {
	r := NewRegistry()
	a, err := r.Construct("Alpha")
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	if _, err := r.Construct("beta"); err != nil {
		t.Fatalf("construct beta: %v", err)
	}
	r.Finalize()
	if r.Default() != a {
		t.Fatalf("expected first-constructed ruleset to be default")
	}
}

func TestNamesAreCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Construct("Alpha"); err != nil {
		t.Fatalf("construct: %v", err)
	}
	if _, ok := r.Get("ALPHA"); !ok {
		t.Fatalf("expected case-insensitive lookup to find Alpha")
	}
	if _, err := r.Construct("alpha"); !errors.Is(err, errs.ErrConfigInvalid) {
		t.Fatalf("expected duplicate construct to fail with ErrConfigInvalid, got %v", err)
	}
}

func TestAddRuleRejectsZeroActions(t *testing.T) {
	r := NewRegistry()
	rs, _ := r.Construct("main")
	r.AddRule(rs, &Rule{})
	r.AddRule(rs, nil)
	if len(rs.RulesSnapshot()) != 0 {
		t.Fatalf("expected zero-action rules to be dropped, got %d", len(rs.RulesSnapshot()))
	}
	r.AddRule(rs, &Rule{Actions: []Action{noopAction{}}})
	if len(rs.RulesSnapshot()) != 1 {
		t.Fatalf("expected one rule to survive")
	}
}

func TestAttachQueueToCurrentRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	rs, _ := r.Construct("main")
	r.SetCurrent("main")
	_ = rs

	if err := r.AttachQueueToCurrent(func() Queue { return fakeQueue{} }); err != nil {
		t.Fatalf("first attach: %v", err)
	}
	if err := r.AttachQueueToCurrent(func() Queue { return nil }); !errors.Is(err, errs.ErrRulesQueueExists) {
		t.Fatalf("expected ErrRulesQueueExists on second attach, got %v", err)
	}
}

func TestCurrentUnsetReturnsErrNoCurrRuleset(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Current(); !errors.Is(err, errs.ErrNoCurrRuleset) {
		t.Fatalf("expected ErrNoCurrRuleset, got %v", err)
	}
}

func TestDestroyAllClearsPointersBeforeTeardown(t *testing.T) {
	r := NewRegistry()
	r.Construct("main")
	r.SetCurrent("main")
	r.Finalize()

	var closedQueues int
	rs, _ := r.Get("main")
	rs.Queue = fakeQueue{}

	r.DestroyAll(func(Queue) { closedQueues++ })

	if closedQueues != 1 {
		t.Fatalf("expected one queue closed, got %d", closedQueues)
	}
	if r.Default() != nil {
		t.Fatalf("expected default pointer cleared after DestroyAll")
	}
	if _, err := r.Current(); !errors.Is(err, errs.ErrNoCurrRuleset) {
		t.Fatalf("expected current pointer cleared after DestroyAll")
	}
	if _, ok := r.Get("main"); ok {
		t.Fatalf("expected ruleset removed after DestroyAll")
	}
}

type fakeQueue struct{}

func (fakeQueue) Enqueue(*model.Message) error { return nil }
