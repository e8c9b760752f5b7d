package input

import (
	"errors"
	"strings"
	"testing"

	"synrelay/common/config"
	"synrelay/core/errs"
	"synrelay/core/ruleset"
	"synrelay/model"
)

type discardSink struct{}

func (discardSink) Submit(*model.Message) {}

func TestActivateWithNoListenersReturnsErrNoListeners(t *testing.T) {
	reg := ruleset.NewRegistry()
	f := New(reg)
	err := f.ActivatePrePrivDrop(func(string) bool { return true }, discardSink{})
	if !errors.Is(err, errs.ErrNoListeners) {
		t.Fatalf("expected ErrNoListeners, got %v", err)
	}
}

func TestDirectiveGrammarDrivesFacade(t *testing.T) {
	reg := ruleset.NewRegistry()
	reg.Construct("main")
	f := New(reg)
	r := config.NewDirectiveReader(f)

	script := strings.NewReader(strings.Join([]string{
		"inputtcpserverrun 601",
		"inputtcpserverinputname syslog-main",
		"inputtcpserverbindruleset main",
		"inputtcpserversupportoctetcountedframing true",
		"inputtcpserverkeepalive true",
	}, "\n"))

	if err := r.ReadAll(script); err != nil {
		t.Fatalf("ReadAll: %v", err)
	}

	if err := f.ActivatePrePrivDrop(func(string) bool { return true }, discardSink{}); err != nil {
		t.Fatalf("ActivatePrePrivDrop: %v", err)
	}
	defer f.Destruct()

	if f.Server() == nil {
		t.Fatalf("expected server constructed")
	}
	if f.Server().ListenerCount() != 1 {
		t.Fatalf("expected 1 listener opened, got %d", f.Server().ListenerCount())
	}
}

func TestUnknownBindRulesetFallsBackToDefault(t *testing.T) {
	reg := ruleset.NewRegistry()
	reg.Construct("main")
	f := New(reg)

	if err := f.AppendListener(602); err != nil {
		t.Fatalf("AppendListener: %v", err)
	}
	if err := f.SetBindRuleset("does-not-exist"); err != nil {
		t.Fatalf("SetBindRuleset: %v", err)
	}

	if err := f.ActivatePrePrivDrop(func(string) bool { return true }, discardSink{}); err != nil {
		t.Fatalf("ActivatePrePrivDrop: %v", err)
	}
	defer f.Destruct()

	if f.Server().ListenerCount() != 1 {
		t.Fatalf("expected the listener to still activate despite unknown bind_ruleset")
	}
}
