package app

import (
	"path/filepath"
	"testing"

	"synrelay/common/config"
	"synrelay/core/ruleset"
	"synrelay/model"
)

func TestBuildActionDiscard(t *testing.T) {
	a := &App{}
	act, err := a.buildAction(nil, config.ActionSpec{Type: "discard"})
	if err != nil {
		t.Fatalf("buildAction: %v", err)
	}
	if act.Name() != "discard" {
		t.Fatalf("expected discard action, got %q", act.Name())
	}
}

func TestBuildActionFile(t *testing.T) {
	a := &App{}
	path := filepath.Join(t.TempDir(), "out.log")
	act, err := a.buildAction(nil, config.ActionSpec{Type: "file", Path: path})
	if err != nil {
		t.Fatalf("buildAction: %v", err)
	}
	if act == nil {
		t.Fatalf("expected a non-nil action")
	}
}

func TestBuildActionUnknownTypeErrors(t *testing.T) {
	a := &App{}
	if _, err := a.buildAction(nil, config.ActionSpec{Type: "bogus"}); err == nil {
		t.Fatalf("expected an error for an unknown action type")
	}
}

func TestBuildActionQueueRequiresAttachedQueue(t *testing.T) {
	a := &App{}
	rs := &ruleset.Ruleset{Name: "main"}
	if _, err := a.buildAction(rs, config.ActionSpec{Type: "queue"}); err == nil {
		t.Fatalf("expected an error when the ruleset has no attached queue")
	}
}

type fakeQueue struct{ got []string }

func (q *fakeQueue) Enqueue(msg *model.Message) error {
	q.got = append(q.got, string(msg.Payload))
	return nil
}

func TestBuildActionQueueEnqueuesOntoAttachedQueue(t *testing.T) {
	a := &App{}
	fq := &fakeQueue{}
	rs := &ruleset.Ruleset{Name: "main", Queue: fq}
	act, err := a.buildAction(rs, config.ActionSpec{Type: "queue"})
	if err != nil {
		t.Fatalf("buildAction: %v", err)
	}
	if err := act.Execute(&model.Message{Payload: []byte("hello")}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(fq.got) != 1 || fq.got[0] != "hello" {
		t.Fatalf("expected the message to reach the attached queue, got %v", fq.got)
	}
}

func TestFingerprintIsStableAndSensitiveToChange(t *testing.T) {
	c1 := &config.Config{MaxSessions: 10}
	c2 := &config.Config{MaxSessions: 10}
	c3 := &config.Config{MaxSessions: 20}

	if fingerprint(c1) != fingerprint(c2) {
		t.Fatalf("expected identical configs to fingerprint identically")
	}
	if fingerprint(c1) == fingerprint(c3) {
		t.Fatalf("expected different configs to fingerprint differently")
	}
}
