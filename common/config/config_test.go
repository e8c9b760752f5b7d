package config

import (
	"errors"
	"strings"
	"testing"

	"synrelay/core/errs"
)

// recordingTarget implements Directives, recording each call for
// assertions without needing a real input.Facade.
type recordingTarget struct {
	calls []string
}

func (r *recordingTarget) AppendListener(port int) error {
	r.calls = append(r.calls, "AppendListener")
	return nil
}
func (r *recordingTarget) SetKeepAlive(bool) error {
	r.calls = append(r.calls, "SetKeepAlive")
	return nil
}
func (r *recordingTarget) SetSupportOctetFraming(bool) error {
	r.calls = append(r.calls, "SetSupportOctetFraming")
	return nil
}
func (r *recordingTarget) SetMaxSessions(int) error {
	r.calls = append(r.calls, "SetMaxSessions")
	return nil
}
func (r *recordingTarget) SetMaxListeners(int) error {
	r.calls = append(r.calls, "SetMaxListeners")
	return nil
}
func (r *recordingTarget) SetNotifyOnClose(bool) error {
	r.calls = append(r.calls, "SetNotifyOnClose")
	return nil
}
func (r *recordingTarget) SetStreamDriverMode(int) error {
	r.calls = append(r.calls, "SetStreamDriverMode")
	return nil
}
func (r *recordingTarget) SetStreamDriverAuthMode(string) error {
	r.calls = append(r.calls, "SetStreamDriverAuthMode")
	return nil
}
func (r *recordingTarget) AppendPermittedPeer(string) error {
	r.calls = append(r.calls, "AppendPermittedPeer")
	return nil
}
func (r *recordingTarget) SetAddTLFrameDelimiter(int) error {
	r.calls = append(r.calls, "SetAddTLFrameDelimiter")
	return nil
}
func (r *recordingTarget) SetDisableLFDelimiter(bool) error {
	r.calls = append(r.calls, "SetDisableLFDelimiter")
	return nil
}
func (r *recordingTarget) SetInputName(string) error {
	r.calls = append(r.calls, "SetInputName")
	return nil
}
func (r *recordingTarget) SetBindRuleset(string) error {
	r.calls = append(r.calls, "SetBindRuleset")
	return nil
}
func (r *recordingTarget) SetFlowControl(bool) error {
	r.calls = append(r.calls, "SetFlowControl")
	return nil
}
func (r *recordingTarget) AppendCurrentRulesetParser(string) error {
	r.calls = append(r.calls, "AppendCurrentRulesetParser")
	return nil
}
func (r *recordingTarget) SetCurrentRulesetCreateMainQueue(bool) error {
	r.calls = append(r.calls, "SetCurrentRulesetCreateMainQueue")
	return nil
}
func (r *recordingTarget) ResetConfigVariables() error {
	r.calls = append(r.calls, "ResetConfigVariables")
	return nil
}

func TestDirectiveReaderDispatchesEveryDirective(t *testing.T) {
	script := `
# a comment line, and a blank line follow

inputtcpserverrun 601
inputtcpserverkeepalive on
inputtcpserversupportoctetcountedframing yes
inputtcpmaxsessions 100
inputtcpmaxlisteners 5
inputtcpservernotifyonconnectionclose on
inputtcpserverstreamdrivermode 1
inputtcpserverstreamdriverauthmode name
inputtcpserverstreamdriverpermittedpeer *.example.com
inputtcpserveraddtlframedelimiter 10
inputtcpserverdisablelfdelimiter off
inputtcpserverinputname main
inputtcpserverbindruleset main
inputtcpflowcontrol on
rulesetparser rfc5424
rulesetcreatemainqueue on
resetconfigvariables
`
	target := &recordingTarget{}
	r := NewDirectiveReader(target)
	if err := r.ReadAll(strings.NewReader(script)); err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(target.calls) != 17 {
		t.Fatalf("expected 17 directive calls, got %d: %v", len(target.calls), target.calls)
	}
}

func TestDirectiveReaderRejectsUnknownDirective(t *testing.T) {
	target := &recordingTarget{}
	r := NewDirectiveReader(target)
	err := r.ReadAll(strings.NewReader("bogusdirective 1"))
	if !errors.Is(err, errs.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestDirectiveReaderRejectsBadPort(t *testing.T) {
	target := &recordingTarget{}
	r := NewDirectiveReader(target)
	err := r.ReadAll(strings.NewReader("inputtcpserverrun notaport"))
	if !errors.Is(err, errs.ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestParseBoolRecognizedForms(t *testing.T) {
	cases := map[string]bool{"1": true, "true": true, "yes": true, "on": true, "0": false, "false": false, "no": false, "": false}
	for in, want := range cases {
		if got := parseBool(in); got != want {
			t.Fatalf("parseBool(%q) = %v, want %v", in, got, want)
		}
	}
}
