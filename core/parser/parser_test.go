package parser

import (
	"testing"

	"synrelay/model"
)

func TestRawParserAlwaysMatches(t *testing.T) {
	msg := &model.Message{Payload: []byte("anything at all")}
	if !(RawParser{}.Parse(msg)) {
		t.Fatalf("expected raw parser to always match")
	}
	if msg.ParsedBy != "raw" {
		t.Fatalf("expected ParsedBy=raw, got %q", msg.ParsedBy)
	}
}

func TestLegacyParserRecognizesBSDSyslog(t *testing.T) {
	msg := &model.Message{Payload: []byte("<34>Oct 11 22:14:15 mymachine su: 'su root' failed for lonvick on /dev/pts/8")}
	if !(LegacyParser{}.Parse(msg)) {
		t.Fatalf("expected legacy parser to recognize RFC3164 payload")
	}
	if msg.Hostname != "mymachine" {
		t.Fatalf("expected hostname mymachine, got %q", msg.Hostname)
	}
	if msg.ParsedBy != "legacy" {
		t.Fatalf("expected ParsedBy=legacy, got %q", msg.ParsedBy)
	}
}

func TestChainStopsAtFirstMatch(t *testing.T) {
	c := NewChain([]Parser{RawParser{}, LegacyParser{}})
	msg := &model.Message{Payload: []byte("<34>Oct 11 22:14:15 mymachine su: boom")}
	name := c.Run(msg)
	if name != "raw" {
		t.Fatalf("expected raw (first in chain) to win, got %q", name)
	}
}

func TestLookupUnknownReturnsParserNotFound(t *testing.T) {
	if _, err := Lookup("made-up-format"); err == nil {
		t.Fatalf("expected error for unknown parser name")
	}
}

func TestLookupKnownBuiltins(t *testing.T) {
	for _, name := range []string{"rfc5424", "legacy", "raw"} {
		if _, err := Lookup(name); err != nil {
			t.Fatalf("Lookup(%q): %v", name, err)
		}
	}
}
