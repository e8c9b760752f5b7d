// Package parser implements spec.md's parser chain builtins: structured
// RFC5424 parsing, legacy/BSD syslog parsing, and a raw passthrough,
// populating model.Message's structured fields when a payload is
// recognized. Grounded on the gravwell manifest's parser stack
// (github.com/crewjam/rfc5424, github.com/gravwell/syslogparser) and on
// core/ruleset's warn-and-skip-on-unknown-name lookup pattern.
package parser

import (
	"strings"
	"time"

	"github.com/crewjam/rfc5424"
	"github.com/gravwell/syslogparser/rfc3164"

	"synrelay/common/logx"
	"synrelay/core/errs"
	"synrelay/model"
)

// Parser matches core/ruleset.Parser: Name identifies it in the directive
// grammar's `rulesetparser` table, Parse reports whether it recognized and
// populated msg.
type Parser interface {
	Name() string
	Parse(msg *model.Message) bool
}

// RFC5424Parser recognizes IETF syslog (RFC 5424) structured messages.
type RFC5424Parser struct{}

func (RFC5424Parser) Name() string { return "rfc5424" }

func (RFC5424Parser) Parse(msg *model.Message) bool {
	var m rfc5424.Message
	if err := m.UnmarshalBinary(msg.Payload); err != nil {
		return false
	}
	msg.Facility = int(m.Priority / 8)
	msg.Severity = int(m.Priority % 8)
	if m.Timestamp != nil {
		msg.Timestamp = *m.Timestamp
	}
	msg.Hostname = strOrEmpty(m.Hostname)
	msg.AppName = strOrEmpty(m.AppName)
	msg.ParsedBy = "rfc5424"
	return true
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// LegacyParser recognizes BSD-style syslog (RFC 3164) messages, the most
// common format legacy appliances and network gear still emit.
type LegacyParser struct{}

func (LegacyParser) Name() string { return "legacy" }

func (LegacyParser) Parse(msg *model.Message) bool {
	p := rfc3164.NewParser(msg.Payload)
	if err := p.Parse(); err != nil {
		return false
	}
	fields := p.Dump()

	if pri, ok := fields["priority"].(int); ok {
		msg.Facility = pri / 8
		msg.Severity = pri % 8
	}
	switch ts := fields["timestamp"].(type) {
	case time.Time:
		msg.Timestamp = ts
	case string:
		// RFC 3164 carries no year; time.Stamp ("Jan _2 15:04:05") is the
		// closest stdlib layout to its wire format.
		if t, err := time.Parse(time.Stamp, ts); err == nil {
			msg.Timestamp = t
		}
	}
	if host, ok := fields["hostname"].(string); ok {
		msg.Hostname = host
	}
	if tag, ok := fields["tag"].(string); ok {
		msg.AppName = tag
	}
	msg.ParsedBy = "legacy"
	return true
}

// RawParser always "succeeds": it is the fallback builtin a ruleset binds
// when no structured format should be assumed, tagging the message as
// unparsed but still routed.
type RawParser struct{}

func (RawParser) Name() string { return "raw" }

func (RawParser) Parse(msg *model.Message) bool {
	msg.ParsedBy = "raw"
	return true
}

// Chain runs a session's bound parsers in order and stops at the first one
// that recognizes the payload, matching spec.md §4's "first match wins"
// parser chain semantics.
type Chain struct {
	parsers []Parser
	log     *logx.Logger
}

func NewChain(parsers []Parser) *Chain {
	return &Chain{parsers: parsers, log: logx.New(logx.WithPrefix("parser"))}
}

// Run applies the chain to msg, returning the name of the parser that
// matched, or "" if none did.
func (c *Chain) Run(msg *model.Message) string {
	for _, p := range c.parsers {
		if p.Parse(msg) {
			return p.Name()
		}
	}
	return ""
}

// Builtins is the name -> Parser lookup the config/directive layer
// resolves `rulesetparser` names against.
var Builtins = map[string]Parser{
	"rfc5424": RFC5424Parser{},
	"legacy":  LegacyParser{},
	"raw":     RawParser{},
}

// Lookup implements the PARSER_NOT_FOUND warn-and-skip contract: an unknown
// name returns errs.ErrParserNotFound rather than silently falling back.
func Lookup(name string) (Parser, error) {
	p, ok := Builtins[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, errs.ErrParserNotFound
	}
	return p, nil
}
