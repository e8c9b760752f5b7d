// Package model holds the data types shared across the ingestion core:
// wire-level message records, permitted-peer entries, and the small
// structs the admin API and queue persist.
package model

import "time"

// Message is what a Session hands to the batch router once the frame
// reassembler has emitted a complete payload. It is the "user_msg_ptr"
// element of spec.md's Batch type.
type Message struct {
	Payload     []byte
	PeerAddr    string
	PeerFQDN    string
	PeerTLSName string
	InputName   string
	RulesetName string

	// Oversized is set when the delimited framer truncated the payload at
	// the configured maximum instead of discarding it outright.
	Oversized bool

	// Structured fields populated by core/parser, if a parser in the
	// ruleset's chain recognized the payload. Zero value means "unparsed".
	Facility  int
	Severity  int
	Timestamp time.Time
	Hostname  string
	AppName   string
	ParsedBy  string
}

// ElementState is the per-element state flag spec.md's Batch type carries.
type ElementState int

const (
	StateReady ElementState = iota
	StateDiscarded
)

// PermittedPeer is one entry of the ordered ACL sequence (spec.md §3).
type PermittedPeer struct {
	// Pattern is an IP prefix, hostname pattern (leading "*" wildcard), or
	// TLS verified-peer-name pattern.
	Pattern string
	Deny    bool
}
