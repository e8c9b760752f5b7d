// Package errs defines the sentinel error kinds shared across the
// ingestion core, matching the error taxonomy every package returns
// instead of panicking (see mbp's plain error-return style in
// db.OpenGorm, ttls.LoadTLSConfig).
package errs

import "errors"

var (
	ErrConfigInvalid     = errors.New("CONFIG_INVALID")
	ErrNoListeners       = errors.New("NO_LISTENERS")
	ErrNoCurrRuleset     = errors.New("NO_CURR_RULESET")
	ErrRulesQueueExists  = errors.New("RULES_QUEUE_EXISTS")
	ErrParserNotFound    = errors.New("PARSER_NOT_FOUND")
	ErrPeerDenied        = errors.New("PEER_DENIED")
	ErrFrameMalformed    = errors.New("FRAME_MALFORMED")
	ErrIOTransient       = errors.New("IO_TRANSIENT")
	ErrResourceExhausted = errors.New("RESOURCE_EXHAUSTED")
	ErrShutdown          = errors.New("SHUTDOWN")
)
