// Package frame implements the per-session byte-stream reassembler:
// spec.md §4.3's octet-counted / delimiter-terminated auto-detecting state
// machine. No teacher file does byte reassembly (mlkmbp forwards raw
// bytes); built in the teacher's small-struct-plus-explicit-state idiom
// (see mbp/core/limiter.ByteLimiter) directly from the framing algorithm.
package frame

import (
	"fmt"

	"synrelay/core/errs"
)

type Mode int

const (
	ModeUndecided Mode = iota
	ModeOctetCounted
	ModeDelimited
)

// DefaultMaxMessageSize is the fixed per-message size ceiling; spec.md §4.3
// requires at least 64 KiB.
const DefaultMaxMessageSize = 64 * 1024

// Frame is one fully reassembled message payload.
type Frame struct {
	Payload   []byte
	Oversized bool
}

// Reassembler holds one session's framing state. Not safe for concurrent
// use; a session drives it from a single goroutine.
type Reassembler struct {
	MaxMessageSize      int
	SupportOctetFraming bool
	DisableLFDelim      bool
	AddtlDelim          int // -1 = none

	mode          Mode
	buf           []byte
	countTarget   int
	countPending  int
	digitsSeen    int
	readingDigits bool
	oversized     bool
}

func New(maxMessageSize int, supportOctetFraming, disableLFDelim bool, addtlDelim int) *Reassembler {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	return &Reassembler{
		MaxMessageSize:      maxMessageSize,
		SupportOctetFraming: supportOctetFraming,
		DisableLFDelim:      disableLFDelim,
		AddtlDelim:          addtlDelim,
	}
}

// Feed drives the reassembler with one recv() chunk and returns every
// frame completed as a result, tolerating any split across calls. On a
// framing violation it returns errs.ErrFrameMalformed and the session must
// error-close (discarding any pending partial frame via Discard).
func (r *Reassembler) Feed(data []byte) ([]Frame, error) {
	var out []Frame
	i := 0
	for i < len(data) {
		b := data[i]
		switch r.mode {
		case ModeUndecided:
			if isFrameWS(b) {
				i++
				continue
			}
			if b >= '0' && b <= '9' && r.SupportOctetFraming {
				r.mode = ModeOctetCounted
				r.readingDigits = true
				r.countPending = 0
				r.digitsSeen = 0
				continue
			}
			r.mode = ModeDelimited
			r.buf = r.buf[:0]
			r.oversized = false
			continue

		case ModeOctetCounted:
			if r.readingDigits {
				if b == ' ' {
					if r.digitsSeen == 0 || r.countPending == 0 {
						r.reset()
						return out, fmt.Errorf("%w: zero-length octet count", errs.ErrFrameMalformed)
					}
					if r.countPending > r.MaxMessageSize {
						r.reset()
						return out, fmt.Errorf("%w: octet count %d exceeds max %d", errs.ErrFrameMalformed, r.countPending, r.MaxMessageSize)
					}
					r.readingDigits = false
					r.countTarget = r.countPending
					r.buf = make([]byte, 0, r.countTarget)
					i++
					continue
				}
				if b < '0' || b > '9' {
					r.reset()
					return out, fmt.Errorf("%w: non-digit %q in octet count", errs.ErrFrameMalformed, b)
				}
				r.digitsSeen++
				if r.digitsSeen > 9 {
					r.reset()
					return out, fmt.Errorf("%w: octet count exceeds 9 digits", errs.ErrFrameMalformed)
				}
				r.countPending = r.countPending*10 + int(b-'0')
				i++
				continue
			}

			remaining := r.countTarget - len(r.buf)
			take := len(data) - i
			if take > remaining {
				take = remaining
			}
			r.buf = append(r.buf, data[i:i+take]...)
			i += take
			if len(r.buf) == r.countTarget {
				out = append(out, Frame{Payload: r.buf})
				r.mode = ModeUndecided
				r.buf = nil
				r.countTarget = 0
			}
			continue

		case ModeDelimited:
			isDelim := (!r.DisableLFDelim && b == '\n') || (r.AddtlDelim >= 0 && int(b) == r.AddtlDelim)
			if isDelim {
				out = append(out, Frame{Payload: r.buf, Oversized: r.oversized})
				r.mode = ModeUndecided
				r.buf = nil
				r.oversized = false
				i++
				continue
			}
			if len(r.buf) < r.MaxMessageSize {
				r.buf = append(r.buf, b)
			} else {
				r.oversized = true
			}
			i++
			continue
		}
	}
	return out, nil
}

// Flush implements the regular-close prepare step: a non-empty pending
// frame is emitted as final, an in-progress octet count with no payload
// bytes yet collected yields nothing. Resets the reassembler either way.
func (r *Reassembler) Flush() *Frame {
	defer r.reset()
	switch r.mode {
	case ModeDelimited:
		if len(r.buf) == 0 {
			return nil
		}
		return &Frame{Payload: r.buf, Oversized: r.oversized}
	case ModeOctetCounted:
		if !r.readingDigits && len(r.buf) > 0 {
			return &Frame{Payload: r.buf}
		}
		return nil
	default:
		return nil
	}
}

// Discard implements the error-close path: any pending partial frame is
// dropped without emitting it.
func (r *Reassembler) Discard() {
	r.reset()
}

func (r *Reassembler) reset() {
	r.mode = ModeUndecided
	r.buf = nil
	r.countTarget = 0
	r.countPending = 0
	r.digitsSeen = 0
	r.readingDigits = false
	r.oversized = false
}

func isFrameWS(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}
