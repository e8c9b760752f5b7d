package app

import (
	"sync"

	"synrelay/model"
)

// TailHub fans out recently dispatched messages to subscribers (the admin
// API's /tail websocket) and keeps a bounded ring buffer so a new
// subscriber can be handed recent history immediately. Grounded on the
// teacher's small broadcast-channel idioms (mbp/core/listener's per-
// session goroutine fan-out), adapted from per-connection delivery to a
// pub/sub ring buffer since here the fan-out target is arbitrary websocket
// viewers rather than one fixed downstream peer.
type TailHub struct {
	mu   sync.Mutex
	cap  int
	ring []*model.Message
	subs map[chan *model.Message]struct{}
}

func NewTailHub(capacity int) *TailHub {
	if capacity <= 0 {
		capacity = 200
	}
	return &TailHub{cap: capacity, subs: make(map[chan *model.Message]struct{})}
}

// Push records msg in the ring buffer and fans it out to every live
// subscriber, non-blocking: a slow subscriber drops frames rather than
// stalling dispatch.
func (h *TailHub) Push(msg *model.Message) {
	h.mu.Lock()
	h.ring = append(h.ring, msg)
	if len(h.ring) > h.cap {
		h.ring = h.ring[len(h.ring)-h.cap:]
	}
	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
		}
	}
	h.mu.Unlock()
}

// Subscribe returns a channel fed with every message pushed after this
// call, plus a snapshot of recent history. Unsubscribe must be called
// when the caller is done.
func (h *TailHub) Subscribe() (ch chan *model.Message, history []*model.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch = make(chan *model.Message, 32)
	h.subs[ch] = struct{}{}
	history = make([]*model.Message, len(h.ring))
	copy(history, h.ring)
	return ch, history
}

func (h *TailHub) Unsubscribe(ch chan *model.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}
