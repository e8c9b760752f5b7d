package app

import (
	"testing"
	"time"

	"synrelay/model"
)

func TestTailHubSubscribeReceivesHistoryThenLive(t *testing.T) {
	h := NewTailHub(4)
	h.Push(&model.Message{Payload: []byte("one")})

	ch, history := h.Subscribe()
	defer h.Unsubscribe(ch)

	if len(history) != 1 || string(history[0].Payload) != "one" {
		t.Fatalf("expected history to contain the prior push, got %v", history)
	}

	h.Push(&model.Message{Payload: []byte("two")})
	select {
	case msg := <-ch:
		if string(msg.Payload) != "two" {
			t.Fatalf("expected live push 'two', got %q", msg.Payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for live push")
	}
}

func TestTailHubRingBufferBoundsHistory(t *testing.T) {
	h := NewTailHub(2)
	h.Push(&model.Message{Payload: []byte("a")})
	h.Push(&model.Message{Payload: []byte("b")})
	h.Push(&model.Message{Payload: []byte("c")})

	_, history := h.Subscribe()
	if len(history) != 2 {
		t.Fatalf("expected ring buffer capped at 2, got %d", len(history))
	}
	if string(history[0].Payload) != "b" || string(history[1].Payload) != "c" {
		t.Fatalf("expected oldest entry evicted, got %v", history)
	}
}

func TestTailHubUnsubscribeClosesChannel(t *testing.T) {
	h := NewTailHub(4)
	ch, _ := h.Subscribe()
	h.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed after unsubscribe")
	}
}
