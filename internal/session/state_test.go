package session

import (
	"errors"
	"testing"

	"github.com/ent0n29/videochat/internal/callerr"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateListening, true},
		{StateListening, StateTranscribing, true},
		{StateTranscribing, StateThinking, true},
		{StateTranscribing, StateIdle, true},
		{StateThinking, StateSpeaking, true},
		{StateSpeaking, StateIdle, true},
		{StateThinking, StateError, true},
		{StateError, StateIdle, true},
		{StateIdle, StateThinking, false},
		{StateSpeaking, StateListening, false},
		{StateTerminated, StateIdle, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestHistoryDropsOldestFirst(t *testing.T) {
	h := NewHistory(4)
	for _, text := range []string{"1", "2", "3", "4", "5", "6"} {
		h.Append(Turn{Role: RoleUser, Text: text})
	}
	got := h.Turns()
	if len(got) != 4 {
		t.Fatalf("len = %d, want 4", len(got))
	}
	for i, want := range []string{"3", "4", "5", "6"} {
		if got[i].Text != want {
			t.Fatalf("turn %d = %q, want %q", i, got[i].Text, want)
		}
	}
	got[0].Text = "mutated"
	if h.Turns()[0].Text != "3" {
		t.Fatalf("Turns() must return a copy")
	}
}

func TestMediaBuffer(t *testing.T) {
	b := NewMediaBuffer(4, 2)
	if err := b.AppendAudio([]byte{1, 2}, "webm", 0); err != nil {
		t.Fatalf("AppendAudio() error = %v", err)
	}
	if err := b.AppendAudio([]byte{3}, "wav", 0); !errors.Is(err, callerr.ErrMalformedInput) {
		t.Fatalf("format change error = %v", err)
	}
	if err := b.AppendAudio([]byte{3, 4, 5}, "webm", 0); !errors.Is(err, callerr.ErrMalformedInput) {
		t.Fatalf("oversize error = %v", err)
	}
	if err := b.SetFrame(Frame{Data: []byte{1, 2, 3}}); !errors.Is(err, callerr.ErrMalformedInput) {
		t.Fatalf("oversize frame error = %v", err)
	}

	first := []byte{7}
	_ = b.SetFrame(Frame{Data: first, MediaType: "image/jpeg"})
	_ = b.SetFrame(Frame{Data: []byte{8}, MediaType: "image/png"})
	if first[0] != 0 {
		t.Fatalf("replaced frame should be zeroed")
	}
	if f := b.TakeFrame(); f == nil || f.MediaType != "image/png" || f.CapturedAt.IsZero() {
		t.Fatalf("TakeFrame() = %+v", f)
	}
	if b.HasFrame() {
		t.Fatalf("frame slot should be empty after take")
	}

	clip := b.TakeClip()
	if string(clip.Data) != string([]byte{1, 2}) || clip.Format != "webm" || b.AudioLen() != 0 {
		t.Fatalf("TakeClip() = %+v, remaining %d", clip, b.AudioLen())
	}

	data := []byte{5, 5}
	_ = b.AppendAudio(data, "", 0)
	b.Reset()
	if b.AudioLen() != 0 {
		t.Fatalf("Reset() should empty the clip")
	}
}
