package session

import (
	"strings"
	"time"

	"github.com/ent0n29/videochat/internal/callerr"
)

// FormatPCM16 marks a clip of raw little-endian mono PCM16 samples. Such
// clips are wrapped as WAV before transcription.
const FormatPCM16 = "pcm16"

// AudioClip accumulates raw audio for the current turn.
type AudioClip struct {
	Data       []byte
	Format     string
	SampleRate int
}

// Frame is one camera image. Only the latest is kept.
type Frame struct {
	Data       []byte
	MediaType  string
	CapturedAt time.Time
}

// MediaBuffer holds one session's pending audio clip and frame. It is not
// safe for concurrent use; Session guards it.
type MediaBuffer struct {
	clip     AudioClip
	frame    *Frame
	maxAudio int
	maxFrame int
}

func NewMediaBuffer(maxAudioBytes, maxFrameBytes int) *MediaBuffer {
	return &MediaBuffer{maxAudio: maxAudioBytes, maxFrame: maxFrameBytes}
}

// AppendAudio adds a chunk to the clip. All chunks of one clip must share a
// format.
func (b *MediaBuffer) AppendAudio(chunk []byte, format string, sampleRate int) error {
	const op = "media.append_audio"
	format = strings.ToLower(strings.TrimSpace(format))
	if len(b.clip.Data) > 0 && format != "" && b.clip.Format != "" && format != b.clip.Format {
		return callerr.New(callerr.MalformedInput, op, "audio format changed mid-clip from "+b.clip.Format+" to "+format)
	}
	if b.maxAudio > 0 && len(b.clip.Data)+len(chunk) > b.maxAudio {
		return callerr.New(callerr.MalformedInput, op, "audio clip exceeds size limit")
	}
	b.clip.Data = append(b.clip.Data, chunk...)
	if format != "" {
		b.clip.Format = format
	}
	if sampleRate > 0 {
		b.clip.SampleRate = sampleRate
	}
	return nil
}

// SetFrame replaces the pending frame.
func (b *MediaBuffer) SetFrame(f Frame) error {
	const op = "media.set_frame"
	if len(f.Data) == 0 {
		return callerr.New(callerr.MalformedInput, op, "empty frame")
	}
	if b.maxFrame > 0 && len(f.Data) > b.maxFrame {
		return callerr.New(callerr.MalformedInput, op, "frame exceeds size limit")
	}
	if f.CapturedAt.IsZero() {
		f.CapturedAt = time.Now().UTC()
	}
	if b.frame != nil {
		clear(b.frame.Data)
	}
	b.frame = &f
	return nil
}

// TakeClip hands the clip over and empties the slot. The caller owns zeroing it.
func (b *MediaBuffer) TakeClip() AudioClip {
	c := b.clip
	b.clip = AudioClip{}
	return c
}

func (b *MediaBuffer) TakeFrame() *Frame {
	f := b.frame
	b.frame = nil
	return f
}

func (b *MediaBuffer) AudioLen() int { return len(b.clip.Data) }

func (b *MediaBuffer) HasFrame() bool { return b.frame != nil }

// Reset zeroes and drops everything buffered.
func (b *MediaBuffer) Reset() {
	clear(b.clip.Data)
	b.clip = AudioClip{}
	if b.frame != nil {
		clear(b.frame.Data)
		b.frame = nil
	}
}
