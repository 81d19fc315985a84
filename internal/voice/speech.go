package voice

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ent0n29/videochat/internal/audio"
)

// MaxSpeechChunkRunes bounds each synthesis request.
const MaxSpeechChunkRunes = 200

// SpeakingRate maps the call speed preference to a TTS speed multiplier.
func SpeakingRate(speed string) float64 {
	switch strings.ToLower(strings.TrimSpace(speed)) {
	case "fast":
		return 1.2
	case "slow":
		return 0.8
	default:
		return 1.0
	}
}

// SplitForSpeech breaks text into sentence-aligned chunks of at most maxRunes.
// A sentence longer than maxRunes is cut on word boundaries, and a word longer
// than maxRunes (unspaced CJK text) is cut by rune count.
func SplitForSpeech(text string, maxRunes int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxRunes <= 0 {
		maxRunes = MaxSpeechChunkRunes
	}
	if utf8.RuneCountInString(text) <= maxRunes {
		return []string{text}
	}

	var (
		chunks  []string
		current string
	)
	flush := func() {
		if s := strings.TrimSpace(current); s != "" {
			chunks = append(chunks, s)
		}
		current = ""
	}
	add := func(piece string) {
		sep := joinSeparator(current)
		if current != "" && utf8.RuneCountInString(current)+len([]rune(sep))+utf8.RuneCountInString(piece) > maxRunes {
			flush()
			sep = ""
		}
		current += sep + piece
	}
	for _, sentence := range splitSentences(text) {
		if utf8.RuneCountInString(sentence) <= maxRunes {
			add(sentence)
			continue
		}
		flush()
		for _, word := range strings.Fields(sentence) {
			for _, piece := range cutRunes(word, maxRunes) {
				add(piece)
			}
		}
		flush()
	}
	flush()
	return chunks
}

// joinSeparator is the glue placed after current: none after CJK sentence
// marks or at the start of a chunk.
func joinSeparator(current string) string {
	if current == "" {
		return ""
	}
	last, _ := utf8.DecodeLastRuneInString(current)
	if isFullWidthStop(last) {
		return ""
	}
	return " "
}

func cutRunes(word string, maxRunes int) []string {
	r := []rune(word)
	if len(r) <= maxRunes {
		return []string{word}
	}
	out := make([]string, 0, len(r)/maxRunes+1)
	for len(r) > maxRunes {
		out = append(out, string(r[:maxRunes]))
		r = r[maxRunes:]
	}
	if len(r) > 0 {
		out = append(out, string(r))
	}
	return out
}

func isFullWidthStop(r rune) bool {
	return r == '。' || r == '！' || r == '？'
}

// splitSentences ends a sentence at a newline, at 。！？, or at .!? followed by
// whitespace or the end of text.
func splitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	for i, r := range text {
		next := i + utf8.RuneLen(r)
		switch {
		case r == '\n', isFullWidthStop(r):
		case r == '.' || r == '!' || r == '?':
			if next < len(text) && text[next] != ' ' && text[next] != '\n' {
				continue
			}
		default:
			continue
		}
		if s := strings.TrimSpace(text[start:next]); s != "" {
			out = append(out, s)
		}
		start = next
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// SynthesizeReply strips unspeakable markup and synthesizes it chunk by
// chunk. Empty speakable text yields an empty Synthesis and no error.
func SynthesizeReply(ctx context.Context, p TTSProvider, text string, cfg VoiceConfig) (Synthesis, error) {
	chunks := SplitForSpeech(speakableText(text), MaxSpeechChunkRunes)
	if len(chunks) == 0 {
		return Synthesis{}, nil
	}
	var (
		buf    bytes.Buffer
		format string
		ctype  string
	)
	for _, chunk := range chunks {
		syn, err := p.Synthesize(ctx, chunk, cfg)
		if err != nil {
			return Synthesis{}, err
		}
		buf.Write(syn.Audio)
		format, ctype = syn.Format, syn.ContentType
	}
	out := Synthesis{Audio: buf.Bytes(), Format: format, ContentType: ctype}
	if rate, ok := pcmSampleRate(format); ok {
		wav, err := audio.EncodeWAVPCM16LE(out.Audio, rate)
		if err != nil {
			return Synthesis{}, err
		}
		out.Audio = wav
		out.ContentType = "audio/wav"
	}
	return out, nil
}

func pcmSampleRate(format string) (int, bool) {
	rest, ok := strings.CutPrefix(strings.ToLower(format), "pcm_")
	if !ok {
		return 0, false
	}
	rate, err := strconv.Atoi(rest)
	if err != nil || rate <= 0 {
		return 0, false
	}
	return rate, true
}
