package openclaw

import "strings"

const defaultCoalesceChars = 24

// deltaCoalescer merges token-sized stream deltas into phrase-sized chunks.
// The concatenation of everything it emits equals its input.
type deltaCoalescer struct {
	minChars int
	pending  string
	emitted  bool
}

func newDeltaCoalescer(minChars int) *deltaCoalescer {
	if minChars <= 0 {
		minChars = defaultCoalesceChars
	}
	return &deltaCoalescer{minChars: minChars}
}

func (c *deltaCoalescer) Consume(delta string) []string {
	if delta == "" {
		return nil
	}
	c.pending += delta
	return c.flush(false)
}

func (c *deltaCoalescer) Finalize() []string {
	return c.flush(true)
}

func (c *deltaCoalescer) flush(force bool) []string {
	var out []string
	for c.pending != "" {
		// The first chunk goes out early so the caller sees text quickly.
		threshold := c.minChars
		if !c.emitted {
			threshold = max(c.minChars/4, 2)
		}
		seg, rest, ok := nextSegment(c.pending, threshold, force)
		if !ok {
			break
		}
		c.pending = rest
		out = append(out, seg)
		c.emitted = true
	}
	return out
}

func nextSegment(input string, minChars int, force bool) (segment, rest string, ok bool) {
	if input == "" {
		return "", "", false
	}
	if force {
		return input, "", true
	}
	if idx := boundaryAfterMin(input, minChars); idx >= 0 {
		return input[:idx+1], input[idx+1:], true
	}
	// No punctuation yet; cut at a space once enough text has piled up.
	if len(input) >= minChars*2 {
		cut := whitespaceCut(input, minChars)
		return input[:cut], input[cut:], true
	}
	return "", input, false
}

func boundaryAfterMin(input string, minChars int) int {
	for i := max(minChars-1, 0); i < len(input); i++ {
		switch input[i] {
		case '.', '!', '?', '\n':
			return i
		}
	}
	return -1
}

func whitespaceCut(input string, minChars int) int {
	if len(input) <= minChars {
		return len(input)
	}
	limit := min(minChars+20, len(input))
	for i := minChars; i < limit; i++ {
		if strings.ContainsRune(" \t\r\n", rune(input[i])) {
			return i
		}
	}
	return minChars
}
