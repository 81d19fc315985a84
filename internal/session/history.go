package session

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// FrameRef records that a frame was shown with a turn. The image itself is
// never retained.
type FrameRef struct {
	MediaType  string    `json:"media_type"`
	Size       int       `json:"size"`
	CapturedAt time.Time `json:"captured_at"`
}

type Turn struct {
	Role      Role       `json:"role"`
	Text      string     `json:"text"`
	Frames    []FrameRef `json:"frames,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// History is an append-only window of the most recent turns.
type History struct {
	max   int
	turns []Turn
}

// NewHistory keeps at most max turns; max <= 0 means unbounded.
func NewHistory(max int) *History {
	return &History{max: max}
}

// Append adds turns in order, dropping the oldest beyond the cap.
func (h *History) Append(turns ...Turn) {
	h.turns = append(h.turns, turns...)
	if h.max > 0 && len(h.turns) > h.max {
		drop := len(h.turns) - h.max
		kept := make([]Turn, h.max)
		copy(kept, h.turns[drop:])
		h.turns = kept
	}
}

// Turns returns a copy of the window, oldest first.
func (h *History) Turns() []Turn {
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

func (h *History) Len() int { return len(h.turns) }
