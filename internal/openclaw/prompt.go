package openclaw

import (
	"fmt"
	"strings"
)

// Persona names the two parties of a call.
type Persona struct {
	AgentName string
	UserName  string
	Language  string
}

var languageNames = map[string]string{
	"en": "English",
	"it": "Italian",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"pt": "Portuguese",
	"ja": "Japanese",
	"zh": "Chinese",
}

// FrameUtterance wraps the user's words in the video call context the agent
// sees. Replies are requested short and free of markup since they are spoken.
func FrameUtterance(transcript string, p Persona, cameraOn bool) string {
	user := strings.TrimSpace(p.UserName)
	if user == "" {
		user = "User"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[Video Call] %s says: %q\n\n", user, strings.TrimSpace(transcript))
	if cameraOn {
		b.WriteString("A current frame from the user's camera is attached. Refer to what you see only when relevant.\n")
	} else {
		b.WriteString("The user's camera is off.\n")
	}
	if agent := strings.TrimSpace(p.AgentName); agent != "" {
		fmt.Fprintf(&b, "Stay in character as %s. ", agent)
	}
	b.WriteString("Reply conversationally in one to three short sentences. No markdown, lists, or emoji: your reply will be spoken aloud.")
	if lang := strings.ToLower(strings.TrimSpace(p.Language)); lang != "" && lang != "en" {
		name := languageNames[lang]
		if name == "" {
			name = lang
		}
		fmt.Fprintf(&b, "\nRespond in %s.", name)
	}
	return b.String()
}

// LastUserText returns the text of the final user message, if any.
func LastUserText(msgs []Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Text
		}
	}
	return ""
}
