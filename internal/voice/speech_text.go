package voice

import (
	"regexp"
	"strings"
	"unicode"
)

// Markup rewrites applied in order before the rune filter.
var speakableRules = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile("(?s)```.*?```"), " "},
	{regexp.MustCompile("`[^`]*`"), " "},
	{regexp.MustCompile(`!?\[([^\]]*)\]\([^)]*\)`), "$1"},
	{regexp.MustCompile(`https?://\S+`), " "},
	{regexp.MustCompile(`(?m)^[ \t]*(?:[-*+]|\d+[.)]|#{1,6})[ \t]+`), ""},
}

var spaceBeforePunct = regexp.MustCompile(` +([.,!?;:])`)

// speakableText strips what a TTS voice would read out literally: code,
// links, list bullets, emphasis markers and emoji.
func speakableText(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	for _, rule := range speakableRules {
		text = rule.re.ReplaceAllString(text, rule.repl)
	}

	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Variation_Selector, r), unicode.In(r, unicode.Cf, unicode.Me):
		case unicode.IsControl(r) && !unicode.IsSpace(r):
		case unicode.IsSpace(r), unicode.In(r, unicode.So, unicode.Sm, unicode.Sk, unicode.Sc):
			pendingSpace = b.Len() > 0
		case unicode.IsPunct(r) && !keepsPunct(r):
			pendingSpace = b.Len() > 0
		default:
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return spaceBeforePunct.ReplaceAllString(b.String(), "$1")
}

func keepsPunct(r rune) bool {
	return strings.ContainsRune(`.,!?:;'"-()’`, r)
}
