package channel

import (
	"regexp"
	"strings"
)

var mentionPattern = regexp.MustCompile(`<@!?\w+>`)

// CleanMentions removes user mention markup and collapses the whitespace
// left behind.
func CleanMentions(text string) string {
	return strings.Join(strings.Fields(mentionPattern.ReplaceAllString(text, "")), " ")
}
