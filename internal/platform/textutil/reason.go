package textutil

import (
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

// MaxReasonLength bounds free-text reasons stored on orders and returns.
const MaxReasonLength = 500

var strictPolicy = bluemonday.StrictPolicy()

// CleanReason strips markup, normalises to NFC, collapses whitespace and truncates to
// maxRunes. A non-positive maxRunes applies MaxReasonLength.
func CleanReason(value string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = MaxReasonLength
	}
	stripped := strictPolicy.Sanitize(value)
	// bluemonday escapes entities; reasons are stored as plain text.
	stripped = unescapeBasicEntities(stripped)
	normalised := norm.NFC.String(stripped)

	var b strings.Builder
	b.Grow(len(normalised))
	space := false
	runes := 0
	for _, r := range normalised {
		if runes >= maxRunes {
			break
		}
		if unicode.IsSpace(r) {
			space = b.Len() > 0
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		if space {
			b.WriteRune(' ')
			runes++
			space = false
			if runes >= maxRunes {
				break
			}
		}
		b.WriteRune(r)
		runes++
	}
	return b.String()
}

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&#34;", `"`,
	"&#39;", "'",
	"&quot;", `"`,
)

func unescapeBasicEntities(value string) string {
	return entityReplacer.Replace(value)
}
