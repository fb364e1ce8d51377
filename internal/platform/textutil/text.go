package textutil

import (
	"fmt"
	"html"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
	keyFolder        = cases.Fold()
)

// NormalizeKey folds a display name into a stable, case-insensitive document key. Names that
// differ only in case, Unicode width or whitespace runs share a key; any other difference yields
// a different key. Characters Firestore reserves in document ids are percent-escaped, and '%'
// itself always is, so distinct canonical names never collide.
func NormalizeKey(value string) string {
	canonical := strings.Join(strings.Fields(keyFolder.String(norm.NFKC.String(value))), " ")
	if canonical == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(canonical))
	for _, r := range canonical {
		switch {
		case r == '%' || r == '/' || r == '\\' || unicode.IsControl(r):
			escapeRune(&b, r)
		default:
			b.WriteRune(r)
		}
	}
	key := b.String()
	switch {
	case key == "." || key == "..":
		key = strings.ReplaceAll(key, ".", "%2E")
	case len(key) > 4 && strings.HasPrefix(key, "__") && strings.HasSuffix(key, "__"):
		key = "%5F" + key[1:]
	}
	return key
}

func escapeRune(b *strings.Builder, r rune) {
	var buf [utf8.UTFMax]byte
	n := utf8.EncodeRune(buf[:], r)
	for _, c := range buf[:n] {
		fmt.Fprintf(b, "%%%02X", c)
	}
}

// SanitizeText strips markup from user-supplied free text and trims surrounding whitespace.
func SanitizeText(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(trimmed)))
}
