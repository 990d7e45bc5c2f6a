package analytics

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/mains-analytics/internal/core/model"
)

var punctSpace = regexp.MustCompile(`\s*([=<>!\.,\(\)])\s*`)

// ViewKey fingerprints the inputs of a pass. Two views with the same key yield the same
// numbers, so sinks can use it to de-duplicate or partition results.
func ViewKey(bbox model.BBox, visible model.Visibility, where string) string {
	layers := strings.Join(visible.Keys(), ",")
	whereText := normalizeWhere(where)
	whereSafe := sanitizeForKey(whereText)

	const maxWhereTextLen = 80
	if len(whereSafe) > maxWhereTextLen {
		whereSafe = whereSafe[:maxWhereTextLen]
	}

	sum := xxhash.Sum64String(bbox.String() + "|" + layers + "|" + whereText)
	return fmt.Sprintf("view:layers=%s:where=%s:f=%016x", sanitizeForKey(layers), whereSafe, sum)
}

func normalizeWhere(s string) string {
	if s == "" {
		return ""
	}
	s = collapseASCIIWhitespace(strings.TrimSpace(s))
	return punctSpace.ReplaceAllString(s, "$1")
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		var out rune
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-' || r == '=' || r == ',' || r == '.':
			out = r
		case r == '>' || r == '<':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
