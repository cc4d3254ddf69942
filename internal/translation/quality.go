package translation

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// MinQuality is the score below which a tier's answer is discarded and the
// next tier is tried.
const MinQuality = 0.5

var htmlTagRe = regexp.MustCompile(`<\s*(/?)\s*([a-zA-Z][a-zA-Z0-9]*)[^>]*>`)

// Quality scores a candidate translation against its source without calling
// a second model: providers that echo the input, truncate it, pad it, or
// break its markup all score themselves out.
//
// Base 0.95. Echoing the source multiplies by 0.1, a length ratio outside
// [0.5, 2.0] by 0.7, a changed HTML tag multiset by 0.5; a ratio inside
// [0.7, 1.5] earns +0.05. The result is clipped to [0, 1].
func Quality(source, translated string) float64 {
	source = strings.TrimSpace(source)
	translated = strings.TrimSpace(translated)

	if translated == "" {
		return 0
	}

	score := 0.95

	if translated == source {
		score *= 0.1
	}

	ratio := 1.0
	if n := utf8.RuneCountInString(source); n > 0 {
		ratio = float64(utf8.RuneCountInString(translated)) / float64(n)
	}
	if ratio < 0.5 || ratio > 2.0 {
		score *= 0.7
	}

	if !sameTags(source, translated) {
		score *= 0.5
	}

	if ratio >= 0.7 && ratio <= 1.5 {
		score += 0.05
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// sameTags compares the HTML tag multisets of both texts. Tag names are
// case-folded; closing tags count separately from opening ones so a dropped
// </b> is caught even when another <b> appears.
func sameTags(source, translated string) bool {
	src := extractTags(source)
	dst := extractTags(translated)
	if len(src) != len(dst) {
		return false
	}
	for i := range src {
		if src[i] != dst[i] {
			return false
		}
	}
	return true
}

func extractTags(text string) []string {
	matches := htmlTagRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}
	tags := make([]string, 0, len(matches))
	for _, m := range matches {
		tags = append(tags, m[1]+strings.ToLower(m[2]))
	}
	sort.Strings(tags)
	return tags
}
