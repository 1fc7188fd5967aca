package extract

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
)

var (
	sentenceSplitRe = regexp.MustCompile(`[.!?]+["')\]]*\s+|\n\s*\n|\f`)
	wordRe          = regexp.MustCompile(`[\p{L}][\p{L}\p{N}'’\-]*[\p{L}\p{N}]|[\p{L}]`)
	phraseBreakRe   = regexp.MustCompile(`[,;:()\[\]{}"“”!?./\\|]+|\s[-–—]\s`)
	spaceRe         = regexp.MustCompile(`\s+`)
)

// stopwords are skipped when forming candidate phrases.
var stopwords = toSet(`a about above after again against all also am an and any are as at be
because been before being below between both but by can could did do does doing down during
each either etc few for from further had has have having he her here hers herself him himself
his how however i if in into is it its itself just let like may me might more most must my
myself no nor not now of off often on once only or other our ours ourselves out over own per
same shall she should so some such than that the their theirs them themselves then there these
they this those through thus to too under until up upon us use used uses using very via was we
well were what when where whether which while who whom whose why will with within without would
yet you your yours yourself yourselves one two three four five first second third next
example examples called known include includes including many much every new another`)

func toSet(words string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(words) {
		set[w] = struct{}{}
	}
	return set
}

// Key is the case-folded join key for a term.
func Key(term string) string {
	return cases.Fold().String(strings.Join(strings.Fields(term), " "))
}

// Sentences splits text into trimmed, non-empty sentences.
func Sentences(text string) []string {
	parts := sentenceSplitRe.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(spaceRe.ReplaceAllString(p, " "))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isStopword(w string) bool {
	_, ok := stopwords[strings.ToLower(w)]
	return ok
}

// contentWord reports whether w can be part of a candidate phrase.
func contentWord(w string) bool {
	if len([]rune(w)) < 3 && !isAcronym(w) {
		return false
	}
	return !isStopword(w)
}

func isAcronym(w string) bool {
	if len(w) < 2 {
		return false
	}
	for _, r := range w {
		if !unicode.IsUpper(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// phrases splits a sentence into maximal runs of content words. Runs longer
// than maxWords are cut into consecutive chunks.
func phrases(sentence string, maxWords int) [][]string {
	var out [][]string
	for _, segment := range phraseBreakRe.Split(sentence, -1) {
		var run []string
		flush := func() {
			for len(run) > 0 {
				n := min(len(run), maxWords)
				out = append(out, run[:n])
				run = run[n:]
			}
		}
		for _, w := range wordRe.FindAllString(segment, -1) {
			if contentWord(w) {
				run = append(run, w)
				continue
			}
			flush()
		}
		flush()
	}
	return out
}

// ngrams returns every contiguous sub-sequence of words up to maxN long.
func ngrams(words []string, maxN int) [][]string {
	var out [][]string
	for i := range words {
		for n := 1; n <= maxN && i+n <= len(words); n++ {
			out = append(out, words[i:i+n])
		}
	}
	return out
}

// Mentions reports whether text mentions term as a whole word or phrase,
// ignoring case.
func Mentions(text, term string) bool { return containsFold(text, term) }

// containsFold reports whether haystack contains needle ignoring case, on
// word boundaries.
func containsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	h := Key(haystack)
	n := Key(needle)
	idx := 0
	for {
		i := strings.Index(h[idx:], n)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(n)
		if boundary(h, start-1) && boundary(h, end) {
			return true
		}
		idx = start + 1
	}
}

func boundary(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return true
	}
	r := rune(s[i])
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}
