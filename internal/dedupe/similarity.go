package dedupe

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/agext/levenshtein"

	"github.com/sells-group/docgraph/internal/extract"
	"github.com/sells-group/docgraph/internal/model"
)

// Reason explains why two concepts scored as similar.
type Reason string

const (
	ReasonExact        Reason = "exact_match"
	ReasonAbbreviation Reason = "abbreviation"
	ReasonSemantic     Reason = "semantic"
	ReasonLexical      Reason = "lexical"
)

// Score weights for the blended similarity.
const (
	abbreviationScore = 0.98
	semanticWeight    = 0.8
	lexicalWeight     = 0.2
	minAcronymLen     = 3
)

var parenRe = regexp.MustCompile(`\s*\(([^)]*)\)`)

// Similarity scores two concepts in [0, 1] and names the rule that produced
// the score.
func Similarity(a, b *model.Concept) (float64, Reason) {
	ka, kb := extract.Key(a.Term), extract.Key(b.Term)
	if ka == kb {
		return 1, ReasonExact
	}
	if IsAbbreviation(a.Term, b.Term) {
		return abbreviationScore, ReasonAbbreviation
	}
	lex := EditSimilarity(ka, kb)
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		cos := max(0, extract.Cosine(a.Embedding, b.Embedding))
		return semanticWeight*cos + lexicalWeight*lex, ReasonSemantic
	}
	return lex, ReasonLexical
}

// EditSimilarity is the normalized Levenshtein similarity of two strings.
func EditSimilarity(a, b string) float64 {
	return levenshtein.Similarity(a, b, nil)
}

// IsAbbreviation reports whether one term abbreviates the other, either
// through a parenthetical such as "Virtual Machine (VM)" or as the
// first-letter acronym of a multi-word term.
func IsAbbreviation(a, b string) bool {
	baseA, abbrA := splitParenthetical(a)
	baseB, abbrB := splitParenthetical(b)

	if abbrA != "" || abbrB != "" {
		for _, x := range []string{baseA, abbrA} {
			for _, y := range []string{baseB, abbrB} {
				if x != "" && x == y {
					return true
				}
			}
		}
	}

	short, long := baseA, baseB
	if utf8.RuneCountInString(short) > utf8.RuneCountInString(long) {
		short, long = long, short
	}
	n := utf8.RuneCountInString(short)
	if n < minAcronymLen || 2*n >= utf8.RuneCountInString(long) || strings.Contains(short, " ") {
		return false
	}
	return short == initials(long)
}

// splitParenthetical returns the folded term without parenthesized text and
// the folded content of the first parenthetical.
func splitParenthetical(term string) (base, abbr string) {
	if m := parenRe.FindStringSubmatch(term); m != nil {
		abbr = extract.Key(m[1])
	}
	return extract.Key(parenRe.ReplaceAllString(term, " ")), abbr
}

func initials(term string) string {
	words := strings.FieldsFunc(term, func(r rune) bool { return r == ' ' || r == '-' })
	if len(words) < 2 {
		return ""
	}
	var b strings.Builder
	for _, w := range words {
		r, _ := utf8.DecodeRuneInString(w)
		b.WriteRune(r)
	}
	return b.String()
}
