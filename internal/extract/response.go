package extract

import (
	"encoding/json"
	"encoding/xml"
	"regexp"
	"strings"
)

// Definition is a term definition returned by the model.
type Definition struct {
	Term            string   `json:"term" xml:"term"`
	Definition      string   `json:"definition" xml:"definition"`
	SourceSentences []string `json:"source_sentences,omitempty" xml:"-"`
}

// ParseOutcome is the result of parsing one model response. An empty
// Parser means the response was unparseable.
type ParseOutcome struct {
	Definitions []Definition
	Parser      string
}

// Parsed reports whether any parser accepted the response.
func (o ParseOutcome) Parsed() bool {
	return o.Parser != ""
}

// ResponseParser tries to read definitions from a model response.
type ResponseParser struct {
	Name  string
	Parse func(resp string) ([]Definition, bool)
}

// DefaultParsers is the ordered list tried against every response: strict
// JSON, strict XML, then regex salvage.
var DefaultParsers = []ResponseParser{
	{Name: "json", Parse: parseJSON},
	{Name: "xml", Parse: parseXML},
	{Name: "regex", Parse: parseSalvage},
}

// ParseResponse runs parsers in order; the first success wins.
func ParseResponse(resp string, parsers []ResponseParser) ParseOutcome {
	for _, p := range parsers {
		if defs, ok := p.Parse(resp); ok {
			return ParseOutcome{Definitions: defs, Parser: p.Name}
		}
	}
	return ParseOutcome{}
}

var fenceRe = regexp.MustCompile("(?s)```(?:json|xml)?\\s*(.*?)```")

func unfence(s string) string {
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return m[1]
	}
	return s
}

func parseJSON(resp string) ([]Definition, bool) {
	s := strings.TrimSpace(unfence(resp))

	var wrapped struct {
		Concepts []Definition `json:"concepts"`
	}
	if i, j := strings.Index(s, "{"), strings.LastIndex(s, "}"); i >= 0 && j > i {
		if err := json.Unmarshal([]byte(s[i:j+1]), &wrapped); err == nil && wrapped.Concepts != nil {
			return cleanDefinitions(wrapped.Concepts), true
		}
	}
	var list []Definition
	if i, j := strings.Index(s, "["), strings.LastIndex(s, "]"); i >= 0 && j > i {
		if err := json.Unmarshal([]byte(s[i:j+1]), &list); err == nil {
			return cleanDefinitions(list), true
		}
	}
	return nil, false
}

type xmlConcepts struct {
	Concepts []struct {
		Term            string `xml:"term"`
		Definition      string `xml:"definition"`
		SourceSentences struct {
			Sentences []string `xml:"sentence"`
			Text      string   `xml:",chardata"`
		} `xml:"source_sentences"`
	} `xml:"concept"`
}

func parseXML(resp string) ([]Definition, bool) {
	s := unfence(resp)
	i := strings.Index(s, "<concepts")
	j := strings.LastIndex(s, "</concepts>")
	if i < 0 || j < i {
		return nil, false
	}
	var doc xmlConcepts
	if err := xml.Unmarshal([]byte(s[i:j+len("</concepts>")]), &doc); err != nil {
		return nil, false
	}
	defs := make([]Definition, 0, len(doc.Concepts))
	for _, c := range doc.Concepts {
		d := Definition{Term: c.Term, Definition: c.Definition}
		d.SourceSentences = c.SourceSentences.Sentences
		if len(d.SourceSentences) == 0 {
			if t := strings.TrimSpace(c.SourceSentences.Text); t != "" {
				d.SourceSentences = []string{t}
			}
		}
		defs = append(defs, d)
	}
	return cleanDefinitions(defs), true
}

var (
	salvageXMLRe  = regexp.MustCompile(`(?s)<term>\s*(.*?)\s*</term>\s*<definition>\s*(.*?)\s*</definition>`)
	salvageJSONRe = regexp.MustCompile(`"term"\s*:\s*"((?:[^"\\]|\\.)*)"\s*,\s*"definition"\s*:\s*"((?:[^"\\]|\\.)*)"`)
)

// parseSalvage recovers term/definition pairs from truncated or malformed
// JSON and XML.
func parseSalvage(resp string) ([]Definition, bool) {
	var defs []Definition
	for _, m := range salvageXMLRe.FindAllStringSubmatch(resp, -1) {
		defs = append(defs, Definition{Term: m[1], Definition: m[2]})
	}
	for _, m := range salvageJSONRe.FindAllStringSubmatch(resp, -1) {
		defs = append(defs, Definition{Term: unquote(m[1]), Definition: unquote(m[2])})
	}
	defs = cleanDefinitions(defs)
	return defs, len(defs) > 0
}

func unquote(s string) string {
	var out string
	if err := json.Unmarshal([]byte(`"`+s+`"`), &out); err != nil {
		return s
	}
	return out
}

func cleanDefinitions(defs []Definition) []Definition {
	out := make([]Definition, 0, len(defs))
	for _, d := range defs {
		d.Term = strings.TrimSpace(d.Term)
		d.Definition = strings.TrimSpace(spaceRe.ReplaceAllString(d.Definition, " "))
		if d.Term == "" {
			continue
		}
		sentences := d.SourceSentences[:0:0]
		for _, s := range d.SourceSentences {
			if s = strings.TrimSpace(s); s != "" {
				sentences = append(sentences, s)
			}
		}
		d.SourceSentences = sentences
		out = append(out, d)
	}
	return out
}
