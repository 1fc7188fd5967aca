package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name      string
		resp      string
		parser    string
		terms     []string
		sentences int
	}{
		{
			name:      "fenced json object",
			resp:      "Here you go:\n```json\n{\"concepts\":[{\"term\":\"VM\",\"definition\":\"A virtual computer.\",\"source_sentences\":[\"A VM emulates hardware.\"]}]}\n```",
			parser:    "json",
			terms:     []string{"VM"},
			sentences: 1,
		},
		{
			name:   "bare json array",
			resp:   `[{"term":"Kernel","definition":"Core of the OS."},{"term":"Shell","definition":"Command interpreter."}]`,
			parser: "json",
			terms:  []string{"Kernel", "Shell"},
		},
		{
			name: "xml",
			resp: `<concepts><concept><term>Kernel</term><definition>Core of the
				operating system.</definition><source_sentences><sentence>The kernel runs first.</sentence></source_sentences></concept></concepts>`,
			parser:    "xml",
			terms:     []string{"Kernel"},
			sentences: 1,
		},
		{
			name:      "xml with plain source sentences",
			resp:      `<concepts><concept><term>Shell</term><definition>Interpreter.</definition><source_sentences>The shell reads commands.</source_sentences></concept></concepts>`,
			parser:    "xml",
			terms:     []string{"Shell"},
			sentences: 1,
		},
		{
			name:   "truncated json salvaged",
			resp:   `{"concepts":[{"term":"Kernel","definition":"Core of the \"OS\"."},{"term":"Shell","defin`,
			parser: "regex",
			terms:  []string{"Kernel"},
		},
		{
			name:   "broken xml salvaged",
			resp:   `<concepts><concept><term>Thread</term><definition>Unit of execution.</definition></concept><concept><term>Proc`,
			parser: "regex",
			terms:  []string{"Thread"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := ParseResponse(tt.resp, DefaultParsers)
			require.True(t, out.Parsed())
			assert.Equal(t, tt.parser, out.Parser)
			require.Len(t, out.Definitions, len(tt.terms))
			for i, term := range tt.terms {
				assert.Equal(t, term, out.Definitions[i].Term)
				assert.NotEmpty(t, out.Definitions[i].Definition)
			}
			if tt.sentences > 0 {
				assert.Len(t, out.Definitions[0].SourceSentences, tt.sentences)
			}
		})
	}
}

func TestParseResponse_Unparseable(t *testing.T) {
	out := ParseResponse("I cannot help with that.", DefaultParsers)
	assert.False(t, out.Parsed())
	assert.Empty(t, out.Definitions)
}

func TestParseResponse_NormalizesWhitespace(t *testing.T) {
	out := ParseResponse(`<concepts><concept><term> Kernel </term><definition>Core of the
		operating   system.</definition></concept></concepts>`, DefaultParsers)
	require.Len(t, out.Definitions, 1)
	assert.Equal(t, "Kernel", out.Definitions[0].Term)
	assert.Equal(t, "Core of the operating system.", out.Definitions[0].Definition)
}

func TestParseResponse_SalvageUnescapes(t *testing.T) {
	out := ParseResponse(`{"concepts":[{"term":"Kernel","definition":"Core of the \"OS\"."},`, DefaultParsers)
	require.True(t, out.Parsed())
	assert.Equal(t, `Core of the "OS".`, out.Definitions[0].Definition)
}
