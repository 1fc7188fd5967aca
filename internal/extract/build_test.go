package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docgraph/internal/hierarchy"
	"github.com/sells-group/docgraph/internal/model"
	"github.com/sells-group/docgraph/internal/resilience"
)

func twoPageParse() *model.ParseResult {
	pages := []string{
		"A virtual machine emulates hardware.",
		"The hypervisor runs each virtual machine.",
	}
	return &model.ParseResult{Text: strings.Join(pages, hierarchy.PageBreak), PageTexts: pages}
}

func agreeingEnsemble() *Ensemble {
	kws := []Keyword{{Term: "virtual machine", Score: 2}, {Term: "hypervisor", Score: 1}}
	return NewEnsemble(&fakeStrategy{name: "a", kws: kws}, &fakeStrategy{name: "b", kws: kws})
}

func byTerm(concepts []model.Concept) map[string]model.Concept {
	out := make(map[string]model.Concept, len(concepts))
	for _, c := range concepts {
		out[c.Term] = c
	}
	return out
}

func TestBuilder_LocatesAndFallsBackToSentences(t *testing.T) {
	b := NewBuilder(agreeingEnsemble(), 10)
	res, err := b.Build(context.Background(), "doc-1", twoPageParse(), hierarchy.FromPages(2, 1))
	require.NoError(t, err)
	assert.Empty(t, res.Degraded)
	assert.Zero(t, res.LLMCostUSD)
	require.Len(t, res.Concepts, 2)

	got := byTerm(res.Concepts)
	vm := got["virtual machine"]
	assert.NotEmpty(t, vm.ID)
	assert.Equal(t, "doc-1", vm.DocumentID)
	assert.Equal(t, []int{1, 2}, vm.PageNumbers)
	assert.Equal(t, "chapter_1", vm.StructureID)
	assert.Equal(t, model.StructureHierarchical, vm.StructureType)
	assert.Len(t, vm.SourceSentences, 2)
	assert.Equal(t, "A virtual machine emulates hardware", vm.Definition)

	hv := got["hypervisor"]
	assert.Equal(t, []int{2}, hv.PageNumbers)
	assert.Equal(t, "chapter_2", hv.StructureID)
	assert.NotEqual(t, vm.ID, hv.ID)
}

func TestBuilder_UsesLLMDefinitions(t *testing.T) {
	llm := &fakeLLM{resp: textResponse(`{"concepts":[{"term":"Virtual Machine","definition":"An emulated computer."}]}`)}
	b := NewBuilder(agreeingEnsemble(), 10, WithDefiner(NewDefiner(llm, haiku, 512, 0)))

	res, err := b.Build(context.Background(), "doc-1", twoPageParse(), nil)
	require.NoError(t, err)
	assert.Greater(t, res.LLMCostUSD, 0.0)

	got := byTerm(res.Concepts)
	assert.Equal(t, "An emulated computer.", got["virtual machine"].Definition)
	assert.Equal(t, "The hypervisor runs each virtual machine.", got["hypervisor"].Definition)
	assert.Empty(t, got["hypervisor"].StructureID)
}

func TestBuilder_DefinerFailureDegrades(t *testing.T) {
	llm := &fakeLLM{err: resilience.NewPermanentError(errors.New("bad key"), 401)}
	b := NewBuilder(agreeingEnsemble(), 10, WithDefiner(NewDefiner(llm, haiku, 512, 0)))

	res, err := b.Build(context.Background(), "doc-1", twoPageParse(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"define"}, res.Degraded)
	for _, c := range res.Concepts {
		assert.NotEmpty(t, c.Definition)
	}
}

func TestBuilder_Embeddings(t *testing.T) {
	b := NewBuilder(agreeingEnsemble(), 10, WithEmbedder(&fakeEmbedder{}))
	res, err := b.Build(context.Background(), "doc-1", twoPageParse(), nil)
	require.NoError(t, err)
	for _, c := range res.Concepts {
		assert.Len(t, c.Embedding, 2)
	}

	b = NewBuilder(agreeingEnsemble(), 10, WithEmbedder(&fakeEmbedder{err: errors.New("down")}))
	res, err = b.Build(context.Background(), "doc-1", twoPageParse(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"embed"}, res.Degraded)
}

func TestBuilder_UnlocatedConceptUsesFirstSection(t *testing.T) {
	kws := []Keyword{{Term: "scheduler", Score: 1}}
	b := NewBuilder(NewEnsemble(&fakeStrategy{name: "a", kws: kws}, &fakeStrategy{name: "b", kws: kws}), 10)
	res, err := b.Build(context.Background(), "doc-1", twoPageParse(), hierarchy.FromPages(2, 1))
	require.NoError(t, err)
	require.Len(t, res.Concepts, 1)
	assert.Empty(t, res.Concepts[0].PageNumbers)
	assert.Equal(t, "chapter_1", res.Concepts[0].StructureID)
	assert.Empty(t, res.Concepts[0].Definition)
}

func TestBuilder_EnsembleFailure(t *testing.T) {
	b := NewBuilder(NewEnsemble(&fakeStrategy{name: "a", err: errors.New("x")}), 10)
	_, err := b.Build(context.Background(), "doc-1", twoPageParse(), nil)
	assert.ErrorIs(t, err, ErrNoStrategies)
}

func TestConceptID_Stable(t *testing.T) {
	assert.Equal(t, ConceptID("doc-1", "Virtual  Machine"), ConceptID("doc-1", "virtual machine"))
	assert.NotEqual(t, ConceptID("doc-1", "kernel"), ConceptID("doc-2", "kernel"))

	id, err := uuid.Parse(ConceptID("doc-1", "kernel"))
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(5), id.Version())
	assert.Equal(t, uuid.NewSHA1(uuid.NameSpaceURL, []byte("doc-1\x00kernel")), id)

	b := NewBuilder(agreeingEnsemble(), 10)
	first, err := b.Build(context.Background(), "doc-1", twoPageParse(), nil)
	require.NoError(t, err)
	second, err := b.Build(context.Background(), "doc-1", twoPageParse(), nil)
	require.NoError(t, err)
	assert.Equal(t, byTerm(first.Concepts)["hypervisor"].ID, byTerm(second.Concepts)["hypervisor"].ID)
}
