package relations

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docgraph/internal/model"
)

func classifyConcepts() []model.Concept {
	return []model.Concept{
		{ID: "vm", Term: "virtual machine", Definition: "A virtual machine is a type of computer.", PageNumbers: []int{1}},
		{ID: "computer", Term: "computer", Definition: "A computer consists of a processor and memory.", PageNumbers: []int{1}},
		{ID: "install", Term: "installation", Definition: "Step 1 installs the system, then it boots.", PageNumbers: []int{2}},
	}
}

func relByPair(rels []model.Relationship) map[[2]string]model.Relationship {
	out := make(map[[2]string]model.Relationship, len(rels))
	for _, r := range rels {
		out[[2]string{r.SourceConceptID, r.TargetConceptID}] = r
	}
	return out
}

func TestClassify_PatternOnly(t *testing.T) {
	res := New().Classify(context.Background(), classifyConcepts())
	assert.Equal(t, 3, res.Candidates)
	assert.Zero(t, res.Validated)
	require.Len(t, res.Relationships, 3)

	got := relByPair(res.Relationships)
	vm := got[[2]string{"vm", "computer"}]
	assert.Equal(t, model.CategoryHierarchical, vm.StructureCategory)
	assert.Equal(t, model.RelIsA, vm.Type)
	assert.InDelta(t, 0.76, vm.Strength, 1e-9)
	assert.Equal(t, "is a type of", vm.Evidence)
	assert.False(t, vm.ValidatedByUser)

	seq := got[[2]string{"computer", "install"}]
	assert.Equal(t, model.CategorySequential, seq.StructureCategory)
	assert.Equal(t, model.RelPrecedes, seq.Type)

	for _, r := range res.Relationships {
		assert.NotEqual(t, r.SourceConceptID, r.TargetConceptID)
		assert.True(t, model.ValidType(r.StructureCategory, r.Type))
	}
}

func TestClassify_DropsPairsWithoutKeywords(t *testing.T) {
	concepts := []model.Concept{
		{ID: "a", Term: "alpha", Definition: "Alpha text.", PageNumbers: []int{1}},
		{ID: "b", Term: "beta", Definition: "Beta text.", PageNumbers: []int{1}},
	}
	res := New().Classify(context.Background(), concepts)
	assert.Equal(t, 1, res.Candidates)
	assert.Empty(t, res.Relationships)
}

func TestClassify_ValidatorRefines(t *testing.T) {
	v := new(mockValidator)
	v.On("Validate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&Verdict{Category: model.CategorySequential, Type: model.RelEnables, Strength: 0.9, CostUSD: 0.01}, nil)

	res := New(WithValidator(v)).Classify(context.Background(), classifyConcepts())
	assert.Equal(t, 3, res.Validated)
	assert.InDelta(t, 0.03, res.CostUSD, 1e-9)
	require.Len(t, res.Relationships, 3)
	for _, r := range res.Relationships {
		assert.Equal(t, model.CategorySequential, r.StructureCategory)
		assert.Equal(t, model.RelEnables, r.Type)
		assert.InDelta(t, 0.9, r.Strength, 1e-9)
	}
	v.AssertNumberOfCalls(t, "Validate", 3)
}

func TestClassify_ValidatorFailureKeepsPatternResult(t *testing.T) {
	v := new(mockValidator)
	v.On("Validate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("model unavailable"))

	res := New(WithValidator(v)).Classify(context.Background(), classifyConcepts())
	assert.Equal(t, 3, res.Fallbacks)
	assert.Zero(t, res.Validated)

	got := relByPair(res.Relationships)
	assert.Equal(t, model.CategoryHierarchical, got[[2]string{"vm", "computer"}].StructureCategory)
	assert.InDelta(t, 0.76, got[[2]string{"vm", "computer"}].Strength, 1e-9)
}

func TestClassify_MaxValidations(t *testing.T) {
	v := new(mockValidator)
	v.On("Validate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&Verdict{Category: model.CategoryHierarchical, Type: model.RelPartOf}, nil)

	res := New(WithValidator(v), WithMaxValidations(1)).Classify(context.Background(), classifyConcepts())
	assert.Equal(t, 1, res.Validated)
	v.AssertNumberOfCalls(t, "Validate", 1)

	got := relByPair(res.Relationships)
	first := got[[2]string{"vm", "computer"}]
	assert.Equal(t, model.RelPartOf, first.Type)
	assert.InDelta(t, 0.76, first.Strength, 1e-9, "zero verdict strength keeps the pattern confidence")
}
