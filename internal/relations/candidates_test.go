package relations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docgraph/internal/model"
)

func gatingConcepts() []model.Concept {
	shared := "The kernel manages memory."
	return []model.Concept{
		{ID: "a", Term: "kernel", PageNumbers: []int{1}, SourceSentences: []string{shared}},
		{ID: "b", Term: "memory", PageNumbers: []int{5}, SourceSentences: []string{shared}},
		{ID: "c", Term: "scheduler", PageNumbers: []int{2}, SourceSentences: []string{"The scheduler picks tasks."}},
		{ID: "d", Term: "shell", PageNumbers: []int{9}, SourceSentences: []string{"A shell is a user interface."}},
		{ID: "e", Term: "kernel module", PageNumbers: []int{1}, MergedInto: "a"},
		{ID: "f", Term: "paging", PageNumbers: []int{20}, Definition: "Paging moves memory pages to disk."},
	}
}

func TestCandidates(t *testing.T) {
	pairs := Candidates(gatingConcepts(), 1)

	got := make(map[[2]string]Gate, len(pairs))
	for _, p := range pairs {
		got[[2]string{p.Source.ID, p.Target.ID}] = p.Gate
	}
	assert.Equal(t, map[[2]string]Gate{
		{"a", "b"}: GateSharedSentence,
		{"a", "c"}: GateNearbyPages,
		{"f", "b"}: GateMention,
		{"c", "b"}: GateSharedNeighbor,
		{"a", "f"}: GateSharedNeighbor,
	}, got)
}

func TestCandidates_PageGap(t *testing.T) {
	concepts := []model.Concept{
		{ID: "a", Term: "alpha", PageNumbers: []int{1}},
		{ID: "b", Term: "beta", PageNumbers: []int{3}},
	}
	assert.Empty(t, Candidates(concepts, 1))
	require.Len(t, Candidates(concepts, 2), 1)
}

func TestCandidates_OrientsByMention(t *testing.T) {
	concepts := []model.Concept{
		{ID: "computer", Term: "computer", PageNumbers: []int{1}},
		{ID: "vm", Term: "virtual machine", PageNumbers: []int{4}, Definition: "A virtual machine is a type of computer."},
	}
	pairs := Candidates(concepts, 0)
	require.Len(t, pairs, 1)
	assert.Equal(t, "vm", pairs[0].Source.ID)
	assert.Equal(t, "computer", pairs[0].Target.ID)
	assert.Equal(t, GateMention, pairs[0].Gate)
}

func TestCandidates_Empty(t *testing.T) {
	assert.Empty(t, Candidates(nil, 1))
	assert.Empty(t, Candidates([]model.Concept{{ID: "solo", Term: "solo"}}, 1))
}
