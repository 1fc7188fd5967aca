package relations

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docgraph/internal/model"
)

func TestScore(t *testing.T) {
	f := DefaultFamilies()

	tests := []struct {
		name       string
		text       string
		category   model.StructureCategory
		types      []model.RelationshipType
		confidence float64
	}{
		{
			name:       "hierarchical definitions",
			text:       "A virtual machine is a type of computer that consists of virtual hardware.",
			category:   model.CategoryHierarchical,
			types:      []model.RelationshipType{model.RelIsA, model.RelHasComponent},
			confidence: 0.76,
		},
		{
			name:       "sequential procedure",
			text:       "Step 1: install the package, then configure it, which leads to a working system.",
			category:   model.CategorySequential,
			types:      []model.RelationshipType{model.RelPrecedes},
			confidence: 0.84,
		},
		{
			name:       "tie is unclassified",
			text:       "A kernel is a program. Then it runs.",
			category:   model.CategoryUnclassified,
			types:      []model.RelationshipType{model.RelRelatedTo},
			confidence: 0.46,
		},
		{
			name:       "no keywords",
			text:       "Plain words only.",
			category:   model.CategoryUnclassified,
			types:      []model.RelationshipType{model.RelRelatedTo},
			confidence: 0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := f.Score(tt.text)
			assert.Equal(t, tt.category, res.Category)
			assert.Contains(t, tt.types, res.Type)
			assert.InDelta(t, tt.confidence, res.Confidence, 1e-9)
		})
	}
}

func TestScore_TypeFollowsMostHits(t *testing.T) {
	res := DefaultFamilies().Score("Paging causes faults. A fault causes a trap, which causes a switch.")
	assert.Equal(t, model.CategorySequential, res.Category)
	assert.Equal(t, model.RelCauses, res.Type)
	assert.Equal(t, "causes", res.Evidence)
	assert.Equal(t, 3, res.SequentialHits)
}

func TestScore_OverlappingKeywordsCountOnce(t *testing.T) {
	f := DefaultFamilies()

	res := f.Score("A hypervisor is a type of software.")
	assert.Equal(t, 1, res.HierarchicalHits)
	assert.Equal(t, model.RelIsA, res.Type)
	assert.Equal(t, "is a type of", res.Evidence)

	res = f.Score("A hypervisor is a type of software. Then the guest boots.")
	assert.Equal(t, 1, res.HierarchicalHits)
	assert.Equal(t, 1, res.SequentialHits)
	assert.Equal(t, model.CategoryUnclassified, res.Category)

	res = f.Score("A hypervisor is a kind of monitor and a form of software.")
	assert.Equal(t, 2, res.HierarchicalHits, "separate phrases still count separately")
}

func TestPatternScore_CountsSharedSentenceOnce(t *testing.T) {
	shared := "The scheduler runs before the dispatcher."
	a := &model.Concept{Term: "scheduler", SourceSentences: []string{shared}}
	b := &model.Concept{Term: "dispatcher", SourceSentences: []string{shared}}

	res := DefaultFamilies().PatternScore(a, b)
	assert.Equal(t, 1, res.SequentialHits)
	assert.Equal(t, model.RelPrecedes, res.Type)
}

func TestLoadFamilies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`relations:
  sequential:
    - pattern: "triggers?"
      type: causes
    - pattern: "afterwards"
`), 0o600))

	f, err := LoadFamilies(path)
	require.NoError(t, err)
	require.Len(t, f.Sequential, 2)
	assert.Equal(t, model.RelPrecedes, f.Sequential[1].Type, "missing type uses the family default")
	assert.NotEmpty(t, f.Hierarchical, "missing family keeps defaults")

	res := f.Score("An interrupt triggers the handler.")
	assert.Equal(t, model.CategorySequential, res.Category)
	assert.Equal(t, model.RelCauses, res.Type)

	res = f.Score("Step 1 then step 2.")
	assert.Equal(t, model.CategoryUnclassified, res.Category, "default sequential keywords were replaced")
}

func TestLoadFamilies_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadFamilies(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("relations:\n  hierarchical:\n    - pattern: \"is a\"\n      type: precedes\n"), 0o600))
	_, err = LoadFamilies(bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid")

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("relations:\n  sequential:\n    - pattern: \"(unclosed\"\n"), 0o600))
	_, err = LoadFamilies(broken)
	assert.Error(t, err)
}
