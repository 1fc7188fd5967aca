package model

import (
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// Concept is a term plus definition located in the document hierarchy.
// A merged concept keeps its row and points at the survivor via MergedInto.
type Concept struct {
	ID                string        `json:"id"`
	DocumentID        string        `json:"document_id"`
	Term              string        `json:"term"`
	Definition        string        `json:"definition"`
	StructureID       string        `json:"structure_id,omitempty"`
	StructureType     StructureKind `json:"structure_type,omitempty"`
	Confidence        float64       `json:"confidence"`
	MethodsFound      int           `json:"methods_found"`
	ExtractionMethods []string      `json:"extraction_methods"`
	SourceSentences   []string      `json:"source_sentences,omitempty"`
	PageNumbers       []int         `json:"page_numbers,omitempty"`
	Embedding         []float32     `json:"embedding,omitempty"`
	MergedInto        string        `json:"merged_into,omitempty"`
}

// IsMerged reports whether the concept has been soft-deleted by a merge.
func (c *Concept) IsMerged() bool {
	return c.MergedInto != ""
}

// StructureCategory groups relationship types.
type StructureCategory string

const (
	CategoryHierarchical StructureCategory = "hierarchical"
	CategorySequential   StructureCategory = "sequential"
	CategoryUnclassified StructureCategory = "unclassified"
)

// RelationshipType is the fine-grained relationship label.
type RelationshipType string

const (
	RelIsA          RelationshipType = "is_a"
	RelHasComponent RelationshipType = "has_component"
	RelPartOf       RelationshipType = "part_of"
	RelInstanceOf   RelationshipType = "instance_of"
	RelContains     RelationshipType = "contains"

	RelPrecedes RelationshipType = "precedes"
	RelEnables  RelationshipType = "enables"
	RelCauses   RelationshipType = "causes"
	RelFollows  RelationshipType = "follows"
	RelLeadsTo  RelationshipType = "leads_to"

	RelRelatedTo RelationshipType = "related_to"
)

var categoryTypes = map[StructureCategory][]RelationshipType{
	CategoryHierarchical: {RelIsA, RelHasComponent, RelPartOf, RelInstanceOf, RelContains},
	CategorySequential:   {RelPrecedes, RelEnables, RelCauses, RelFollows, RelLeadsTo},
	CategoryUnclassified: {RelRelatedTo},
}

// TypesFor returns the relationship types allowed for a category.
func TypesFor(cat StructureCategory) []RelationshipType {
	return categoryTypes[cat]
}

// ValidType reports whether t belongs to the set associated with cat.
func ValidType(cat StructureCategory, t RelationshipType) bool {
	for _, allowed := range categoryTypes[cat] {
		if allowed == t {
			return true
		}
	}
	return false
}

// DefaultType returns the fallback type for a category.
func DefaultType(cat StructureCategory) RelationshipType {
	switch cat {
	case CategoryHierarchical:
		return RelIsA
	case CategorySequential:
		return RelPrecedes
	default:
		return RelRelatedTo
	}
}

// Relationship is a typed, directed edge between two concepts.
type Relationship struct {
	ID                string            `json:"id"`
	SourceConceptID   string            `json:"source_concept_id"`
	TargetConceptID   string            `json:"target_concept_id"`
	Type              RelationshipType  `json:"type"`
	StructureCategory StructureCategory `json:"structure_category"`
	Strength          float64           `json:"strength"`
	ValidatedByUser   bool              `json:"validated_by_user"`
	Evidence          string            `json:"evidence,omitempty"`
}

// NewRelationship builds a relationship and validates its invariants.
func NewRelationship(source, target string, cat StructureCategory, t RelationshipType, strength float64) (*Relationship, error) {
	if source == "" || target == "" {
		return nil, eris.New("relationship: endpoints must be set")
	}
	if source == target {
		return nil, eris.Errorf("relationship: self-loop on concept %s", source)
	}
	if !ValidType(cat, t) {
		return nil, eris.Errorf("relationship: type %q not valid for category %q", t, cat)
	}
	return &Relationship{
		ID:                uuid.New().String(),
		SourceConceptID:   source,
		TargetConceptID:   target,
		Type:              t,
		StructureCategory: cat,
		Strength:          clamp01(strength),
	}, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
