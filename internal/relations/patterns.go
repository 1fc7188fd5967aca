package relations

import (
	"os"
	"regexp"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/docgraph/internal/model"
)

// Pattern is one keyword rule in a family. Matches vote for Type.
type Pattern struct {
	Expr string                 `yaml:"pattern"`
	Type model.RelationshipType `yaml:"type"`

	re *regexp.Regexp
}

// Families holds the keyword families used for pattern scoring.
type Families struct {
	Hierarchical []Pattern `yaml:"hierarchical"`
	Sequential   []Pattern `yaml:"sequential"`
}

// DefaultFamilies returns the built-in keyword families. Patterns are
// matched case-insensitively on word boundaries.
func DefaultFamilies() *Families {
	f := &Families{
		Hierarchical: []Pattern{
			{Expr: `is an? (type|kind|form|class) of`, Type: model.RelIsA},
			{Expr: `(type|kind|form|class) of`, Type: model.RelIsA},
			{Expr: `is an?`, Type: model.RelIsA},
			{Expr: `(consists|composed|made up) of`, Type: model.RelHasComponent},
			{Expr: `includes?`, Type: model.RelHasComponent},
			{Expr: `has`, Type: model.RelHasComponent},
			{Expr: `part of`, Type: model.RelPartOf},
			{Expr: `(instance|example) of`, Type: model.RelInstanceOf},
			{Expr: `contains?`, Type: model.RelContains},
		},
		Sequential: []Pattern{
			{Expr: `steps?( \d+)?`, Type: model.RelPrecedes},
			{Expr: `(before|then|first|precedes?)`, Type: model.RelPrecedes},
			{Expr: `(after|follows?|next|finally)`, Type: model.RelFollows},
			{Expr: `(leads? to|results? in)`, Type: model.RelLeadsTo},
			{Expr: `causes?`, Type: model.RelCauses},
			{Expr: `(enables?|allows?)`, Type: model.RelEnables},
		},
	}
	if err := f.compile(); err != nil {
		panic(err)
	}
	return f
}

// LoadFamilies reads keyword families from a YAML file with a top-level
// "relations" key. A family missing from the file keeps its defaults.
func LoadFamilies(path string) (*Families, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "relations: read patterns %s", path)
	}

	var wrapper struct {
		Relations Families `yaml:"relations"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "relations: parse patterns")
	}

	f := &wrapper.Relations
	defaults := DefaultFamilies()
	if len(f.Hierarchical) == 0 {
		f.Hierarchical = defaults.Hierarchical
	}
	if len(f.Sequential) == 0 {
		f.Sequential = defaults.Sequential
	}
	if err := f.compile(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *Families) compile() error {
	for _, fam := range []struct {
		cat      model.StructureCategory
		patterns []Pattern
	}{
		{model.CategoryHierarchical, f.Hierarchical},
		{model.CategorySequential, f.Sequential},
	} {
		for i := range fam.patterns {
			p := &fam.patterns[i]
			if p.re != nil {
				continue
			}
			if p.Type == "" {
				p.Type = model.DefaultType(fam.cat)
			}
			if !model.ValidType(fam.cat, p.Type) {
				return eris.Errorf("relations: type %q not valid for %s pattern %q", p.Type, fam.cat, p.Expr)
			}
			re, err := regexp.Compile(`(?i)\b(?:` + p.Expr + `)\b`)
			if err != nil {
				return eris.Wrapf(err, "relations: compile pattern %q", p.Expr)
			}
			p.re = re
		}
	}
	return nil
}
