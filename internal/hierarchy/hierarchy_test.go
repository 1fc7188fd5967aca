package hierarchy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docgraph/internal/model"
)

func TestFromMarkdown_Tree(t *testing.T) {
	md := "# Computing Basics\nintro\n## Hardware\ntext\n## Software\n" +
		PageBreak +
		"### Operating Systems\nmore\n" +
		PageBreak +
		"# Installation Procedure\n1. Download the image\n2. Boot\n"

	nodes := FromMarkdown(md)
	require.Len(t, nodes, 2)

	ch1 := nodes[0]
	assert.Equal(t, "chapter_1", ch1.ID)
	assert.Equal(t, "Computing Basics", ch1.Title)
	assert.Equal(t, 1, ch1.PageStart)
	assert.Equal(t, 2, ch1.PageEnd)
	require.Len(t, ch1.Children, 2)
	assert.Equal(t, "chapter_1_section_1", ch1.Children[0].ID)
	assert.Equal(t, "chapter_1", ch1.Children[0].ParentID)
	assert.Equal(t, 1, ch1.Children[0].PageEnd)

	sw := ch1.Children[1]
	assert.Equal(t, "chapter_1_section_2", sw.ID)
	require.Len(t, sw.Children, 1)
	assert.Equal(t, "chapter_1_section_2_subsection_1", sw.Children[0].ID)
	assert.Equal(t, 2, sw.Children[0].PageStart)

	ch2 := nodes[1]
	assert.Equal(t, "chapter_2", ch2.ID)
	assert.Equal(t, model.StructureSequential, ch2.Kind)
	assert.Equal(t, 3, ch2.PageStart)
	assert.Equal(t, 3, ch2.PageEnd)
}

func TestFromMarkdown_IgnoresFencedHeadings(t *testing.T) {
	md := "# Real\n```\n# not a heading\n```\n"
	nodes := FromMarkdown(md)
	require.Len(t, nodes, 1)
	assert.Equal(t, "Real", nodes[0].Title)
}

func TestFromMarkdown_NoHeadings(t *testing.T) {
	assert.Empty(t, FromMarkdown("just some text\nwithout structure"))
}

func TestKind(t *testing.T) {
	tests := []struct {
		title    string
		numbered bool
		want     model.StructureKind
	}{
		{"Step 3: Configure", false, model.StructureSequential},
		{"The Software Development Lifecycle", false, model.StructureSequential},
		{"Cell Cycle", false, model.StructureSequential},
		{"Types of Memory", false, model.StructureHierarchical},
		{"Setup", true, model.StructureSequential},
		{"Processor Architecture", false, model.StructureHierarchical},
	}
	for _, tt := range tests {
		t.Run(tt.title, func(t *testing.T) {
			assert.Equal(t, tt.want, Kind(tt.title, tt.numbered))
		})
	}
}

func TestFromLayout(t *testing.T) {
	blocks := []model.LayoutBlock{
		{Role: model.LayoutRoleTitle, Text: "Networking", Page: 1},
		{Role: model.LayoutRoleSectionHeader, Text: "Protocols", Page: 1},
		{Role: model.LayoutRoleLine, Text: "TCP is a protocol.", Page: 1},
		{Role: model.LayoutRoleSectionHeader, Text: "Handshake", Page: 3},
		{Role: model.LayoutRoleLine, Text: "1. SYN", Page: 3},
		{Role: model.LayoutRoleSectionHeader, Text: "", Page: 3},
	}

	nodes := FromLayout(blocks, 4)
	require.Len(t, nodes, 1)
	root := nodes[0]
	assert.Equal(t, 1, root.PageStart)
	assert.Equal(t, 4, root.PageEnd)
	require.Len(t, root.Children, 2)
	assert.Equal(t, "chapter_1_section_1", root.Children[0].ID)
	assert.Equal(t, 2, root.Children[0].PageEnd)
	assert.Equal(t, model.StructureHierarchical, root.Children[0].Kind)
	assert.Equal(t, model.StructureSequential, root.Children[1].Kind)
}

func TestFromLayout_HeadersWithoutTitle(t *testing.T) {
	nodes := FromLayout([]model.LayoutBlock{
		{Role: model.LayoutRoleSectionHeader, Text: "A", Page: 1},
		{Role: model.LayoutRoleSectionHeader, Text: "B", Page: 2},
	}, 2)
	require.Len(t, nodes, 2)
	assert.Equal(t, "chapter_2", nodes[1].ID)
}

func TestFromPages(t *testing.T) {
	nodes := FromPages(25, 10)
	require.Len(t, nodes, 3)
	assert.Equal(t, "chapter_3", nodes[2].ID)
	assert.Equal(t, 21, nodes[2].PageStart)
	assert.Equal(t, 25, nodes[2].PageEnd)
}

func TestFromPages_NeverEmpty(t *testing.T) {
	for _, n := range []int{-1, 0, 1} {
		nodes := FromPages(n, 0)
		require.Len(t, nodes, 1)
		assert.Equal(t, 1, nodes[0].PageStart)
	}
}

func TestExtract_Fallbacks(t *testing.T) {
	e := New(5)

	nodes, s := e.Extract(&model.ParseResult{Markdown: "# A\n", PageTexts: []string{"a"}})
	assert.Equal(t, StrategyMarkdown, s)
	assert.Len(t, nodes, 1)

	nodes, s = e.Extract(&model.ParseResult{
		Markdown: "no headings",
		Layout:   []model.LayoutBlock{{Role: model.LayoutRoleTitle, Text: "T", Page: 1}},
	})
	assert.Equal(t, StrategyLayout, s)
	assert.Len(t, nodes, 1)

	nodes, s = e.Extract(&model.ParseResult{PageTexts: make([]string, 12)})
	assert.Equal(t, StrategyPages, s)
	assert.Len(t, nodes, 3)

	nodes, s = e.Extract(nil)
	assert.Equal(t, StrategyPages, s)
	assert.Len(t, nodes, 1)
}

func TestLocate(t *testing.T) {
	md := "# One\n## Sub\n" + PageBreak + "text\n" + PageBreak + "# Two\n"
	nodes := FromMarkdown(md)

	n := Locate(nodes, 1)
	require.NotNil(t, n)
	assert.Equal(t, "chapter_1_section_1", n.ID)

	n = Locate(nodes, 3)
	require.NotNil(t, n)
	assert.Equal(t, "chapter_2", n.ID)

	assert.Nil(t, Locate(nodes, 9))
}
