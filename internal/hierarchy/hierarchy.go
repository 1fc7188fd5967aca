// Package hierarchy derives a section tree from parsed document output.
package hierarchy

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/docgraph/internal/model"
)

// PageBreak separates pages in markdown and plain text produced by the parser.
const PageBreak = "\f"

// DefaultPagesPerChapter is used by FromPages when no positive value is given.
const DefaultPagesPerChapter = 10

// Strategy names the method that produced a hierarchy.
type Strategy string

const (
	StrategyMarkdown Strategy = "markdown"
	StrategyLayout   Strategy = "layout"
	StrategyPages    Strategy = "pages"
)

var (
	headingRe    = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)
	fenceRe      = regexp.MustCompile("^\\s*(```|~~~)")
	sequentialRe = regexp.MustCompile(`(?i)\b(steps?|phases?|stages?|process(es)?|procedures?|workflows?|sequences?|life\s?cycles?|cycles?|methods?)\b`)
	numberedRe   = regexp.MustCompile(`(?i)^\s*(\d+[.)]\s+\S|step\s+\d+)`)
)

var levelNames = [...]string{"", "chapter", "section", "subsection", "paragraph", "subparagraph", "item"}

// heading is a flat heading found in document order before tree assembly.
type heading struct {
	level    int
	title    string
	page     int
	numbered bool
}

// Extractor picks the best available hierarchy strategy for a parse result.
type Extractor struct {
	pagesPerChapter int
}

// New creates an Extractor.
func New(pagesPerChapter int) *Extractor {
	if pagesPerChapter <= 0 {
		pagesPerChapter = DefaultPagesPerChapter
	}
	return &Extractor{pagesPerChapter: pagesPerChapter}
}

// Extract tries markdown headings, then layout blocks, then synthetic
// page-based chapters. It always returns at least one node.
func (e *Extractor) Extract(parse *model.ParseResult) ([]model.HierarchyNode, Strategy) {
	pageCount := 0
	if parse != nil {
		pageCount = parse.PageCount()
		if parse.Markdown != "" {
			if nodes := FromMarkdown(parse.Markdown); len(nodes) > 0 {
				logChoice(StrategyMarkdown, nodes)
				return nodes, StrategyMarkdown
			}
		}
		if len(parse.Layout) > 0 {
			if nodes := FromLayout(parse.Layout, pageCount); len(nodes) > 0 {
				logChoice(StrategyLayout, nodes)
				return nodes, StrategyLayout
			}
		}
	}
	nodes := FromPages(pageCount, e.pagesPerChapter)
	logChoice(StrategyPages, nodes)
	return nodes, StrategyPages
}

func logChoice(s Strategy, nodes []model.HierarchyNode) {
	zap.L().Debug("hierarchy: extracted",
		zap.String("strategy", string(s)),
		zap.Int("roots", len(nodes)),
		zap.Int("nodes", model.CountNodes(nodes)),
	)
}

// FromMarkdown builds a forest from ATX headings. Pages are separated by
// PageBreak; headings inside fenced code blocks are ignored.
func FromMarkdown(md string) []model.HierarchyNode {
	pages := strings.Split(md, PageBreak)
	var heads []heading
	for p, page := range pages {
		lines := strings.Split(page, "\n")
		inFence := false
		for i, line := range lines {
			if fenceRe.MatchString(line) {
				inFence = !inFence
				continue
			}
			if inFence {
				continue
			}
			m := headingRe.FindStringSubmatch(strings.TrimRight(line, "\r"))
			if m == nil {
				continue
			}
			title := strings.TrimSpace(m[2])
			if title == "" {
				continue
			}
			heads = append(heads, heading{
				level:    len(m[1]),
				title:    title,
				page:     p + 1,
				numbered: numberedRe.MatchString(nextNonBlank(lines[i+1:])),
			})
		}
	}
	return build(heads, len(pages))
}

func nextNonBlank(lines []string) string {
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			return l
		}
	}
	return ""
}

// FromLayout builds a forest from typed layout blocks. Title blocks are
// level 1; section headers use their reported level, or sit one below the
// titles when none is reported.
func FromLayout(blocks []model.LayoutBlock, pageCount int) []model.HierarchyNode {
	hasTitle := false
	maxPage := pageCount
	for _, b := range blocks {
		if b.Role == model.LayoutRoleTitle {
			hasTitle = true
		}
		if b.Page > maxPage {
			maxPage = b.Page
		}
	}

	var heads []heading
	for i, b := range blocks {
		title := strings.TrimSpace(b.Text)
		if title == "" {
			continue
		}
		var level int
		switch b.Role {
		case model.LayoutRoleTitle:
			level = 1
		case model.LayoutRoleSectionHeader:
			switch {
			case b.Level > 0:
				level = min(b.Level, 6)
			case hasTitle:
				level = 2
			default:
				level = 1
			}
		default:
			continue
		}
		numbered := false
		if i+1 < len(blocks) && blocks[i+1].Role == model.LayoutRoleLine {
			numbered = numberedRe.MatchString(blocks[i+1].Text)
		}
		heads = append(heads, heading{level: level, title: title, page: max(b.Page, 1), numbered: numbered})
	}
	return build(heads, maxPage)
}

// FromPages synthesizes one chapter per pagesPerChapter pages. It never
// fails and returns at least one chapter, even for an empty document.
func FromPages(pageCount, pagesPerChapter int) []model.HierarchyNode {
	if pagesPerChapter <= 0 {
		pagesPerChapter = DefaultPagesPerChapter
	}
	if pageCount < 1 {
		pageCount = 1
	}
	n := (pageCount + pagesPerChapter - 1) / pagesPerChapter
	nodes := make([]model.HierarchyNode, 0, n)
	for i := 0; i < n; i++ {
		start := i*pagesPerChapter + 1
		end := min(start+pagesPerChapter-1, pageCount)
		nodes = append(nodes, model.HierarchyNode{
			ID:        fmt.Sprintf("chapter_%d", i+1),
			Level:     1,
			Title:     fmt.Sprintf("Pages %d-%d", start, end),
			Kind:      model.StructureHierarchical,
			PageStart: start,
			PageEnd:   end,
		})
	}
	return nodes
}

// Kind infers whether a section is sequential from its title and whether a
// numbered list follows its heading.
func Kind(title string, numberedListFollows bool) model.StructureKind {
	if numberedListFollows || sequentialRe.MatchString(title) {
		return model.StructureSequential
	}
	return model.StructureHierarchical
}

// build assembles flat headings into a forest with lineage IDs and page
// ranges.
func build(heads []heading, pageCount int) []model.HierarchyNode {
	if len(heads) == 0 {
		return nil
	}
	pageCount = max(pageCount, 1)

	// Page end of each heading: up to the page before the next heading at the
	// same or a shallower level, never before its own start.
	ends := make([]int, len(heads))
	for i, h := range heads {
		ends[i] = pageCount
		for j := i + 1; j < len(heads); j++ {
			if heads[j].level <= h.level {
				ends[i] = max(h.page, heads[j].page-1)
				break
			}
		}
	}

	var roots []model.HierarchyNode
	// Open ancestors. A node is only appended to after its later siblings
	// have been popped, so the pointers stay valid.
	type frame struct {
		level int
		node  *model.HierarchyNode
	}
	var stack []frame

	for i, h := range heads {
		for len(stack) > 0 && stack[len(stack)-1].level >= h.level {
			stack = stack[:len(stack)-1]
		}
		n := model.HierarchyNode{
			Level:     h.level,
			Title:     h.title,
			Kind:      Kind(h.title, h.numbered),
			PageStart: h.page,
			PageEnd:   ends[i],
		}
		var siblings *[]model.HierarchyNode
		if len(stack) == 0 {
			siblings = &roots
			n.ID = fmt.Sprintf("%s_%d", levelNames[h.level], len(roots)+1)
		} else {
			parent := stack[len(stack)-1].node
			siblings = &parent.Children
			n.ParentID = parent.ID
			n.ID = fmt.Sprintf("%s_%s_%d", parent.ID, levelNames[h.level], len(parent.Children)+1)
		}
		*siblings = append(*siblings, n)
		stack = append(stack, frame{level: h.level, node: &(*siblings)[len(*siblings)-1]})
	}
	return roots
}

// Locate returns the deepest node whose page range covers page, or nil.
func Locate(nodes []model.HierarchyNode, page int) *model.HierarchyNode {
	for i := range nodes {
		n := &nodes[i]
		if page < n.PageStart || page > n.PageEnd {
			continue
		}
		if child := Locate(n.Children, page); child != nil {
			return child
		}
		return n
	}
	return nil
}
