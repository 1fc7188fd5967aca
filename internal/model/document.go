package model

// DocumentFingerprint identifies a document by content. Hash is the sole
// cache key; identical bytes always produce an identical fingerprint.
type DocumentFingerprint struct {
	Hash          string `json:"hash"`
	PageCount     int    `json:"page_count"`
	FileSizeBytes int64  `json:"file_size_bytes"`
	Title         string `json:"title,omitempty"`
	Author        string `json:"author,omitempty"`
}

// DocumentKind is the digital/scanned/hybrid classification of a document.
type DocumentKind string

const (
	DocumentKindDigital DocumentKind = "digital"
	DocumentKindScanned DocumentKind = "scanned"
	DocumentKindHybrid  DocumentKind = "hybrid"
)

// DocumentTypeClassification is computed from a bounded page sample and
// consumed immediately by parsing and cost estimation.
type DocumentTypeClassification struct {
	Kind             DocumentKind `json:"kind"`
	Confidence       float64      `json:"confidence"`
	SampledPageCount int          `json:"sampled_page_count"`
	TextPageRatio    float64      `json:"text_page_ratio"`
	// ImagePages counts sampled pages judged likely scanned.
	ImagePages int `json:"image_pages"`
}

// ParseMethod names the position of a parser in the fallback chain.
type ParseMethod string

const (
	ParseMethodPrimary   ParseMethod = "primary"
	ParseMethodSecondary ParseMethod = "secondary"
	ParseMethodTertiary  ParseMethod = "tertiary"
)

// LayoutRole is the typed role of a block returned by a layout service.
type LayoutRole string

const (
	LayoutRoleTitle         LayoutRole = "title"
	LayoutRoleSectionHeader LayoutRole = "section_header"
	LayoutRoleLine          LayoutRole = "line"
)

// LayoutBlock is one block of an OCR/layout response.
type LayoutBlock struct {
	Role  LayoutRole `json:"role"`
	Text  string     `json:"text"`
	Page  int        `json:"page"`
	Level int        `json:"level,omitempty"`
}

// ParseResult is produced by exactly one method of the parser chain.
type ParseResult struct {
	Text       string         `json:"text"`
	Markdown   string         `json:"markdown,omitempty"`
	MethodUsed ParseMethod    `json:"method_used"`
	Method     string         `json:"method"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Layout     []LayoutBlock  `json:"layout,omitempty"`
	// PageTexts holds per-page text when the method can provide it (1-based
	// page i is PageTexts[i-1]).
	PageTexts []string `json:"page_texts,omitempty"`
}

// PageCount returns the number of pages the parse result knows about.
func (r *ParseResult) PageCount() int {
	return len(r.PageTexts)
}

// StructureKind marks a hierarchy node or concept location as hierarchical
// (taxonomic) or sequential (procedural).
type StructureKind string

const (
	StructureHierarchical StructureKind = "hierarchical"
	StructureSequential   StructureKind = "sequential"
)

// HierarchyNode is one section of the document tree. ID encodes lineage
// (e.g. chapter_2_section_1) and doubles as a stable sort key.
type HierarchyNode struct {
	ID        string          `json:"id"`
	Level     int             `json:"level"`
	Title     string          `json:"title"`
	Kind      StructureKind   `json:"kind"`
	ParentID  string          `json:"parent_id,omitempty"`
	Children  []HierarchyNode `json:"children,omitempty"`
	PageStart int             `json:"page_start"`
	PageEnd   int             `json:"page_end"`
}

// Walk visits n and all descendants depth-first.
func (n *HierarchyNode) Walk(fn func(*HierarchyNode)) {
	fn(n)
	for i := range n.Children {
		n.Children[i].Walk(fn)
	}
}

// CountNodes returns the number of nodes in a forest.
func CountNodes(nodes []HierarchyNode) int {
	total := 0
	for i := range nodes {
		nodes[i].Walk(func(*HierarchyNode) { total++ })
	}
	return total
}
