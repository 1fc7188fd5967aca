package model

// StageStatus represents the outcome of a pipeline stage.
type StageStatus string

const (
	StageStatusComplete StageStatus = "complete"
	StageStatusFailed   StageStatus = "failed"
	StageStatusSkipped  StageStatus = "skipped"
	StageStatusDegraded StageStatus = "degraded"
)

// StageResult holds the outcome of one pipeline stage.
type StageResult struct {
	Name       string         `json:"name"`
	Status     StageStatus    `json:"status"`
	DurationMs int64          `json:"duration_ms"`
	Attempts   int            `json:"attempts,omitempty"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// DocumentGraph is the pipeline payload stored in the cache.
type DocumentGraph struct {
	Fingerprint    DocumentFingerprint        `json:"fingerprint"`
	Classification DocumentTypeClassification `json:"classification"`
	ParseMethod    ParseMethod                `json:"parse_method"`
	Hierarchy      []HierarchyNode            `json:"hierarchy"`
	Concepts       []Concept                  `json:"concepts"`
	Relationships  []Relationship             `json:"relationships"`
}

// ProcessingResult is returned for every pipeline run. A result without an
// error can still be degraded, and a failed result can still carry partial
// data.
type ProcessingResult struct {
	Success  bool           `json:"success"`
	Cached   bool           `json:"cached"`
	Degraded bool           `json:"degraded"`
	Data     *DocumentGraph `json:"data,omitempty"`
	CostUSD  *float64       `json:"cost_usd,omitempty"`
	Error    string         `json:"error,omitempty"`
	Stages   []StageResult  `json:"stages"`
}
