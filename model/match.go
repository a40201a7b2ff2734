package model

// Stage names one strategy of the matching pipeline, ordered from strictest
// to most permissive.
type Stage string

const (
	StageExactPath       Stage = "exact_path"
	StageExactFileName   Stage = "exact_filename"
	StageFileNameStem    Stage = "filename_stem"
	StageFuzzySimilarity Stage = "fuzzy_similarity"
	StageWordCombination Stage = "word_combination"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{
	StageExactPath,
	StageExactFileName,
	StageFileNameStem,
	StageFuzzySimilarity,
	StageWordCombination,
}

// MatchResult is the outcome attached to a reference by a pipeline stage.
type MatchResult struct {
	ReferenceID     int64   `json:"reference_id"`
	Matched         bool    `json:"matched"`
	MatchedEntityID int64   `json:"matched_entity_id"`
	Stage           Stage   `json:"stage"`
	Score           float64 `json:"score"`
}

// StageReport is the number of references a stage newly matched.
type StageReport struct {
	Stage      Stage `json:"stage"`
	Considered int   `json:"considered"`
	Matched    int   `json:"matched"`
	TookMs     int64 `json:"took_ms"`
}

// MatchStatistics summarizes the match state of all references.
type MatchStatistics struct {
	Total     int                `json:"total"`
	Matched   int                `json:"matched"`
	Unmatched int                `json:"unmatched"`
	MatchRate float64            `json:"match_rate"` // Percentage, 0 when Total is 0
	ByStage   map[Stage]int      `json:"by_stage"`
	BySource  map[SourceKind]int `json:"by_source"` // Matched references per source kind
}

// ComputeRate fills Unmatched and MatchRate from Total and Matched.
func (s *MatchStatistics) ComputeRate() {
	s.Unmatched = s.Total - s.Matched
	if s.Total == 0 {
		s.MatchRate = 0
		return
	}
	s.MatchRate = float64(s.Matched) / float64(s.Total) * 100
}

// PipelineReport is the outcome of one matching run.
type PipelineReport struct {
	RunID      string          `json:"run_id"`
	Stages     []StageReport   `json:"stages"`
	Statistics MatchStatistics `json:"statistics"`
	TookMs     int64           `json:"took_ms"`
}
