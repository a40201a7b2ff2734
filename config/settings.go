// Package config provides configuration structures for the reconciler.
// It defines storage, indexing, search and matching settings, their defaults,
// and loading from a YAML file.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// StorageSettings selects the persistence backend.
// For the memory backend Path is an optional gob snapshot file; for sqlite it
// is the database file.
type StorageSettings struct {
	Backend string `yaml:"backend" json:"backend"`
	Path    string `yaml:"path" json:"path"`
}

// IndexSettings configures the word index.
type IndexSettings struct {
	MinWordLength int `yaml:"min_word_length" json:"min_word_length"` // Words shorter than this are never indexed or queried
	BatchSize     int `yaml:"batch_size" json:"batch_size"`           // Entities per atomic write during bulk indexing and rebuilds
	Workers       int `yaml:"workers" json:"workers"`                 // Goroutines normalizing entities during bulk indexing
}

// SearchSettings configures live search.
//
// The result buffer compensates for post-filtering before ranking: a request
// for offset+limit <= SmallLimitThreshold fetches ResultBufferMultiplier times
// as many candidates; larger requests fetch offset+limit+BufferPadding, capped
// at MaxResultBuffer.
type SearchSettings struct {
	FuzzyThreshold         float64 `yaml:"fuzzy_threshold" json:"fuzzy_threshold"`
	DefaultLimit           int     `yaml:"default_limit" json:"default_limit"`
	ResultBufferMultiplier int     `yaml:"result_buffer_multiplier" json:"result_buffer_multiplier"`
	SmallLimitThreshold    int     `yaml:"small_limit_threshold" json:"small_limit_threshold"`
	BufferPadding          int     `yaml:"buffer_padding" json:"buffer_padding"`
	MaxResultBuffer        int     `yaml:"max_result_buffer" json:"max_result_buffer"`
	PairCacheSize          int     `yaml:"pair_cache_size" json:"pair_cache_size"`
}

// MatchingSettings configures the matching pipeline. The thresholds are
// tunable defaults, not contracts.
type MatchingSettings struct {
	FuzzyThreshold float64 `yaml:"fuzzy_threshold" json:"fuzzy_threshold"` // Minimum hybrid similarity for the fuzzy stage
	WordThreshold  float64 `yaml:"word_threshold" json:"word_threshold"`   // Minimum matched-word ratio for the word-combination stage
	WordCutoff     float64 `yaml:"word_cutoff" json:"word_cutoff"`         // Minimum per-word similarity for a word to count as matched
	MinWords       int     `yaml:"min_words" json:"min_words"`             // Word-combination stage only considers names with at least this many words
	MinNameLength  int     `yaml:"min_name_length" json:"min_name_length"` // ... and normalized names strictly longer than this
	EarlyStopWords int     `yaml:"early_stop_words" json:"early_stop_words"`
	Workers        int     `yaml:"workers" json:"workers"`
	PairCacheSize  int     `yaml:"pair_cache_size" json:"pair_cache_size"`
}

// ServerSettings configures the HTTP adapter.
type ServerSettings struct {
	Port            string `yaml:"port" json:"port"`
	MaxRequestBytes int64  `yaml:"max_request_bytes" json:"max_request_bytes"`
}

// Settings is the full configuration of the reconciler.
type Settings struct {
	Storage  StorageSettings  `yaml:"storage" json:"storage"`
	Index    IndexSettings    `yaml:"index" json:"index"`
	Search   SearchSettings   `yaml:"search" json:"search"`
	Matching MatchingSettings `yaml:"matching" json:"matching"`
	Server   ServerSettings   `yaml:"server" json:"server"`
}

// Default returns settings with every default applied.
func Default() *Settings {
	s := &Settings{}
	s.ApplyDefaults()
	return s
}

// Load reads YAML settings from path and applies defaults to missing values.
func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path is an operator-supplied config file
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	settings := &Settings{}
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	settings.ApplyDefaults()

	if conflicts := settings.Validate(); len(conflicts) > 0 {
		return nil, fmt.Errorf("invalid config file %s: %s", path, strings.Join(conflicts, "; "))
	}
	return settings, nil
}

// ApplyDefaults applies default values to the settings
func (s *Settings) ApplyDefaults() {
	if s.Storage.Backend == "" {
		s.Storage.Backend = BackendMemory
	}

	if s.Index.MinWordLength == 0 {
		s.Index.MinWordLength = 1
	}
	if s.Index.BatchSize == 0 {
		s.Index.BatchSize = 500
	}
	if s.Index.Workers == 0 {
		s.Index.Workers = runtime.NumCPU()
	}

	if s.Search.FuzzyThreshold == 0 {
		s.Search.FuzzyThreshold = 0.7
	}
	if s.Search.DefaultLimit == 0 {
		s.Search.DefaultLimit = 20
	}
	if s.Search.ResultBufferMultiplier == 0 {
		s.Search.ResultBufferMultiplier = 3
	}
	if s.Search.SmallLimitThreshold == 0 {
		s.Search.SmallLimitThreshold = 100
	}
	if s.Search.BufferPadding == 0 {
		s.Search.BufferPadding = 50
	}
	if s.Search.MaxResultBuffer == 0 {
		s.Search.MaxResultBuffer = 10000
	}
	if s.Search.PairCacheSize == 0 {
		s.Search.PairCacheSize = 50_000
	}

	if s.Matching.FuzzyThreshold == 0 {
		s.Matching.FuzzyThreshold = 0.4
	}
	if s.Matching.WordThreshold == 0 {
		s.Matching.WordThreshold = 0.6
	}
	if s.Matching.WordCutoff == 0 {
		s.Matching.WordCutoff = 0.7
	}
	if s.Matching.MinWords == 0 {
		s.Matching.MinWords = 2
	}
	if s.Matching.MinNameLength == 0 {
		s.Matching.MinNameLength = 15
	}
	if s.Matching.EarlyStopWords == 0 {
		s.Matching.EarlyStopWords = 3
	}
	if s.Matching.Workers == 0 {
		s.Matching.Workers = runtime.NumCPU()
	}
	if s.Matching.PairCacheSize == 0 {
		s.Matching.PairCacheSize = 200_000
	}

	if s.Server.Port == "" {
		s.Server.Port = "8080"
	}
	if s.Server.MaxRequestBytes == 0 {
		s.Server.MaxRequestBytes = 32 << 20
	}
}

// Validate checks the settings and returns one message per problem found.
func (s *Settings) Validate() []string {
	var conflicts []string

	switch s.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if strings.TrimSpace(s.Storage.Path) == "" {
			conflicts = append(conflicts, "storage.path is required for the sqlite backend")
		}
	default:
		conflicts = append(conflicts, "Unknown storage backend '"+s.Storage.Backend+"' (must be 'memory' or 'sqlite')")
	}

	if s.Index.MinWordLength < 1 {
		conflicts = append(conflicts, "index.min_word_length must be at least 1")
	}
	if s.Index.BatchSize < 1 {
		conflicts = append(conflicts, "index.batch_size must be at least 1")
	}
	if s.Index.Workers < 1 {
		conflicts = append(conflicts, "index.workers must be at least 1")
	}

	conflicts = append(conflicts, checkThreshold("search.fuzzy_threshold", s.Search.FuzzyThreshold)...)
	conflicts = append(conflicts, checkThreshold("matching.fuzzy_threshold", s.Matching.FuzzyThreshold)...)
	conflicts = append(conflicts, checkThreshold("matching.word_threshold", s.Matching.WordThreshold)...)
	conflicts = append(conflicts, checkThreshold("matching.word_cutoff", s.Matching.WordCutoff)...)

	if s.Search.DefaultLimit < 1 {
		conflicts = append(conflicts, "search.default_limit must be at least 1")
	}
	if s.Search.ResultBufferMultiplier < 1 {
		conflicts = append(conflicts, "search.result_buffer_multiplier must be at least 1")
	}
	if s.Search.MaxResultBuffer < s.Search.DefaultLimit {
		conflicts = append(conflicts, "search.max_result_buffer must not be smaller than search.default_limit")
	}

	if s.Matching.MinWords < 1 {
		conflicts = append(conflicts, "matching.min_words must be at least 1")
	}
	if s.Matching.EarlyStopWords < 1 {
		conflicts = append(conflicts, "matching.early_stop_words must be at least 1")
	}
	if s.Matching.Workers < 1 {
		conflicts = append(conflicts, "matching.workers must be at least 1")
	}

	return conflicts
}

// checkThreshold validates that a similarity threshold lies in (0, 1]
func checkThreshold(name string, value float64) []string {
	if value <= 0 || value > 1 {
		return []string{fmt.Sprintf("%s must be in (0, 1], got %v", name, value)}
	}
	return nil
}

// ResultBufferSize returns how many candidates a search for offset+limit
// results should fetch before ranking.
func (s SearchSettings) ResultBufferSize(offset, limit int) int {
	wanted := offset + limit
	if wanted <= 0 {
		wanted = s.DefaultLimit
	}
	var size int
	if wanted <= s.SmallLimitThreshold {
		size = wanted * s.ResultBufferMultiplier
	} else {
		size = wanted + s.BufferPadding
	}
	if size > s.MaxResultBuffer {
		size = s.MaxResultBuffer
	}
	return size
}
