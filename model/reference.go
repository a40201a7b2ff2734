package model

import "fmt"

// SourceKind identifies where a reference was found.
type SourceKind string

const (
	SourcePlaylist SourceKind = "playlist"
	SourceHistory  SourceKind = "history"
)

// Valid reports whether k is a known source kind.
func (k SourceKind) Valid() bool {
	return k == SourcePlaylist || k == SourceHistory
}

// ParseSourceKind converts a string into a SourceKind.
func ParseSourceKind(s string) (SourceKind, error) {
	k := SourceKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown source kind '%s'", s)
	}
	return k, nil
}

// Reference is a track mention taken from a playlist or a play-history log.
// A (SourceKind, Path) pair is unique.
//
// The match fields only ever move from unmatched to matched.
type Reference struct {
	ID              int64      `json:"id"`
	Path            string     `json:"path"`
	FileName        string     `json:"file_name"`
	NormalizedName  string     `json:"normalized_name"`
	SourceKind      SourceKind `json:"source_kind"`
	SourceFile      string     `json:"source_file"`
	Matched         bool       `json:"matched"`
	MatchedEntityID int64      `json:"matched_entity_id,omitempty"`
	MatchStage      Stage      `json:"match_stage,omitempty"`
	MatchScore      float64    `json:"match_score,omitempty"`
}

// ReferenceKey returns the natural key of a reference.
func ReferenceKey(kind SourceKind, path string) string {
	return string(kind) + "\x00" + path
}

// Key returns the natural key of r.
func (r Reference) Key() string {
	return ReferenceKey(r.SourceKind, r.Path)
}
