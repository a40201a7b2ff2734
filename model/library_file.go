// Package model defines the entities the reconciler works on: physical
// library files, track references that should resolve to them, and the match
// outcomes attached to references.
package model

import "time"

// LibraryFile is a confirmed, physically present media file.
// Path is unique; ID is assigned by the store and stays stable for a path.
type LibraryFile struct {
	ID             int64     `json:"id"`
	Path           string    `json:"path"`
	FileName       string    `json:"file_name"`
	NormalizedName string    `json:"normalized_name"`
	Size           int64     `json:"size"`
	ModifiedTime   time.Time `json:"modified_time"`
}
