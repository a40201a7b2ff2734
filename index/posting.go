// Package index defines the word-index data structures shared by the indexing
// service and the storage backends: entity classes, postings, and the
// in-memory inverted index used by the memory store.
package index

import "fmt"

// EntityClass selects one of the two independent entity spaces. Postings of
// different classes never share a table, so a word of one class can never
// match an entity of the other.
type EntityClass string

const (
	ClassLibrary   EntityClass = "library"
	ClassReference EntityClass = "reference"
)

// Classes lists every entity class in a fixed order.
var Classes = []EntityClass{ClassLibrary, ClassReference}

// Valid reports whether c is a known entity class.
func (c EntityClass) Valid() bool {
	return c == ClassLibrary || c == ClassReference
}

// ParseEntityClass converts a string into an EntityClass.
func ParseEntityClass(s string) (EntityClass, error) {
	c := EntityClass(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown entity class '%s'", s)
	}
	return c, nil
}

// Posting records one word of an entity's normalized name and its ordinal
// position within that name.
type Posting struct {
	EntityID   int64
	Word       string
	WordLength int
	Position   int
}

// PostingList is kept sorted by EntityID, then Position.
type PostingList []Posting

// BuildPostings creates one posting per word at its ordinal position.
func BuildPostings(entityID int64, words []string) PostingList {
	postings := make(PostingList, 0, len(words))
	for position, word := range words {
		postings = append(postings, Posting{
			EntityID:   entityID,
			Word:       word,
			WordLength: len(word),
			Position:   position,
		})
	}
	return postings
}
