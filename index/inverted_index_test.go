package index

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entityIDs(list PostingList) []int64 {
	ids := make([]int64, 0, len(list))
	for _, p := range list {
		ids = append(ids, p.EntityID)
	}
	return ids
}

func TestBuildPostings(t *testing.T) {
	postings := BuildPostings(7, []string{"tarkan", "dudu"})
	require.Len(t, postings, 2)
	assert.Equal(t, Posting{EntityID: 7, Word: "tarkan", WordLength: 6, Position: 0}, postings[0])
	assert.Equal(t, Posting{EntityID: 7, Word: "dudu", WordLength: 4, Position: 1}, postings[1])
}

func TestInvertedIndex_ReplaceAndLookup(t *testing.T) {
	ii := NewInvertedIndex(ClassLibrary)
	ii.Replace(2, BuildPostings(2, []string{"tarkan", "kis", "masali"}))
	ii.Replace(1, BuildPostings(1, []string{"tarkan", "dudu"}))

	got := ii.Lookup([]string{"tarkan"})
	assert.Equal(t, []int64{1, 2}, entityIDs(got), "postings should be ordered by entity ID")

	got = ii.Lookup([]string{"dudu", "dudu"})
	assert.Equal(t, []int64{1}, entityIDs(got), "duplicate query words must not duplicate postings")

	assert.Empty(t, ii.Lookup([]string{"missing"}))
	assert.Equal(t, 5, ii.PostingCount())
}

func TestInvertedIndex_ReplaceLeavesNoStalePostings(t *testing.T) {
	ii := NewInvertedIndex(ClassReference)
	ii.Replace(1, BuildPostings(1, []string{"old", "name"}))
	ii.Replace(1, BuildPostings(1, []string{"new", "name"}))

	assert.Empty(t, ii.Lookup([]string{"old"}))
	assert.Len(t, ii.Lookup([]string{"new"}), 1)
	assert.Len(t, ii.Lookup([]string{"name"}), 1)
	_, hasOld := ii.Index["old"]
	assert.False(t, hasOld, "empty posting lists should be deleted")
}

func TestInvertedIndex_RepeatedWordPositions(t *testing.T) {
	ii := NewInvertedIndex(ClassLibrary)
	ii.Replace(3, BuildPostings(3, []string{"la", "la", "land"}))

	got := ii.Lookup([]string{"la"})
	require.Len(t, got, 2)
	assert.Equal(t, 0, got[0].Position)
	assert.Equal(t, 1, got[1].Position)

	ii.Remove(3)
	assert.Empty(t, ii.Index)
	assert.Empty(t, ii.Entities)
}

func TestInvertedIndex_EntityIDsAndClear(t *testing.T) {
	ii := NewInvertedIndex(ClassLibrary)
	ii.Replace(9, BuildPostings(9, []string{"a"}))
	ii.Replace(4, BuildPostings(4, []string{"b"}))
	ii.Replace(5, nil)

	assert.Equal(t, []int64{4, 9}, ii.EntityIDs())

	ii.Clear()
	assert.Empty(t, ii.EntityIDs())
	assert.Zero(t, ii.PostingCount())
}

func TestInvertedIndex_CloneIsIndependent(t *testing.T) {
	ii := NewInvertedIndex(ClassLibrary)
	ii.Replace(1, BuildPostings(1, []string{"strobe"}))

	clone := ii.Clone()
	clone.Replace(2, BuildPostings(2, []string{"strobe"}))

	assert.Len(t, ii.Lookup([]string{"strobe"}), 1)
	assert.Len(t, clone.Lookup([]string{"strobe"}), 2)
}

func TestInvertedIndex_Gob(t *testing.T) {
	ii := NewInvertedIndex(ClassLibrary)
	ii.Replace(1, BuildPostings(1, []string{"deadmau5", "strobe"}))

	var buf bytes.Buffer
	require.NoError(t, gob.NewEncoder(&buf).Encode(ii))

	decoded := &InvertedIndex{}
	require.NoError(t, gob.NewDecoder(&buf).Decode(decoded))

	assert.Equal(t, ClassLibrary, decoded.Class)
	assert.Equal(t, ii.Lookup([]string{"strobe"}), decoded.Lookup([]string{"strobe"}))
}

func TestParseEntityClass(t *testing.T) {
	c, err := ParseEntityClass("library")
	require.NoError(t, err)
	assert.Equal(t, ClassLibrary, c)

	_, err = ParseEntityClass("playlist")
	assert.Error(t, err)
}
