package index

import (
	"bytes"
	"encoding/gob"
	"sort"
)

// InvertedIndex maps a word to the postings of every entity whose name
// contains it, for a single entity class. It also keeps a forward map from
// entity to its postings so an entity can be replaced or removed without
// scanning every word.
//
// InvertedIndex does no locking; the owning store serializes access.
type InvertedIndex struct {
	Class    EntityClass
	Index    map[string]PostingList
	Entities map[int64]PostingList
}

// NewInvertedIndex creates an empty index for class.
func NewInvertedIndex(class EntityClass) *InvertedIndex {
	return &InvertedIndex{
		Class:    class,
		Index:    make(map[string]PostingList),
		Entities: make(map[int64]PostingList),
	}
}

// Replace removes every posting of entityID and inserts postings in their place.
func (ii *InvertedIndex) Replace(entityID int64, postings PostingList) {
	ii.Remove(entityID)
	if len(postings) == 0 {
		return
	}

	stored := make(PostingList, len(postings))
	copy(stored, postings)
	for i := range stored {
		stored[i].EntityID = entityID
	}
	ii.Entities[entityID] = stored

	for _, p := range stored {
		list := ii.Index[p.Word]
		// Keep the list sorted by EntityID, then Position.
		insertionIdx := sort.Search(len(list), func(i int) bool {
			if list[i].EntityID != p.EntityID {
				return list[i].EntityID > p.EntityID
			}
			return list[i].Position >= p.Position
		})
		list = append(list, Posting{})
		copy(list[insertionIdx+1:], list[insertionIdx:])
		list[insertionIdx] = p
		ii.Index[p.Word] = list
	}
}

// Remove deletes every posting of entityID.
func (ii *InvertedIndex) Remove(entityID int64) {
	old, ok := ii.Entities[entityID]
	if !ok {
		return
	}
	delete(ii.Entities, entityID)

	seen := make(map[string]struct{}, len(old))
	for _, p := range old {
		if _, done := seen[p.Word]; done {
			continue
		}
		seen[p.Word] = struct{}{}

		list := ii.Index[p.Word]
		newList := make(PostingList, 0, len(list))
		for _, entry := range list {
			if entry.EntityID != entityID {
				newList = append(newList, entry)
			}
		}
		if len(newList) == 0 {
			delete(ii.Index, p.Word)
		} else {
			ii.Index[p.Word] = newList
		}
	}
}

// Lookup returns the postings for every given word, ordered by word order in
// words and then by EntityID.
func (ii *InvertedIndex) Lookup(words []string) PostingList {
	result := make(PostingList, 0)
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		result = append(result, ii.Index[w]...)
	}
	return result
}

// EntityIDs returns the IDs of every entity with at least one posting, ascending.
func (ii *InvertedIndex) EntityIDs() []int64 {
	ids := make([]int64, 0, len(ii.Entities))
	for id := range ii.Entities {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// PostingCount returns the total number of postings.
func (ii *InvertedIndex) PostingCount() int {
	n := 0
	for _, list := range ii.Entities {
		n += len(list)
	}
	return n
}

// Clear drops every posting.
func (ii *InvertedIndex) Clear() {
	ii.Index = make(map[string]PostingList)
	ii.Entities = make(map[int64]PostingList)
}

// Clone returns a deep copy, used to stage batch writes so they can be
// discarded on failure.
func (ii *InvertedIndex) Clone() *InvertedIndex {
	c := NewInvertedIndex(ii.Class)
	for word, list := range ii.Index {
		c.Index[word] = append(PostingList(nil), list...)
	}
	for id, list := range ii.Entities {
		c.Entities[id] = append(PostingList(nil), list...)
	}
	return c
}

// gobInvertedIndexData is the on-disk form. Only the forward map is stored;
// the word map is rebuilt on decode.
type gobInvertedIndexData struct {
	Class    EntityClass
	Entities map[int64]PostingList
}

// GobEncode implements the gob.GobEncoder interface for InvertedIndex.
func (ii *InvertedIndex) GobEncode() ([]byte, error) {
	dataToEncode := gobInvertedIndexData{
		Class:    ii.Class,
		Entities: ii.Entities,
	}

	var buf bytes.Buffer
	encoder := gob.NewEncoder(&buf)
	if err := encoder.Encode(dataToEncode); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GobDecode implements the gob.GobDecoder interface for InvertedIndex.
func (ii *InvertedIndex) GobDecode(data []byte) error {
	decodedData := gobInvertedIndexData{}

	buf := bytes.NewBuffer(data)
	decoder := gob.NewDecoder(buf)
	if err := decoder.Decode(&decodedData); err != nil {
		return err
	}

	ii.Class = decodedData.Class
	ii.Clear()
	for id, postings := range decodedData.Entities {
		ii.Replace(id, postings)
	}
	return nil
}
