package fingerprint

import (
	"github.com/biogo/store/llrb"
)

// Entry is one retained hash of a bottom-k sketch together with the number of
// times it was observed.
type Entry struct {
	Hash  uint64
	Count uint64
}

// Compare implements llrb.Comparable.
func (e *Entry) Compare(c llrb.Comparable) int {
	o := c.(*Entry)
	switch {
	case e.Hash < o.Hash:
		return -1
	case e.Hash > o.Hash:
		return 1
	}
	return 0
}

// bottomK keeps the k smallest distinct hashes it has seen, with counts.
//
// An observed hash is retained iff it is among the k smallest distinct hashes
// seen so far. Since the largest retained hash never increases, a hash that is
// rejected or evicted once can never re-enter, so the count of every hash that
// survives to the end is exact. Two distinct keys that collide on a hash share
// the entry created by the first of them.
type bottomK struct {
	k    int
	tree llrb.Tree
	max  uint64 // largest retained hash, valid when tree.Len() == k
	key  Entry  // scratch lookup key
}

func newBottomK(k int) *bottomK {
	return &bottomK{k: k}
}

// Add records count observations of hash h.
func (s *bottomK) Add(h, count uint64) {
	full := s.tree.Len() >= s.k
	if full && h > s.max {
		return
	}
	s.key.Hash = h
	if e := s.tree.Get(&s.key); e != nil {
		e.(*Entry).Count += count
		return
	}
	s.tree.Insert(&Entry{Hash: h, Count: count})
	if s.tree.Len() > s.k {
		s.tree.DeleteMax()
	}
	if s.tree.Len() >= s.k {
		s.max = s.tree.Max().(*Entry).Hash
	}
}

// Entries returns the retained entries in ascending hash order.
func (s *bottomK) Entries() []Entry {
	entries := make([]Entry, 0, s.tree.Len())
	s.tree.Do(func(c llrb.Comparable) bool {
		entries = append(entries, *c.(*Entry))
		return false
	})
	return entries
}

// mergeEntries computes the bottom-k sketch of the union of the sets
// sketched by a and b. The counts of a hash present in both are summed. Both
// inputs must be sorted by hash.
func mergeEntries(a, b []Entry, k int) []Entry {
	out := make([]Entry, 0, min(k, len(a)+len(b)))
	i, j := 0, 0
	for len(out) < k && (i < len(a) || j < len(b)) {
		switch {
		case j >= len(b) || (i < len(a) && a[i].Hash < b[j].Hash):
			out = append(out, a[i])
			i++
		case i >= len(a) || b[j].Hash < a[i].Hash:
			out = append(out, b[j])
			j++
		default:
			out = append(out, Entry{Hash: a[i].Hash, Count: a[i].Count + b[j].Count})
			i++
			j++
		}
	}
	return out
}

// horizon returns the largest hash value up to which the membership of every
// hash in the sketched set is known. A sketch holding fewer than k entries is
// the complete set.
func horizon(entries []Entry, k int) uint64 {
	if len(entries) < k || len(entries) == 0 {
		return ^uint64(0)
	}
	return entries[len(entries)-1].Hash
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
