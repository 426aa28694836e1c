package catalog

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"
)

// Query is one point of the discovery search space.
type Query struct {
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
	SortType    string `json:"sort_type"`
	Keyword     string `json:"keyword"`
	Limit       int    `json:"limit"`
}

// Fingerprint returns a deterministic hex digest of every query parameter. Each field is length-prefixed so
// that ("ab","c") and ("a","bc") never collide.
func (q Query) Fingerprint() string {
	h := sha256.New()
	var lenBuf [8]byte
	for _, part := range []string{q.Category, q.Subcategory, q.SortType, q.Keyword, strconv.Itoa(q.Limit)} {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(part)))
		_, _ = h.Write(lenBuf[:])
		_, _ = h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FingerprintSet tracks which queries have been issued during one run. It is not safe for concurrent use;
// discovery walks the query space sequentially.
type FingerprintSet struct {
	seen map[string]struct{}
}

// NewFingerprintSet builds an empty set.
func NewFingerprintSet() *FingerprintSet {
	return &FingerprintSet{seen: make(map[string]struct{})}
}

// MarkIfNew records the fingerprint and returns true the first time it is seen.
func (s *FingerprintSet) MarkIfNew(fp string) bool {
	if _, ok := s.seen[fp]; ok {
		return false
	}
	s.seen[fp] = struct{}{}
	return true
}

// Len returns the number of distinct fingerprints recorded.
func (s *FingerprintSet) Len() int {
	return len(s.seen)
}
