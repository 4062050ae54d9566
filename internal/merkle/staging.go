package merkle

// stagingArea holds the entries created since the last commit, keyed by
// hash, plus the current working tree. Nothing here touches the backend;
// a commit flushes the reachable part and clears the area.
type stagingArea struct {
	entries map[Hash]*Entry
	// root is the currently checked-out working tree. nil means the store
	// has not been touched yet; the first access initializes it empty.
	root Tree
}

func newStagingArea() *stagingArea {
	return &stagingArea{
		entries: make(map[Hash]*Entry),
	}
}

func (s *stagingArea) put(h Hash, e *Entry) {
	s.entries[h] = e
}

func (s *stagingArea) get(h Hash) (*Entry, bool) {
	e, ok := s.entries[h]
	return e, ok
}

// clear drops staged entries but keeps the working tree checked out.
func (s *stagingArea) clear() {
	s.entries = make(map[Hash]*Entry)
}

func (s *stagingArea) size() int {
	return len(s.entries)
}
