package disk

import (
	"path"
	"sync"
)

// ListSearch is a SearchContext over a name snapshot taken when the search
// started. Entries removed since the snapshot are skipped when reached.
type ListSearch struct {
	mu    sync.Mutex
	names []string
	pos   int
	stat  func(name string) (*FileInfo, error)
	close func()
}

// NewListSearch returns a search over names filtered by pattern. stat is
// called lazily for each entry; onClose (optional) runs once on Close.
func NewListSearch(names []string, pattern string, stat func(name string) (*FileInfo, error), onClose func()) *ListSearch {
	matched := names
	if pattern != "" && pattern != "*" {
		matched = make([]string, 0, len(names))
		for _, n := range names {
			if ok, _ := path.Match(pattern, n); ok {
				matched = append(matched, n)
			}
		}
	}
	return &ListSearch{names: matched, stat: stat, close: onClose}
}

func (s *ListSearch) Next() (*FileInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.pos < len(s.names) {
		name := s.names[s.pos]
		s.pos++
		info, err := s.stat(name)
		if err != nil {
			continue
		}
		return info, true
	}
	return nil, false
}

func (s *ListSearch) HasMore() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos < len(s.names)
}

func (s *ListSearch) ResumeID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint32(s.pos)
}

func (s *ListSearch) RestartAt(resumeID uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if int(resumeID) > len(s.names) {
		return false
	}
	s.pos = int(resumeID)
	return true
}

func (s *ListSearch) Close() {
	s.mu.Lock()
	fn := s.close
	s.close = nil
	s.names = nil
	s.pos = 0
	s.mu.Unlock()

	if fn != nil {
		fn()
	}
}
