// Package notifications caches the signed-in user's notifications and keeps them in
// step with the snapshot endpoint and the push channel.
package notifications

import (
	"sync"

	"ailearning/client/internal/model"
)

// Store is a keyed collection with a newest-first view. It never deletes a
// record; Reset drops everything at session end.
type Store struct {
	mu    sync.Mutex
	items []model.Notification
	ids   map[int64]struct{}
	gen   uint64
}

func NewStore() *Store {
	return &Store{ids: map[int64]struct{}{}}
}

// Generation changes on every Reset. Results fetched under an older generation
// belong to a previous session and must be discarded.
func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// LoadSnapshot replaces the collection with the server list, keeping its order.
// Duplicate ids in the list keep the first occurrence.
func (s *Store) LoadSnapshot(records []model.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replaceLocked(records)
}

// LoadSnapshotIf applies records only when gen is still current.
func (s *Store) LoadSnapshotIf(gen uint64, records []model.Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false
	}
	s.replaceLocked(records)
	return true
}

func (s *Store) replaceLocked(records []model.Notification) {
	s.items = make([]model.Notification, 0, len(records))
	s.ids = make(map[int64]struct{}, len(records))
	for _, r := range records {
		if _, dup := s.ids[r.ID]; dup {
			continue
		}
		s.ids[r.ID] = struct{}{}
		s.items = append(s.items, r)
	}
}

// Append puts r at the front unless a record with the same id is already cached,
// in which case the cached one wins. It reports whether r was inserted.
func (s *Store) Append(r model.Notification) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[r.ID]; ok {
		return false
	}
	s.ids[r.ID] = struct{}{}
	s.items = append([]model.Notification{r}, s.items...)
	return true
}

// MarkAllRead flips every cached record to read and returns how many changed.
func (s *Store) MarkAllRead() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := 0
	for i := range s.items {
		if !s.items[i].IsRead {
			s.items[i].IsRead = true
			changed++
		}
	}
	return changed
}

// UnreadCount is derived from the records on every call.
func (s *Store) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.items {
		if !r.IsRead {
			n++
		}
	}
	return n
}

func (s *Store) List() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Notification(nil), s.items...)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.ids = map[int64]struct{}{}
	s.gen++
}
