// Package progress caches per-course lesson completion for the signed-in student.
package progress

import (
	"sync"

	"github.com/juju/errors"

	"ailearning/client/internal/model"
)

// Store holds one record per course. Every write keeps
// CompletedLessons == len(CompletedLessonIDs) and never lowers either for a course.
type Store struct {
	mu      sync.Mutex
	records []model.Progress
	gen     uint64
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Validate reports records that break the count invariant.
func Validate(rec model.Progress) error {
	if rec.CourseID == "" {
		return errors.NotValidf("progress record without course id")
	}
	unique := make(map[string]struct{}, len(rec.CompletedLessonIDs))
	for _, id := range rec.CompletedLessonIDs {
		unique[id] = struct{}{}
	}
	if rec.CompletedLessons != len(unique) || len(unique) != len(rec.CompletedLessonIDs) {
		return errors.NotValidf("progress for %s: %d completed but %d lesson ids",
			rec.CourseID, rec.CompletedLessons, len(rec.CompletedLessonIDs))
	}
	if rec.TotalLessons > 0 && rec.CompletedLessons > rec.TotalLessons {
		return errors.NotValidf("progress for %s: %d of %d lessons",
			rec.CourseID, rec.CompletedLessons, rec.TotalLessons)
	}
	return nil
}

// ReplaceAll swaps in a full list. Invalid records are skipped, and a record that
// would drop a cached completed lesson keeps the cached one.
func (s *Store) ReplaceAll(records []model.Progress) []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaceLocked(records)
}

// ReplaceAllIf is ReplaceAll guarded by the session generation.
func (s *Store) ReplaceAllIf(gen uint64, records []model.Progress) (bool, []error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return false, nil
	}
	return true, s.replaceLocked(records)
}

func (s *Store) replaceLocked(records []model.Progress) []error {
	var errs []error
	next := make([]model.Progress, 0, len(records))
	seen := make(map[string]int, len(records))
	for _, rec := range records {
		if err := Validate(rec); err != nil {
			errs = append(errs, err)
			continue
		}
		if cached, ok := s.findLocked(rec.CourseID); ok && !covers(rec, s.records[cached]) {
			rec = s.records[cached]
		}
		if i, dup := seen[rec.CourseID]; dup {
			if covers(rec, next[i]) {
				next[i] = rec.Clone()
			}
			continue
		}
		seen[rec.CourseID] = len(next)
		next = append(next, rec.Clone())
	}
	s.records = next
	return errs
}

// Merge applies one authoritative record by course id: replace if present, insert
// at the front if absent. A record missing any lesson the cached one has completed
// is stale and ignored. It returns the record now cached for the course.
func (s *Store) Merge(rec model.Progress) (model.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeLocked(rec)
}

// MergeIf is Merge guarded by the session generation.
func (s *Store) MergeIf(gen uint64, rec model.Progress) (model.Progress, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return rec, false, nil
	}
	merged, err := s.mergeLocked(rec)
	return merged, err == nil, err
}

func (s *Store) mergeLocked(rec model.Progress) (model.Progress, error) {
	if err := Validate(rec); err != nil {
		return model.Progress{}, err
	}
	if i, ok := s.findLocked(rec.CourseID); ok {
		if !covers(rec, s.records[i]) {
			return s.records[i].Clone(), nil
		}
		s.records[i] = rec.Clone()
		return rec.Clone(), nil
	}
	s.records = append([]model.Progress{rec.Clone()}, s.records...)
	return rec.Clone(), nil
}

// covers reports whether next keeps every lesson completed in prev.
func covers(next, prev model.Progress) bool {
	if len(next.CompletedLessonIDs) < len(prev.CompletedLessonIDs) {
		return false
	}
	have := make(map[string]struct{}, len(next.CompletedLessonIDs))
	for _, id := range next.CompletedLessonIDs {
		have[id] = struct{}{}
	}
	for _, id := range prev.CompletedLessonIDs {
		if _, ok := have[id]; !ok {
			return false
		}
	}
	return true
}

// ensure caches a zero-state record for courseID when none exists.
func (s *Store) ensure(gen uint64, courseID string) (model.Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.findLocked(courseID); ok {
		return s.records[i].Clone(), true
	}
	zero := model.Progress{CourseID: courseID, Status: model.ProgressInProgress, CompletedLessonIDs: []string{}}
	if gen != s.gen {
		return zero, false
	}
	s.records = append([]model.Progress{zero}, s.records...)
	return zero.Clone(), true
}

func (s *Store) findLocked(courseID string) (int, bool) {
	for i := range s.records {
		if s.records[i].CourseID == courseID {
			return i, true
		}
	}
	return -1, false
}

func (s *Store) Get(courseID string) (model.Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.findLocked(courseID); ok {
		return s.records[i].Clone(), true
	}
	return model.Progress{}, false
}

// getIf is Get guarded by the session generation.
func (s *Store) getIf(gen uint64, courseID string) (model.Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return model.Progress{}, false
	}
	if i, ok := s.findLocked(courseID); ok {
		return s.records[i].Clone(), true
	}
	return model.Progress{}, false
}

// Completed reports whether lessonID is in the cached completed set of courseID.
func (s *Store) Completed(courseID, lessonID string) bool {
	rec, ok := s.Get(courseID)
	if !ok {
		return false
	}
	for _, id := range rec.CompletedLessonIDs {
		if id == lessonID {
			return true
		}
	}
	return false
}

// List is the cross-course view, in cache order.
func (s *Store) List() []model.Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Progress, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	return out
}

func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.gen++
}
