package progress

import (
	"context"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"ailearning/client/internal/model"
)

var logger = loggo.GetLogger("ailearning.client.progress")

type Backend interface {
	ListProgress(ctx context.Context) ([]model.Progress, error)
	GetProgress(ctx context.Context, courseID string) (*model.Progress, error)
	CompleteLesson(ctx context.Context, courseID, lessonID string) (model.Progress, error)
}

type Service struct {
	store   *Store
	backend Backend
}

func NewService(store *Store, backend Backend) *Service {
	return &Service{store: store, backend: backend}
}

func (s *Service) Store() *Store { return s.store }

// FetchAll replaces the cache with the server list and returns the cached view.
func (s *Service) FetchAll(ctx context.Context) ([]model.Progress, error) {
	gen := s.store.Generation()
	records, err := s.backend.ListProgress(ctx)
	if err != nil {
		return nil, errors.Annotate(err, "loading progress")
	}
	applied, invalid := s.store.ReplaceAllIf(gen, records)
	for _, err := range invalid {
		logger.Warningf("skipping progress record: %v", err)
	}
	if !applied {
		logger.Debugf("discarding progress list from an ended session")
	}
	return s.store.List(), nil
}

// FetchOne returns the record for courseID. When the server has none a
// zero-state record is cached and returned.
func (s *Service) FetchOne(ctx context.Context, courseID string) (model.Progress, error) {
	if courseID == "" {
		return model.Progress{}, errors.NotValidf("empty course id")
	}
	return s.fetchOne(ctx, s.store.Generation(), courseID)
}

func (s *Service) fetchOne(ctx context.Context, gen uint64, courseID string) (model.Progress, error) {
	rec, err := s.backend.GetProgress(ctx, courseID)
	if err != nil {
		return model.Progress{}, errors.Annotatef(err, "loading progress for %s", courseID)
	}
	if rec == nil {
		zero, _ := s.store.ensure(gen, courseID)
		return zero, nil
	}
	if rec.CourseID == "" {
		rec.CourseID = courseID
	}
	merged, _, err := s.store.MergeIf(gen, *rec)
	if err != nil {
		return model.Progress{}, errors.Trace(err)
	}
	return merged, nil
}

// CompleteLesson sends the completion and merges the record the server returns.
// Nothing is counted locally. Completing an already completed lesson is a no-op
// success, including when the server answers 409.
func (s *Service) CompleteLesson(ctx context.Context, courseID, lessonID string) (model.Progress, error) {
	if courseID == "" || lessonID == "" {
		return model.Progress{}, errors.NotValidf("course %q lesson %q", courseID, lessonID)
	}
	gen := s.store.Generation()
	rec, err := s.backend.CompleteLesson(ctx, courseID, lessonID)
	if errors.Is(err, errors.AlreadyExists) {
		if cached, ok := s.store.getIf(gen, courseID); ok {
			return cached, nil
		}
		return s.fetchOne(ctx, gen, courseID)
	}
	if err != nil {
		return model.Progress{}, errors.Annotatef(err, "completing %s/%s", courseID, lessonID)
	}
	if rec.CourseID == "" {
		rec.CourseID = courseID
	}
	merged, _, err := s.store.MergeIf(gen, rec)
	if err != nil {
		return model.Progress{}, errors.Trace(err)
	}
	return merged, nil
}
