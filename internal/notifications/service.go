package notifications

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"ailearning/client/internal/metrics"
	"ailearning/client/internal/model"
)

var logger = loggo.GetLogger("ailearning.client.notifications")

// Backend is the slice of the REST API the service needs.
type Backend interface {
	ListNotifications(ctx context.Context) ([]model.Notification, error)
	MarkAllNotificationsRead(ctx context.Context) error
}

type Service struct {
	store   *Store
	backend Backend
	metrics *metrics.Metrics
}

func NewService(store *Store, backend Backend, m *metrics.Metrics) *Service {
	return &Service{store: store, backend: backend, metrics: m}
}

func (s *Service) Store() *Store { return s.store }

// Refresh reloads the snapshot. A snapshot that resolves after the session
// changed is discarded.
func (s *Service) Refresh(ctx context.Context) error {
	gen := s.store.Generation()
	records, err := s.backend.ListNotifications(ctx)
	if err != nil {
		return errors.Annotate(err, "loading notifications")
	}
	if !s.store.LoadSnapshotIf(gen, records) {
		logger.Debugf("discarding notification snapshot from an ended session")
	}
	return nil
}

// MarkAllRead is two-phase: the cache flips to read first, then the server is told.
// With nothing unread no call is made. A failed call leaves the cache read; the
// caller decides whether to Refresh.
func (s *Service) MarkAllRead(ctx context.Context) error {
	if s.store.UnreadCount() == 0 {
		s.metrics.MarkAllRead("skipped")
		return nil
	}
	s.store.MarkAllRead()
	if err := s.backend.MarkAllNotificationsRead(ctx); err != nil {
		s.metrics.MarkAllRead("failed")
		return errors.Annotate(err, "marking notifications read")
	}
	s.metrics.MarkAllRead("ok")
	return nil
}

// HandlePush decodes one pushed record and appends it. It is the channel handler.
func (s *Service) HandlePush(payload []byte) error {
	var r model.Notification
	if err := json.Unmarshal(payload, &r); err != nil {
		return errors.NotValidf("notification payload: %v", err)
	}
	if r.ID == 0 {
		return errors.NotValidf("notification payload without id")
	}
	if !s.store.Append(r) {
		logger.Debugf("notification %d already cached", r.ID)
	}
	return nil
}

// Bell models the notification dropdown. Opening it with unread records marks
// them read once; reopening with nothing unread does nothing.
type Bell struct {
	service *Service

	mu   sync.Mutex
	open bool
}

func NewBell(service *Service) *Bell {
	return &Bell{service: service}
}

// Toggle opens or closes the view and reports whether it is now open.
func (b *Bell) Toggle(ctx context.Context) (bool, error) {
	b.mu.Lock()
	b.open = !b.open
	opened := b.open
	b.mu.Unlock()
	if !opened {
		return false, nil
	}
	return true, b.service.MarkAllRead(ctx)
}

func (b *Bell) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.open
}

// Close shuts the view without marking anything.
func (b *Bell) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.open = false
}
