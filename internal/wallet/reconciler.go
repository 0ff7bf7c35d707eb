// Package wallet keeps the local balance in line with the server across inline
// mutation responses, explicit fetches and the payment redirect round-trip.
package wallet

import (
	"context"
	"sync"

	"github.com/juju/errors"
	"github.com/juju/loggo"

	"ailearning/client/internal/metrics"
)

var logger = loggo.GetLogger("ailearning.client.wallet")

// Source names where an authoritative balance came from.
type Source string

const (
	SourceInline  Source = "inline"
	SourceFetch   Source = "fetch"
	SourceLanding Source = "landing"
)

// BalanceFetcher reads the balance from the server.
type BalanceFetcher interface {
	GetBalance(ctx context.Context) (float64, error)
}

// Reconciler caches the balance. The value applied last wins; no ordering beyond
// that is imposed, so callers must not race a fetch against a pending inline update
// from the same action.
type Reconciler struct {
	fetcher BalanceFetcher
	metrics *metrics.Metrics

	mu      sync.Mutex
	balance float64
	known   bool
	gen     uint64
}

func NewReconciler(fetcher BalanceFetcher, m *metrics.Metrics) *Reconciler {
	return &Reconciler{fetcher: fetcher, metrics: m}
}

// Balance returns the cached value and whether one has been seen this session.
func (r *Reconciler) Balance() (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.balance, r.known
}

func (r *Reconciler) Generation() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gen
}

func (r *Reconciler) SetAuthoritative(source Source, value float64) error {
	_, err := r.setIf(r.Generation(), source, value)
	return err
}

func (r *Reconciler) setIf(gen uint64, source Source, value float64) (bool, error) {
	if value < 0 {
		return false, errors.NotValidf("negative balance %v from %s", value, source)
	}
	r.mu.Lock()
	if gen != r.gen {
		r.mu.Unlock()
		logger.Debugf("discarding %s balance from an ended session", source)
		return false, nil
	}
	r.balance = value
	r.known = true
	r.mu.Unlock()
	r.metrics.BalanceUpdated(string(source))
	return true, nil
}

// Fetch reads the balance from the server and applies it.
func (r *Reconciler) Fetch(ctx context.Context) (float64, error) {
	return r.fetch(ctx, SourceFetch)
}

func (r *Reconciler) fetch(ctx context.Context, source Source) (float64, error) {
	gen := r.Generation()
	value, err := r.fetcher.GetBalance(ctx)
	if err != nil {
		return 0, errors.Annotate(err, "fetching balance")
	}
	if _, err := r.setIf(gen, source, value); err != nil {
		return 0, errors.Trace(err)
	}
	return value, nil
}

// Reset forgets the balance and invalidates in-flight fetches.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balance = 0
	r.known = false
	r.gen++
}
