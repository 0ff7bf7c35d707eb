package wallet

import (
	"context"

	"github.com/juju/errors"

	"ailearning/client/internal/model"
)

type Backend interface {
	BalanceFetcher
	TopUp(ctx context.Context, amount float64) (model.TopUpResult, error)
	Purchase(ctx context.Context, courseID string) (model.PurchaseResult, error)
}

// Service runs the wallet mutations and feeds their results to the reconciler.
type Service struct {
	backend    Backend
	reconciler *Reconciler
	intents    *Intents
}

func NewService(backend Backend, reconciler *Reconciler, intents *Intents) *Service {
	return &Service{backend: backend, reconciler: reconciler, intents: intents}
}

func (s *Service) Reconciler() *Reconciler { return s.reconciler }

// TopUp starts a top-up of amount. An inline balance is applied at once. A
// redirect URL is returned only after origin is durably saved, so the landing
// page can bring the user back.
func (s *Service) TopUp(ctx context.Context, amount float64, origin string) (model.TopUpResult, error) {
	if amount <= 0 {
		return model.TopUpResult{}, errors.NotValidf("top-up amount %v", amount)
	}
	gen := s.reconciler.Generation()
	res, err := s.backend.TopUp(ctx, amount)
	if err != nil {
		return model.TopUpResult{}, errors.Annotate(err, "top-up")
	}
	if res.Balance != nil {
		if _, err := s.reconciler.setIf(gen, SourceInline, *res.Balance); err != nil {
			return model.TopUpResult{}, errors.Trace(err)
		}
		return res, nil
	}
	if origin == "" {
		origin = defaultOrigin
	}
	if err := s.intents.Save(ctx, origin); err != nil {
		return model.TopUpResult{}, errors.Annotate(err, "saving redirect intent")
	}
	logger.Infof("top-up of %v continues at the payment page", amount)
	return res, nil
}

// Purchase buys courseID. When the response carries no balance it is fetched.
func (s *Service) Purchase(ctx context.Context, courseID string) (model.PurchaseResult, error) {
	if courseID == "" {
		return model.PurchaseResult{}, errors.NotValidf("empty course id")
	}
	gen := s.reconciler.Generation()
	res, err := s.backend.Purchase(ctx, courseID)
	if err != nil {
		return model.PurchaseResult{}, errors.Annotatef(err, "purchasing %s", courseID)
	}
	if res.Balance != nil {
		if _, err := s.reconciler.setIf(gen, SourceInline, *res.Balance); err != nil {
			return model.PurchaseResult{}, errors.Trace(err)
		}
		return res, nil
	}
	balance, err := s.reconciler.Fetch(ctx)
	if err != nil {
		// The purchase went through; only the refresh failed.
		logger.Warningf("refreshing balance after purchase: %v", err)
		return res, nil
	}
	res.Balance = &balance
	return res, nil
}
