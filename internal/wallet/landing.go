package wallet

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
)

// Navigator moves the user to an in-app path.
type Navigator interface {
	Navigate(path string)
}

type LandingStatus string

const (
	LandingSuccess LandingStatus = "success"
	LandingCancel  LandingStatus = "cancelled"
	LandingError   LandingStatus = "error"
)

type LandingResult struct {
	Status   LandingStatus
	Message  string
	Redirect string
	Delay    time.Duration
	// Balance is the value fetched from the server on success, nil otherwise.
	Balance *float64
}

// Landing handles the pages the payment processor sends the user back to.
type Landing struct {
	reconciler *Reconciler
	intents    *Intents
	navigator  Navigator
	clock      clock.Clock
	delay      time.Duration
}

func NewLanding(reconciler *Reconciler, intents *Intents, navigator Navigator, clk clock.Clock, delay time.Duration) *Landing {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Landing{
		reconciler: reconciler,
		intents:    intents,
		navigator:  navigator,
		clock:      clk,
		delay:      delay,
	}
}

// Success refreshes the balance from the server and sends the user back to where
// they were. Nothing carried on the callback URL is trusted.
func (l *Landing) Success(ctx context.Context) (LandingResult, error) {
	result := LandingResult{
		Status:  LandingSuccess,
		Message: "Top-up successful. Your wallet balance is being updated.",
		Delay:   l.delay,
	}
	balance, fetchErr := l.reconciler.fetch(ctx, SourceLanding)
	if fetchErr == nil {
		result.Balance = &balance
	} else {
		result.Status = LandingError
		result.Message = "Top-up received but the balance could not be refreshed."
	}
	result.Redirect = l.returnTo(ctx)
	return result, errors.Trace(fetchErr)
}

// Cancel only sends the user back.
func (l *Landing) Cancel(ctx context.Context) LandingResult {
	return LandingResult{
		Status:   LandingCancel,
		Message:  "The transaction was cancelled.",
		Delay:    l.delay,
		Redirect: l.returnTo(ctx),
	}
}

// returnTo consumes the intent right away, so a second visit to either page sees
// none, and schedules navigation after the delay.
func (l *Landing) returnTo(ctx context.Context) string {
	origin, err := l.intents.Consume(ctx)
	if err != nil {
		logger.Warningf("%v", err)
	}
	if l.navigator != nil {
		l.clock.AfterFunc(l.delay, func() { l.navigator.Navigate(origin) })
	}
	return origin
}
