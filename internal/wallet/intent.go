package wallet

import (
	"context"
	"strings"

	"github.com/juju/errors"

	"ailearning/client/internal/durable"
)

const (
	intentKey     = "pre_transaction_url"
	defaultOrigin = "/"
)

// Intents records where the user was before leaving for the payment page. The
// value lives in durable storage so it survives the process restarting.
type Intents struct {
	store durable.Store
}

func NewIntents(store durable.Store) *Intents {
	return &Intents{store: store}
}

// Save records origin. Only in-app paths are accepted.
func (i *Intents) Save(ctx context.Context, origin string) error {
	if !strings.HasPrefix(origin, "/") || strings.HasPrefix(origin, "//") {
		return errors.NotValidf("origin %q", origin)
	}
	return errors.Trace(i.store.Set(ctx, intentKey, origin))
}

// Consume reads and clears the saved origin in one step. With nothing saved it
// returns "/".
func (i *Intents) Consume(ctx context.Context) (string, error) {
	origin, ok, err := i.store.Take(ctx, intentKey)
	if err != nil {
		return defaultOrigin, errors.Annotate(err, "consuming redirect intent")
	}
	if !ok || origin == "" {
		return defaultOrigin, nil
	}
	return origin, nil
}
