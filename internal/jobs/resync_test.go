package jobs

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/juju/errors"

	"ailearning/client/internal/config"
)

type countingResyncer struct {
	calls atomic.Int32
	fail  bool
	ticks chan struct{}
}

func (c *countingResyncer) Resync(ctx context.Context) error {
	c.calls.Add(1)
	c.ticks <- struct{}{}
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("expected a per-tick deadline")
	}
	if c.fail {
		return errors.New("backend down")
	}
	return nil
}

func TestResyncJobTicksUntilCancelled(t *testing.T) {
	clk := testclock.NewClock(time.Date(2026, 1, 25, 9, 0, 0, 0, time.UTC))
	target := &countingResyncer{fail: true, ticks: make(chan struct{}, 4)}
	ctx, cancel := context.WithCancel(context.Background())
	done := StartNotificationResyncJob(ctx, config.Config{ResyncInterval: time.Minute}, clk, target)

	for i := 0; i < 2; i++ {
		if err := clk.WaitAdvance(time.Minute, 5*time.Second, 1); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
		select {
		case <-target.ticks:
		case <-time.After(5 * time.Second):
			t.Fatalf("tick %d never ran", i)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("job did not stop")
	}
	if n := target.calls.Load(); n != 2 {
		t.Fatalf("expected two resyncs despite errors, got %d", n)
	}
}

func TestResyncJobDisabled(t *testing.T) {
	done := StartNotificationResyncJob(context.Background(), config.Config{}, nil, &countingResyncer{})
	select {
	case <-done:
	default:
		t.Fatalf("expected disabled job to report done immediately")
	}
}
