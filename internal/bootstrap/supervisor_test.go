package bootstrap

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"docbridge/pkg/logger"
)

// flakyInit fails until its fault is cleared.
type flakyInit struct {
	attempts atomic.Int32
	healthy  atomic.Bool
}

func (f *flakyInit) Init(ctx context.Context) error {
	f.attempts.Add(1)
	if !f.healthy.Load() {
		return errors.New("downstream unavailable")
	}
	return nil
}

func TestWatchSucceedsFirstTry(t *testing.T) {
	s := NewSupervisor(logger.Nop(), 10*time.Millisecond)
	svc := &flakyInit{}
	svc.healthy.Store(true)

	s.Watch(context.Background(), "ok", svc)
	require.Eventually(t, func() bool { return svc.attempts.Load() == 1 },
		time.Second, 5*time.Millisecond)

	// no further attempts after success
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, svc.attempts.Load())
}

func TestWatchRetriesUntilFaultClears(t *testing.T) {
	s := NewSupervisor(logger.Nop(), 10*time.Millisecond)
	svc := &flakyInit{}

	s.Watch(context.Background(), "flaky", svc)
	require.Eventually(t, func() bool { return svc.attempts.Load() >= 3 },
		time.Second, 5*time.Millisecond)

	svc.healthy.Store(true)
	time.Sleep(100 * time.Millisecond)
	n := svc.attempts.Load()
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, n, svc.attempts.Load(), "retries stop once init succeeds")
}

func TestWatchPacesOneAttemptPerInterval(t *testing.T) {
	interval := 50 * time.Millisecond
	s := NewSupervisor(logger.Nop(), interval)
	svc := &flakyInit{}

	start := time.Now()
	s.Watch(context.Background(), "paced", svc)
	time.Sleep(4 * interval)
	elapsed := time.Since(start)

	got := svc.attempts.Load()
	max := int32(elapsed/interval) + 2
	require.LessOrEqual(t, got, max, "no more than one attempt per interval")
	require.GreaterOrEqual(t, got, int32(2))
}

func TestWatchStopsOnCancel(t *testing.T) {
	s := NewSupervisor(logger.Nop(), 10*time.Millisecond)
	svc := &flakyInit{}

	ctx, cancel := context.WithCancel(context.Background())
	s.Watch(ctx, "cancelled", svc)
	require.Eventually(t, func() bool { return svc.attempts.Load() >= 1 },
		time.Second, 5*time.Millisecond)
	cancel()

	time.Sleep(50 * time.Millisecond)
	frozen := svc.attempts.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, frozen, svc.attempts.Load())
}

func TestOneFailingTenantDoesNotBlockOthers(t *testing.T) {
	s := NewSupervisor(logger.Nop(), 10*time.Millisecond)

	good1, good2, bad := &flakyInit{}, &flakyInit{}, &flakyInit{}
	good1.healthy.Store(true)
	good2.healthy.Store(true)

	s.Watch(context.Background(), "prime:alpha", good1)
	s.Watch(context.Background(), "prime:bravo", good2)
	s.Watch(context.Background(), "prime:broken", bad)

	require.Eventually(t, func() bool {
		return good1.attempts.Load() == 1 && good2.attempts.Load() == 1 && bad.attempts.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	// clearing the fault eventually recovers the broken tenant
	bad.healthy.Store(true)
	before := bad.attempts.Load()
	require.Eventually(t, func() bool { return bad.attempts.Load() > before },
		time.Second, 5*time.Millisecond)
}
