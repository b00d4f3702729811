// Package bootstrap brings every tenant's sessions up at process start and
// keeps retrying failed initializations in the background.
package bootstrap

import (
	"context"
	"time"

	"go.uber.org/zap"

	"docbridge/internal/netdocs"
	"docbridge/internal/prime"
	"docbridge/pkg/tenants"
)

// Initializer is a session that can bring itself up. Init failures are not
// fatal; the supervisor retries them.
type Initializer interface {
	Init(ctx context.Context) error
}

// Supervisor retries session initialization at a fixed interval, forever.
// There is deliberately no backoff growth and no attempt cap: a broken tenant
// keeps retrying until its fault clears or the process stops.
type Supervisor struct {
	log      *zap.SugaredLogger
	interval time.Duration
}

func NewSupervisor(log *zap.SugaredLogger, interval time.Duration) *Supervisor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Supervisor{log: log, interval: interval}
}

// Watch initializes svc in a background goroutine, retrying until it
// succeeds or ctx is cancelled. Returns immediately.
func (s *Supervisor) Watch(ctx context.Context, name string, svc Initializer) {
	go func() {
		for {
			err := svc.Init(ctx)
			if err == nil {
				s.log.Infow("service initialised", "service", name)
				return
			}
			s.log.Warnw("service failed to initialise",
				"service", name, "err", err, "retry_in", s.interval)
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.interval):
			}
		}
	}()
}

// StartAll creates both sessions for every configured tenant and watches
// their initialization. Tenants initialize concurrently and independently;
// a permanently broken tenant never blocks the others or process startup.
func (s *Supervisor) StartAll(ctx context.Context, store tenants.Store, pm *prime.Manager, nm *netdocs.Manager) error {
	list, err := store.List(ctx)
	if err != nil {
		return err
	}
	for _, tc := range list {
		alias := tc.Alias()
		ps, err := pm.GetOrCreate(tc.Prime)
		if err != nil {
			s.log.Warnw("skipping tenant", "tenant", alias, "err", err)
			continue
		}
		ns, err := nm.GetOrCreate(alias, tc.NetDocs)
		if err != nil {
			s.log.Warnw("skipping tenant", "tenant", alias, "err", err)
			continue
		}
		s.Watch(ctx, "prime:"+alias, ps)
		s.Watch(ctx, "netdocs:"+alias, ns)
	}
	return nil
}
