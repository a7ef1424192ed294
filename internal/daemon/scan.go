package daemon

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/msageha/instsync/internal/model"
	"github.com/msageha/instsync/internal/uds"
)

// Scan creates tasks for every catalog mapping's running identities that no
// registered task covers yet. Mappings are handled concurrently, bounded by
// reconcile.workers. A failing mapping is logged and reported in the result
// without stopping the others.
func (d *Daemon) Scan(ctx context.Context) (uds.ScanResult, error) {
	mappings, err := d.catalog.ListInfraMappings(ctx)
	if err != nil {
		return uds.ScanResult{}, err
	}

	workers := d.config.Reconcile.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	var (
		mu  sync.Mutex
		res = uds.ScanResult{Mappings: len(mappings)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, m := range mappings {
		g.Go(func() error {
			ids, err := d.bootstrap(gctx, m)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				d.log(model.LogLevelWarn, "scan infra_mapping=%s kind=%s error=%v", m.ID, m.Kind, err)
				res.Failed = append(res.Failed, m.ID)
				return nil
			}
			res.Created += len(ids)
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(res.Failed)

	if res.Created > 0 || len(res.Failed) > 0 {
		d.log(model.LogLevelInfo, "scan mappings=%d created=%d failed=%d", res.Mappings, res.Created, len(res.Failed))
	}
	return res, ctx.Err()
}

// bootstrap collapses concurrent bootstrap runs for one mapping. A run
// shared between callers reports no ids to any of them.
func (d *Daemon) bootstrap(ctx context.Context, m model.InfrastructureMapping) ([]string, error) {
	ch := d.flight.DoChan("bootstrap:"+m.AccountID+"/"+m.ID, func() (any, error) {
		ids, ran, err := d.service.BootstrapMapping(ctx, m)
		if ran {
			d.log(model.LogLevelDebug, "bootstrap infra_mapping=%s created=%d", m.ID, len(ids))
		}
		return ids, err
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			return nil, nil
		}
		return r.Val.([]string), nil
	}
}
