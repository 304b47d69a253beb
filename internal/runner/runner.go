package runner

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/saline-motors/truckwatch/internal/adapter"
	"github.com/saline-motors/truckwatch/internal/dedup"
	"github.com/saline-motors/truckwatch/internal/model"
	"github.com/saline-motors/truckwatch/internal/normalize"
	"github.com/saline-motors/truckwatch/internal/store"
)

// Options tune a single run.
type Options struct {
	// DryRun fetches and normalizes but never writes to the store.
	DryRun bool
}

// Runner drives a full scrape cycle: fetch from each adapter, normalize,
// merge into the store, then reconcile active/inactive per source.
type Runner struct {
	store    store.Store
	engine   *dedup.Engine
	adapters []adapter.Adapter
	log      *zap.Logger
}

func New(st store.Store, engine *dedup.Engine, adapters []adapter.Adapter) *Runner {
	return &Runner{
		store:    st,
		engine:   engine,
		adapters: adapters,
		log:      zap.L().Named("runner"),
	}
}

// sourceRun accumulates one adapter's contribution to a run.
type sourceRun struct {
	started time.Time
	stats   model.SourceStats
}

// Run executes every adapter in registration order. Adapter failures are
// recorded and do not stop the run; a listing that fails to merge is logged
// and skipped. An unreachable store aborts before any adapter fires.
//
// Inactivation waits until every source has merged, since a cross-source
// match is what keeps an entity alive when its own posting went quiet. It
// is also scoped to sources whose fetch succeeded: a failed source
// contributes no touched ids, and flipping its absent listings to inactive
// would be a false signal.
func (r *Runner) Run(ctx context.Context, opts Options) (*model.RunStats, error) {
	if err := r.store.Ping(ctx); err != nil {
		return nil, eris.Wrap(err, "runner: store unreachable")
	}

	stats := &model.RunStats{BySource: make(map[string]model.SourceStats)}
	rc := dedup.NewRunContext()
	runs := make(map[string]*sourceRun, len(r.adapters))

	for _, a := range r.adapters {
		runs[a.Name()] = r.runSource(ctx, rc, a, opts)
	}

	for _, a := range r.adapters {
		sr := runs[a.Name()]
		if !opts.DryRun && sr.stats.Error == "" {
			n, err := r.store.MarkInactive(ctx, a.Name(), rc.Touched())
			if err != nil {
				r.log.Warn("inactivation failed", zap.String("source", a.Name()), zap.Error(err))
			} else {
				sr.stats.Inactive = n
			}
		}
		r.record(ctx, a.Name(), sr, opts)

		stats.BySource[a.Name()] = sr.stats
		stats.Found += sr.stats.Found
		stats.New += sr.stats.New
		stats.Inactive += sr.stats.Inactive
	}

	r.log.Info("run complete",
		zap.Int("found", stats.Found),
		zap.Int("new", stats.New),
		zap.Int("inactive", stats.Inactive),
		zap.Bool("dry_run", opts.DryRun))

	return stats, nil
}

func (r *Runner) runSource(ctx context.Context, rc *dedup.RunContext, a adapter.Adapter, opts Options) *sourceRun {
	sr := &sourceRun{started: time.Now().UTC()}

	raws, err := a.Fetch(ctx)
	if err != nil {
		r.log.Warn("source fetch failed", zap.String("source", a.Name()), zap.Error(err))
		sr.stats.Error = err.Error()
		return sr
	}
	sr.stats.Found = len(raws)

	for _, raw := range raws {
		listing := normalize.Normalize(raw)
		if opts.DryRun {
			continue
		}
		isNew, id, err := r.engine.Upsert(ctx, rc, listing, time.Now().UTC())
		if err != nil {
			r.log.Warn("merge failed, skipping listing",
				zap.String("listing", listing.ID()),
				zap.Error(err))
			continue
		}
		if isNew {
			sr.stats.New++
			r.log.Debug("new listing", zap.String("id", id))
		}
	}

	return sr
}

func (r *Runner) record(ctx context.Context, source string, sr *sourceRun, opts Options) {
	if opts.DryRun {
		return
	}
	run := model.ScrapeRun{
		Source:   source,
		RunAt:    sr.started,
		Found:    sr.stats.Found,
		New:      sr.stats.New,
		Inactive: sr.stats.Inactive,
		Duration: time.Since(sr.started),
		Outcome:  model.RunSuccess,
	}
	if sr.stats.Error != "" {
		run.Outcome = model.RunFailed
		run.Error = sr.stats.Error
	}
	if err := r.store.RecordRun(ctx, run); err != nil {
		r.log.Warn("run log write failed", zap.String("source", source), zap.Error(err))
	}
}
