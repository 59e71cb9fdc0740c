// Package pipeline drives the poll loop: fetch recent activity, drop what the
// ledger already holds, then render, publish and record each new event in
// source order. An event is only recorded after its note was accepted, so a
// failure anywhere leaves it to be retried on the next cycle.
package pipeline

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/rizzling/toshiwatcher/internal/config"
	"github.com/rizzling/toshiwatcher/internal/errlog"
	"github.com/rizzling/toshiwatcher/internal/metrics"
	"github.com/rizzling/toshiwatcher/internal/model"
	"github.com/rizzling/toshiwatcher/internal/publish"
	"github.com/rizzling/toshiwatcher/internal/render"
	"github.com/rizzling/toshiwatcher/internal/source"
	"github.com/rizzling/toshiwatcher/internal/store"
	"github.com/rizzling/toshiwatcher/internal/util"
)

type Options struct {
	Interval       time.Duration
	PublishTimeout time.Duration
	FetchPolicy    string // config.FetchFatal | config.FetchRetry
	MaxRetries     int
	Backoff        time.Duration
	MaxBackoff     time.Duration
	DryRun         bool
	Once           bool
	Verbose        bool
}

// OptionsFromConfig maps the poll and relay sections onto Options.
func OptionsFromConfig(c *config.Config) Options {
	return Options{
		Interval:       c.Poll.Interval,
		PublishTimeout: c.Relay.PublishTimeout,
		FetchPolicy:    c.Poll.FetchPolicy,
		MaxRetries:     c.Poll.MaxRetries,
		Backoff:        c.Poll.Backoff,
		MaxBackoff:     c.Poll.MaxBackoff,
		Verbose:        true,
	}
}

type Orchestrator struct {
	src      source.Source
	ledger   store.Ledger
	renderer render.Renderer
	pub      publish.Publisher
	metrics  *metrics.Metrics
	errs     *errlog.Logger
	opts     Options
}

// New wires the loop. The orchestrator is the only user of ledger from here
// on. m and errs may be nil.
func New(src source.Source, ledger store.Ledger, r render.Renderer, pub publish.Publisher, m *metrics.Metrics, errs *errlog.Logger, opts Options) *Orchestrator {
	if m == nil {
		m = metrics.New()
	}
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = 30 * time.Second
	}
	if opts.FetchPolicy == "" {
		opts.FetchPolicy = config.FetchFatal
	}
	m.LedgerSize.Set(float64(ledger.Len()))
	return &Orchestrator{src: src, ledger: ledger, renderer: r, pub: pub, metrics: m, errs: errs, opts: opts}
}

type CycleStats struct {
	Fetched   int
	Skipped   int
	Announced int
	Failed    int
}

// Run repeats cycles until ctx is done (returns nil) or, under the fatal
// fetch policy, a fetch fails (returns that error).
func (o *Orchestrator) Run(ctx context.Context) error {
	log.Printf("poll loop started: source=%s interval=%s policy=%s dry-run=%t",
		o.src.Name(), o.opts.Interval, o.opts.FetchPolicy, o.opts.DryRun)
	for {
		_, err := o.RunCycle(ctx)
		if ctx.Err() != nil {
			log.Printf("stopping: %v", ctx.Err())
			return nil
		}
		if err != nil && o.opts.FetchPolicy != config.FetchRetry {
			return err
		}
		if o.opts.Once {
			return nil
		}
		if err := util.Sleep(ctx, o.opts.Interval); err != nil {
			log.Printf("stopping: %v", err)
			return nil
		}
	}
}

// RunCycle performs one fetch and works through the batch. The returned
// error is the fetch error, if any; per-event failures are only counted.
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleStats, error) {
	start := time.Now()
	defer func() { o.metrics.CycleDuration.Observe(time.Since(start).Seconds()) }()

	var stats CycleStats
	evs, err := o.fetch(ctx)
	if err != nil {
		if ctx.Err() == nil {
			o.metrics.Failures.WithLabelValues(metrics.StageFetch).Inc()
			o.errs.Errorf("Error fetching recent activities: %v", err)
		}
		return stats, err
	}
	o.metrics.LastSuccess.Set(float64(time.Now().Unix()))
	o.metrics.EventsFetched.Add(float64(len(evs)))
	stats.Fetched = len(evs)

	for _, ev := range evs {
		if ctx.Err() != nil {
			break
		}
		if o.ledger.Contains(ev.ID) {
			stats.Skipped++
			o.metrics.EventsSkipped.Inc()
			if o.opts.Verbose {
				log.Printf("skipping already announced activity %s", ev.ID)
			}
			continue
		}
		if err := o.announce(ctx, ev); err != nil {
			stats.Failed++
			o.metrics.Failures.WithLabelValues(stageOf(err)).Inc()
			var pe *store.PersistError
			if errors.As(err, &pe) {
				o.errs.Errorf("Error recording activity %s after publishing, it will be announced again next cycle: %v", ev.ID, err)
			} else {
				o.errs.Errorf("Error processing activity %s: %v", ev.ID, err)
			}
			continue
		}
		if !o.opts.DryRun {
			stats.Announced++
			o.metrics.Announced.Inc()
		}
	}
	o.metrics.LedgerSize.Set(float64(o.ledger.Len()))

	if o.opts.Verbose {
		log.Printf("cycle finished in %s: fetched=%d skipped=%d announced=%d failed=%d",
			time.Since(start).Truncate(time.Millisecond), stats.Fetched, stats.Skipped, stats.Announced, stats.Failed)
	}
	return stats, nil
}

func (o *Orchestrator) fetch(ctx context.Context) ([]model.Event, error) {
	if o.opts.FetchPolicy != config.FetchRetry {
		return o.src.Fetch(ctx)
	}
	var evs []model.Event
	err := util.Retry(ctx, o.opts.MaxRetries, o.opts.Backoff, o.opts.MaxBackoff,
		func(attempt int, err error) {
			log.Printf("fetch %s attempt %d failed, retrying: %v", o.src.Name(), attempt, err)
		},
		func() error {
			var err error
			evs, err = o.src.Fetch(ctx)
			return err
		})
	return evs, err
}

// announce renders, publishes and records one event. The ledger is only
// touched after the relays accepted the note.
func (o *Orchestrator) announce(ctx context.Context, ev model.Event) error {
	ann, err := o.renderer.Render(ev)
	if err != nil {
		return err
	}
	if o.opts.DryRun {
		log.Printf("dry-run: would announce activity %s:\n%s", ev.ID, ann.Body())
		return nil
	}

	pctx, cancel := context.WithTimeout(ctx, o.opts.PublishTimeout)
	note, err := o.pub.Publish(pctx, ann.Body())
	cancel()
	if err != nil {
		return err
	}
	if err := o.ledger.RecordAndPersist(ev.ID); err != nil {
		return err
	}
	log.Printf("announced activity %s (%s) as note %s", ev.ID, ev.Kind, note.ID)
	return nil
}

func stageOf(err error) string {
	var (
		re *render.RenderError
		se *publish.SignError
		pe *store.PersistError
		ce *publish.ConnectError
	)
	switch {
	case errors.As(err, &re):
		return metrics.StageRender
	case errors.As(err, &se):
		return metrics.StageSign
	case errors.As(err, &pe):
		return metrics.StagePersist
	case errors.As(err, &ce):
		return metrics.StageConnect
	default:
		return metrics.StagePublish
	}
}
