package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/rizzling/toshiwatcher/internal/config"
	"github.com/rizzling/toshiwatcher/internal/errlog"
	"github.com/rizzling/toshiwatcher/internal/metrics"
	"github.com/rizzling/toshiwatcher/internal/pipeline"
	"github.com/rizzling/toshiwatcher/internal/publish"
	"github.com/rizzling/toshiwatcher/internal/render"
	"github.com/rizzling/toshiwatcher/internal/source"
	"github.com/rizzling/toshiwatcher/internal/store"
)

func runCmd(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.IsSet("interval") {
		cfg.Poll.Interval = c.Duration("interval")
	}
	dryRun := c.Bool("dry-run")
	log.Printf("toshiwatcher %s starting...", Version)

	errs, err := errlog.Open(cfg.ErrorLog)
	if err != nil {
		return err
	}
	defer errs.Close()

	var pub publish.Publisher
	if !dryRun {
		n, err := publish.NewNostr(cfg.Relay, c.String("secret-key"))
		if err != nil {
			return fmt.Errorf("init publisher: %w", err)
		}
		log.Printf("publishing as %s to %d relay(s), min acks %d", n.NPub(), len(cfg.Relay.URLs), cfg.Relay.MinAcks)
		pub = n
	}

	ledger, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer ledger.Close()
	log.Printf("ledger %s (%s): %d activity id(s) already announced", cfg.Store.Path, cfg.Store.Type, ledger.Len())

	m := metrics.New()
	if addr := cfg.Metrics.ListenAddress; addr != "" {
		srv := m.NewServer(addr)
		go func() {
			log.Printf("serving /metrics on %s", addr)
			if err := srv.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("metrics server: %v", err)
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	opts := pipeline.OptionsFromConfig(cfg)
	opts.Once = c.Bool("once")
	opts.DryRun = dryRun
	opts.Verbose = c.Bool("verbose")

	r := render.Renderer{MediaBaseURL: cfg.Render.MediaBaseURL, LinkBase: cfg.Render.LinkBase}
	o := pipeline.New(source.NewRaretoshi(cfg.Source), ledger, r, pub, m, errs, opts)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if err := o.Run(ctx); err != nil {
		errs.Errorf("Bot error: %v", err)
		return err
	}
	if opts.Verbose {
		log.Printf("final metrics:\n%s", m.Dump())
	}
	return nil
}

func openLedger(c *cli.Context) (store.Ledger, *config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	l, err := store.Open(cfg.Store)
	if err != nil {
		return nil, nil, fmt.Errorf("open ledger: %w", err)
	}
	return l, cfg, nil
}

func ledgerListCmd(c *cli.Context) error {
	l, _, err := openLedger(c)
	if err != nil {
		return err
	}
	defer l.Close()
	for _, id := range l.IDs() {
		fmt.Fprintln(c.App.Writer, id)
	}
	return nil
}

func ledgerMarkCmd(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("ledger mark: need at least one id")
	}
	l, _, err := openLedger(c)
	if err != nil {
		return err
	}
	defer l.Close()
	return markAll(l, c.Args().Slice())
}

// ledgerSeedCmd records whatever the source currently returns, so a fresh
// deployment does not announce a backlog.
func ledgerSeedCmd(c *cli.Context) error {
	l, cfg, err := openLedger(c)
	if err != nil {
		return err
	}
	defer l.Close()

	evs, err := source.NewRaretoshi(cfg.Source).Fetch(c.Context)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(evs))
	for _, ev := range evs {
		ids = append(ids, ev.ID)
	}
	return markAll(l, ids)
}

func markAll(l store.Ledger, ids []string) error {
	added := 0
	for _, id := range ids {
		if l.Contains(id) {
			continue
		}
		if err := l.RecordAndPersist(id); err != nil {
			return err
		}
		added++
	}
	log.Printf("ledger: recorded %d new id(s), %d total", added, l.Len())
	return nil
}

func pubkeyCmd(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	n, err := publish.NewNostr(cfg.Relay, c.String("secret-key"))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, n.PublicKey())
	fmt.Fprintln(c.App.Writer, n.NPub())
	return nil
}
