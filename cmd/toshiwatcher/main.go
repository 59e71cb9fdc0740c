package main

import (
	"log"
	"os"
	"time"

	"github.com/urfave/cli/v2"
)

// Version is set at build time via -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if err := newApp().Run(os.Args); err != nil {
		log.Fatalf("toshiwatcher: %v", err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "toshiwatcher",
		Usage:   "announce Raretoshi creations and sales on Nostr",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Value: "config.yml", Usage: "path to YAML config"},
		},
		DefaultCommand: "run",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "poll the marketplace and publish new activity",
				Flags: []cli.Flag{
					secretKeyFlag(),
					&cli.DurationFlag{Name: "interval", Usage: "poll interval (overrides config)"},
					&cli.BoolFlag{Name: "once", Usage: "run a single cycle then exit"},
					&cli.BoolFlag{Name: "dry-run", Usage: "render announcements without publishing or recording them"},
					&cli.BoolFlag{Name: "verbose", Value: true, Usage: "enable verbose logging"},
				},
				Action: runCmd,
			},
			{
				Name:  "ledger",
				Usage: "inspect or edit the announced-activity ledger",
				Subcommands: []*cli.Command{
					{Name: "list", Usage: "print recorded activity ids", Action: ledgerListCmd},
					{Name: "mark", Usage: "record ids as announced without publishing", ArgsUsage: "<id>...", Action: ledgerMarkCmd},
					{Name: "seed", Usage: "record the current batch as announced without publishing", Action: ledgerSeedCmd},
				},
			},
			{
				Name:   "pubkey",
				Usage:  "print the public key notes are published under",
				Flags:  []cli.Flag{secretKeyFlag()},
				Action: pubkeyCmd,
			},
		},
	}
}

func secretKeyFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "secret-key",
		EnvVars: []string{"SEC_K"},
		Usage:   "Nostr secret key, hex or nsec",
	}
}

const shutdownTimeout = 5 * time.Second
