// kvbroker runs the replication/query/delete coordinator (spec.md 4.4): it
// loads a server list, optionally preloads bulk data, then drives a
// GET/QUERY/DELETE/CALC/STATS command loop over stdin/stdout.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/jimsnab/go-kvmesh/kvbroker"
	"github.com/jimsnab/go-lane"
	"github.com/spf13/afero"
	"golang.org/x/term"
	cli "gopkg.in/urfave/cli.v1"
)

var flags = []cli.Flag{
	cli.StringFlag{
		Name:  "servers",
		Usage: "path to the server list file (one \"HOST PORT\" per line)",
	},
	cli.IntFlag{
		Name:  "k",
		Value: 2,
		Usage: "replication factor",
	},
	cli.StringFlag{
		Name:  "data",
		Usage: "optional bulk data file to PUT on startup",
	},
	cli.StringFlag{
		Name:  "probe",
		Value: "connect",
		Usage: "liveness check used by refreshActive: connect or stats",
	},
}

func run(ctx *cli.Context) error {
	l := lane.NewLogLaneWithCR(context.Background())
	fs := afero.NewOsFs()

	serverFile := ctx.String("servers")
	if serverFile == "" {
		return fmt.Errorf("-servers is required")
	}

	servers, err := kvbroker.LoadServerList(fs, serverFile)
	if err != nil {
		return err
	}

	probeMode, err := kvbroker.ParseProbeMode(ctx.String("probe"))
	if err != nil {
		return fmt.Errorf("-probe: %w", err)
	}

	b, err := kvbroker.New(l, servers, ctx.Int("k"), rand.New(rand.NewSource(time.Now().UnixNano())), probeMode)
	if err != nil {
		return err
	}

	if dataFile := ctx.String("data"); dataFile != "" {
		lines, successes, err := b.LoadBulkData(fs, dataFile)
		if err != nil {
			return fmt.Errorf("load bulk data: %w", err)
		}
		l.Infof("loaded %d line(s) from %s, %d replica write(s) total", lines, dataFile, successes)
	}

	showPrompt := term.IsTerminal(int(os.Stdin.Fd()))
	return b.RunRepl(os.Stdin, os.Stdout, showPrompt)
}

func main() {
	app := cli.App{
		Name:   "kvbroker",
		Usage:  "distributed key-value store broker",
		Flags:  flags,
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
