// kvgen fabricates a randomized bulk data file from a key-type declaration
// file (SPEC_FULL.md 5), for feeding into kvbroker's -data flag or load
// testing.
package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/jimsnab/go-kvmesh/kvgen"
	"github.com/spf13/afero"
	cli "gopkg.in/urfave/cli.v1"
)

var flags = []cli.Flag{
	cli.StringFlag{
		Name:  "keys",
		Usage: "path to the key-type file (\"NAME TYPE\" per line, TYPE in string/int/float)",
	},
	cli.StringFlag{
		Name:  "out",
		Value: "data.txt",
		Usage: "output bulk data file path",
	},
	cli.IntFlag{
		Name:  "count",
		Value: 100,
		Usage: "number of records to generate",
	},
	cli.IntFlag{
		Name:  "max-depth",
		Value: 3,
		Usage: "maximum nesting depth of a generated record",
	},
	cli.IntFlag{
		Name:  "max-length",
		Value: 8,
		Usage: "maximum length of a generated string value",
	},
	cli.IntFlag{
		Name:  "max-keys",
		Value: 4,
		Usage: "maximum number of members per generated object",
	},
}

func run(ctx *cli.Context) error {
	fs := afero.NewOsFs()

	keyFile := ctx.String("keys")
	if keyFile == "" {
		return fmt.Errorf("-keys is required")
	}

	keys, err := kvgen.LoadKeyFile(fs, keyFile)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	records := kvgen.GenerateRecords(ctx.Int("count"), keys, ctx.Int("max-depth"), ctx.Int("max-length"), ctx.Int("max-keys"), rng)

	if err := kvgen.WriteRecords(fs, ctx.String("out"), records); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "wrote %d record(s) to %s\n", len(records), ctx.String("out"))
	return nil
}

func main() {
	app := cli.App{
		Name:   "kvgen",
		Usage:  "generate randomized bulk data for the key-value store",
		Flags:  flags,
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
