// kvnode runs a single storage node (spec.md 4.3): it listens on a TCP
// port and answers PUT/GET/DELETE/QUERY/CALC/STATS, one request per
// connection.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/jimsnab/go-kvmesh/kvnode"
	"github.com/jimsnab/go-lane"
	cli "gopkg.in/urfave/cli.v1"
)

var flags = []cli.Flag{
	cli.StringFlag{
		Name:  "host",
		Value: "0.0.0.0",
		Usage: "address to listen on",
	},
	cli.IntFlag{
		Name:  "port",
		Value: 9000,
		Usage: "port to listen on",
	},
}

func run(ctx *cli.Context) error {
	l := lane.NewLogLaneWithCR(context.Background())

	addr := net.JoinHostPort(ctx.String("host"), strconv.Itoa(ctx.Int("port")))
	srv := kvnode.NewServer(l)

	if err := srv.ListenAndServe(addr); err != nil {
		return fmt.Errorf("serve %s: %w", addr, err)
	}
	return nil
}

func main() {
	app := cli.App{
		Name:   "kvnode",
		Usage:  "distributed key-value store node",
		Flags:  flags,
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
