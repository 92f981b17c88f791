// Command moviecache serves the film title -> characters mapping over HTTP
// and offers one-shot get/invalidate commands against the shared cache.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "moviecache:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "moviecache",
		Usage: "cached Ghibli films with their characters",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to YAML config; defaults apply when empty",
				EnvVars: []string{"MOVIECACHE_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			getCommand(),
			invalidateCommand(),
		},
	}
}

func getCommand() *cli.Command {
	return &cli.Command{
		Name:  "get",
		Usage: "print the mapping as JSON, populating the cache on a miss",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "refresh", Usage: "recompute even if the entry is warm"},
		},
		Action: func(c *cli.Context) error {
			a, err := open(c.String("config"))
			if err != nil {
				return err
			}
			defer a.Close()

			get := a.cache.MoviesWithPeople
			if c.Bool("refresh") {
				get = a.cache.Refresh
			}
			res, err := get(c.Context)
			if err != nil {
				return err
			}
			b, err := encodeResult(res)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.App.Writer, string(b))
			return err
		},
	}
}

func invalidateCommand() *cli.Command {
	return &cli.Command{
		Name:  "invalidate",
		Usage: "drop the cached entry so the next read recomputes",
		Action: func(c *cli.Context) error {
			a, err := open(c.String("config"))
			if err != nil {
				return err
			}
			defer a.Close()
			return a.cache.Invalidate(c.Context)
		},
	}
}
