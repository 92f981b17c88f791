package main

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/moviecache"
	"github.com/unkn0wn-root/moviecache/aggregate"
)

const shutdownTimeout = 10 * time.Second

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve GET /movies, /healthz and /metrics",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "listen address; overrides server.addr"},
		},
		Action: func(c *cli.Context) error {
			a, err := open(c.String("config"))
			if err != nil {
				return err
			}
			defer a.Close()

			addr := a.cfg.Server.Addr
			if v := c.String("addr"); v != "" {
				addr = v
			}
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			return a.serve(c.Context, ln)
		},
	}
}

// encodeResult renders the mapping with sorted keys.
func encodeResult(res aggregate.Result) ([]byte, error) {
	if res == nil {
		res = aggregate.Result{}
	}
	return sonic.ConfigStd.Marshal(res)
}

func (a *app) handler() fasthttp.RequestHandler {
	metrics := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	return func(ctx *fasthttp.RequestCtx) {
		if !ctx.IsGet() && !ctx.IsHead() {
			ctx.Error(fasthttp.StatusMessage(fasthttp.StatusMethodNotAllowed), fasthttp.StatusMethodNotAllowed)
			return
		}
		switch string(ctx.Path()) {
		case "/movies":
			a.handleMovies(ctx)
		case "/healthz":
			ctx.SetContentType("text/plain; charset=utf-8")
			ctx.SetBodyString("ok")
		case "/metrics":
			metrics(ctx)
		default:
			ctx.Error(fasthttp.StatusMessage(fasthttp.StatusNotFound), fasthttp.StatusNotFound)
		}
	}
}

func (a *app) handleMovies(ctx *fasthttp.RequestCtx) {
	// RequestCtx is a context.Context that is done when the server shuts down
	res, err := a.cache.MoviesWithPeople(ctx)
	if err != nil {
		a.log.Error("movies request failed", moviecache.Fields{"err": err})
		var se *moviecache.SerializationError
		if errors.As(err, &se) {
			ctx.Error("result not serializable", fasthttp.StatusInternalServerError)
			return
		}
		ctx.Error(fasthttp.StatusMessage(fasthttp.StatusServiceUnavailable), fasthttp.StatusServiceUnavailable)
		return
	}
	b, err := encodeResult(res)
	if err != nil {
		ctx.Error("result not serializable", fasthttp.StatusInternalServerError)
		return
	}
	ctx.SetContentType("application/json")
	ctx.SetBody(b)
}

// serve runs the HTTP server and the optional warmer until ctx is done.
func (a *app) serve(ctx context.Context, ln net.Listener) error {
	srv := &fasthttp.Server{
		Handler:         a.handler(),
		Name:            "moviecache",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		CloseOnShutdown: true,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("http server started", moviecache.Fields{"addr": ln.Addr().String()})
		return srv.Serve(ln)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.ShutdownWithContext(sctx)
	})

	if spec := a.cfg.Server.WarmSchedule; spec != "" {
		w, err := a.newWarmer(spec)
		if err != nil {
			return err
		}
		w.Start()
		g.Go(func() error {
			<-gctx.Done()
			<-w.Stop().Done()
			return nil
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// newWarmer schedules Refresh so readers rarely see a cold entry. A lock
// timeout means another replica is already refreshing.
func (a *app) newWarmer(spec string) (*cron.Cron, error) {
	c := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*a.cfg.Upstream.Timeout)
		defer cancel()
		_, err := a.cache.Refresh(ctx)
		switch {
		case err == nil:
		case errors.Is(err, moviecache.ErrLockTimeout):
			a.log.Debug("warm skipped; refresh in progress elsewhere", nil)
		default:
			a.log.Warn("warm failed", moviecache.Fields{"err": err})
		}
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}
