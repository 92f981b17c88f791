// Package ghibli fetches films and people from the Studio Ghibli API over fasthttp.
package ghibli

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valyala/fasthttp"

	"github.com/unkn0wn-root/moviecache/aggregate"
	"github.com/unkn0wn-root/moviecache/fetcher"
)

const (
	DefaultBaseURL    = "https://ghibliapi.herokuapp.com"
	DefaultFilmsPath  = "/films"
	DefaultPeoplePath = "/people"
	DefaultTimeout    = 10 * time.Second
)

var errStatus = errors.New("non-success status")

type Config struct {
	BaseURL    string        // "" => DefaultBaseURL
	FilmsPath  string        // "" => /films
	PeoplePath string        // "" => /people
	Timeout    time.Duration // per request when ctx has no deadline; 0 => 10s

	// Client is optional; set it to share a fasthttp client or tune dialing.
	Client *fasthttp.Client
}

type Client struct {
	http      *fasthttp.Client
	filmsURL  string
	peopleURL string
	timeout   time.Duration
}

var _ fetcher.Fetcher = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.FilmsPath == "" {
		cfg.FilmsPath = DefaultFilmsPath
	}
	if cfg.PeoplePath == "" {
		cfg.PeoplePath = DefaultPeoplePath
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	hc := cfg.Client
	if hc == nil {
		hc = &fasthttp.Client{
			ReadTimeout:  cfg.Timeout,
			WriteTimeout: cfg.Timeout,
		}
	}
	return &Client{
		http:      hc,
		filmsURL:  cfg.BaseURL + cfg.FilmsPath,
		peopleURL: cfg.BaseURL + cfg.PeoplePath,
		timeout:   cfg.Timeout,
	}
}

func (c *Client) FetchFilms(ctx context.Context) ([]aggregate.Film, error) {
	var films []aggregate.Film
	if err := c.getJSON(ctx, "films", c.filmsURL, &films); err != nil {
		return nil, err
	}
	return films, nil
}

func (c *Client) FetchPeople(ctx context.Context) ([]aggregate.Person, error) {
	var people []aggregate.Person
	if err := c.getJSON(ctx, "people", c.peopleURL, &people); err != nil {
		return nil, err
	}
	return people, nil
}

func (c *Client) getJSON(ctx context.Context, op, url string, out any) error {
	if err := ctx.Err(); err != nil {
		return &fetcher.UpstreamError{Op: op, URL: url, Err: err}
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set(fasthttp.HeaderAccept, "application/json")

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.http.DoDeadline(req, resp, deadline); err != nil {
		return &fetcher.UpstreamError{Op: op, URL: url, Err: err}
	}

	status := resp.StatusCode()
	if status != fasthttp.StatusOK {
		return &fetcher.UpstreamError{Op: op, URL: url, StatusCode: status, Err: errStatus}
	}
	// ConfigStd copies strings, so out stays valid after resp is released.
	if err := sonic.ConfigStd.Unmarshal(resp.Body(), out); err != nil {
		return &fetcher.UpstreamError{Op: op, URL: url, StatusCode: status, Err: err}
	}
	return nil
}
