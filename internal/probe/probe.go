// Package probe measures the reachability and latency of DoH resolvers by
// sending each one a live test query.
package probe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/TheCjw/DoHVerifier/internal/geo"
	"github.com/TheCjw/DoHVerifier/pkg/dj"
	"github.com/TheCjw/DoHVerifier/pkg/doh"
	"github.com/TheCjw/DoHVerifier/pkg/stamp"
)

var (
	// ErrTimeout is returned by Probe when the resolver did not answer in time.
	// ProbeAll records it as StatusTimeout instead of dropping the resolver.
	ErrTimeout = errors.New("probe: timeout")

	// ErrNoIPv4Answer is returned when the answer has no A record.
	ErrNoIPv4Answer = errors.New("probe: no A record in answer")
)

// Mode selects the query format sent to resolvers.
type Mode string

const (
	// ModeJSON uses the DoH JSON API (GET ?name=...).
	ModeJSON Mode = "json"
	// ModeWire uses RFC 8484 DNS messages (GET ?dns=...).
	ModeWire Mode = "wire"
)

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeJSON, ModeWire:
		return m, nil
	default:
		return "", fmt.Errorf("invalid probe mode %q, must be %q or %q", s, ModeJSON, ModeWire)
	}
}

// Status is the outcome of a probe that produced a Result.
type Status int

const (
	StatusOK Status = iota
	StatusTimeout
)

// Result is a probed resolver.
type Result struct {
	*stamp.Entry

	Status          Status
	Latency         time.Duration
	ResolvedIP      string // first A record of the answer, empty on timeout
	ResolvedCountry string // ISO country code of ResolvedIP, empty if unknown
}

// LatencyMillis returns the latency in whole milliseconds.
func (r *Result) LatencyMillis() int64 { return r.Latency.Milliseconds() }

// LatencyString returns the latency in milliseconds, or "timeout".
func (r *Result) LatencyString() string {
	if r.Status == StatusTimeout {
		return "timeout"
	}
	return strconv.FormatInt(r.LatencyMillis(), 10)
}

// Engine probes resolvers concurrently.
type Engine struct {
	Client    *http.Client
	Countries geo.Lookup
	Mode      Mode
	Workers   int // defaults to GOMAXPROCS
	Logger    *slog.Logger
}

// ProbeAll probes every entry and returns the results in completion order.
//
// Each probe is bounded by timeout. Resolvers that time out are reported with
// StatusTimeout; resolvers failing any other way are left out of the results.
// ProbeAll returns once every probe has finished.
func (e *Engine) ProbeAll(ctx context.Context, entries []*stamp.Entry, queryName string, timeout time.Duration) []*Result {
	logger := e.logger()

	results := make(chan *Result, len(entries))

	var eg errgroup.Group
	eg.SetLimit(e.workers())

	for _, entry := range entries {
		entry := entry
		eg.Go(func() error {
			res, err := e.Probe(ctx, entry, queryName, timeout)
			switch {
			case errors.Is(err, ErrTimeout):
				logger.Debug("resolver timed out", "name", entry.Name, "url", entry.URL)
				results <- &Result{Entry: entry, Status: StatusTimeout}
			case err != nil:
				logger.Debug("dropping resolver", "name", entry.Name, "url", entry.URL, "error", err)
			default:
				logger.Debug("resolver answered", "name", entry.Name, "latency", res.Latency, "ip", res.ResolvedIP)
				results <- res
			}
			return nil
		})
	}

	eg.Wait()
	close(results)

	out := make([]*Result, 0, len(entries))
	for res := range results {
		out = append(out, res)
	}
	return out
}

// Probe sends a single test query for queryName to entry.URL.
func (e *Engine) Probe(ctx context.Context, entry *stamp.Entry, queryName string, timeout time.Duration) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := &dj.Request{Name: queryName}

	var (
		resp *dj.Response
		err  error
	)

	start := time.Now()
	switch e.Mode {
	case ModeWire:
		resp, err = doh.SimpleQuery(ctx, e.client(), entry.URL, req)
	default:
		resp, err = dj.Query(ctx, e.client(), entry.URL, req)
	}
	elapsed := time.Since(start)

	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return nil, err
	}

	ip, ok := resp.FirstA()
	if !ok {
		return nil, ErrNoIPv4Answer
	}

	res := &Result{
		Entry:      entry,
		Status:     StatusOK,
		Latency:    elapsed,
		ResolvedIP: ip,
	}

	if country, ok := e.countries().Country(ip); ok {
		res.ResolvedCountry = country
	}

	return res, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (e *Engine) client() *http.Client {
	if e.Client == nil {
		return http.DefaultClient
	}
	return e.Client
}

func (e *Engine) countries() geo.Lookup {
	if e.Countries == nil {
		return geo.Nop{}
	}
	return e.Countries
}

func (e *Engine) workers() int {
	if e.Workers <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return e.Workers
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}
