// Package httpclient builds the HTTP clients used to probe resolvers.
package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// Options configures New.
type Options struct {
	// ResolverAddr, when set, is the address:port of the DNS server used to
	// resolve resolver hostnames, instead of the system resolver.
	ResolverAddr string
	// ResolverNetwork is the transport used to reach ResolverAddr (udp/tcp).
	ResolverNetwork string
	// MaxIdleConnsPerHost bounds idle connections kept per resolver host. It
	// is set to the worker count so concurrent queries can reuse connections.
	MaxIdleConnsPerHost int
}

// New returns a pooled HTTP client. The client has no overall timeout; each
// probe bounds itself with a context deadline.
func New(opts Options) (*http.Client, error) {
	transport := cleanhttp.DefaultPooledTransport()

	if opts.MaxIdleConnsPerHost > 0 {
		transport.MaxIdleConnsPerHost = opts.MaxIdleConnsPerHost
	}

	if opts.ResolverAddr != "" {
		resolver, err := customResolver(opts.ResolverNetwork, opts.ResolverAddr)
		if err != nil {
			return nil, err
		}

		dialer := &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
			Resolver:  resolver,
		}
		transport.DialContext = dialer.DialContext
	}

	return &http.Client{Transport: transport}, nil
}

// customResolver returns a resolver that sends its queries to address.
func customResolver(network, address string) (*net.Resolver, error) {
	if runtime.GOOS == "windows" {
		return nil, fmt.Errorf("custom resolver is not supported on windows: https://golang.org/pkg/net/#hdr-Name_Resolution")
	}

	switch network {
	case "":
		network = "udp"
	case "udp", "tcp":
	default:
		return nil, fmt.Errorf("invalid resolver network %q, must be udp or tcp", network)
	}

	if _, _, err := net.SplitHostPort(address); err != nil {
		return nil, fmt.Errorf("invalid resolver address %q: %w", address, err)
	}

	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, _, _ string) (net.Conn, error) {
			d := net.Dialer{
				Timeout: 30 * time.Second,
			}
			return d.DialContext(ctx, network, address)
		},
	}, nil
}
