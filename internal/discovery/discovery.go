// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package discovery finds Chinachu servers on the local network.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/harekaze/internal/chinachu"
	xglog "github.com/ManuGH/harekaze/internal/log"
	"golang.org/x/net/idna"
	"golang.org/x/sync/errgroup"
)

const (
	ServiceHTTP  = "_http._tcp"
	ServiceHTTPS = "_https._tcp"

	DefaultTimeout = 3 * time.Second
	maxProbes      = 4
)

// Endpoint is one announced service instance.
type Endpoint struct {
	Service  string
	Instance string
	Host     string
	Port     int
	Addrs    []net.IP
}

// Browser announces endpoints on found until ctx is done.
type Browser interface {
	Browse(ctx context.Context, service string, found chan<- Endpoint) error
}

// Prober checks that baseURL answers like a Chinachu server.
type Prober interface {
	Probe(ctx context.Context, baseURL string) (*chinachu.Status, error)
}

// Candidate is a server that answered the probe.
type Candidate struct {
	Instance string           `json:"instance"`
	BaseURL  string           `json:"baseUrl"`
	Status   *chinachu.Status `json:"status"`
}

// Options tunes a discovery run.
type Options struct {
	Timeout  time.Duration
	Services []string
	Browser  Browser
	Prober   Prober
}

// Discover browses for Timeout and returns the endpoints that pass the
// probe, ordered by base URL.
func Discover(ctx context.Context, opts Options) ([]Candidate, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if len(opts.Services) == 0 {
		opts.Services = []string{ServiceHTTP, ServiceHTTPS}
	}
	if opts.Browser == nil {
		opts.Browser = ZeroconfBrowser{}
	}
	if opts.Prober == nil {
		opts.Prober = ClientProber{}
	}
	logger := xglog.WithComponent("discovery")

	endpoints, err := browse(ctx, opts)
	if err != nil {
		return nil, err
	}
	logger.Debug().Str(xglog.FieldEvent, "discovery.browsed").Int("endpoints", len(endpoints)).Msg("mDNS browse finished")

	var (
		mu         sync.Mutex
		candidates []Candidate
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxProbes)
	for base, ep := range endpoints {
		g.Go(func() error {
			st, err := opts.Prober.Probe(gctx, base)
			if err != nil {
				logger.Debug().Err(err).Str(xglog.FieldEvent, "discovery.probe_failed").Str(xglog.FieldBaseURL, base).Msg("endpoint is not a chinachu server")
				return nil
			}
			mu.Lock()
			candidates = append(candidates, Candidate{Instance: ep.Instance, BaseURL: base, Status: st})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].BaseURL < candidates[j].BaseURL })
	return candidates, nil
}

// browse collects endpoints from every service keyed by base URL.
func browse(ctx context.Context, opts Options) (map[string]Endpoint, error) {
	bctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	found := make(chan Endpoint, 16)
	g, gctx := errgroup.WithContext(bctx)
	for _, svc := range opts.Services {
		g.Go(func() error {
			if err := opts.Browser.Browse(gctx, svc, found); err != nil {
				return fmt.Errorf("browse %s: %w", svc, err)
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(found)
	}()

	out := make(map[string]Endpoint)
	for ep := range found {
		base, err := BaseURL(ep)
		if err != nil {
			continue
		}
		if _, dup := out[base]; !dup {
			out[base] = ep
		}
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		return nil, err
	}
	return out, nil
}

// BaseURL builds the server URL for an endpoint. The host name wins over
// announced addresses; IPv4 wins over IPv6.
func BaseURL(ep Endpoint) (string, error) {
	host := strings.TrimSuffix(ep.Host, ".")
	if host == "" {
		host = pickAddr(ep.Addrs)
	}
	host, err := NormalizeHost(host)
	if err != nil {
		return "", err
	}
	if ep.Port <= 0 || ep.Port > 65535 {
		return "", fmt.Errorf("invalid port %d", ep.Port)
	}
	scheme := "http"
	if ep.Service == ServiceHTTPS {
		scheme = "https"
	}
	u := url.URL{Scheme: scheme, Host: net.JoinHostPort(host, strconv.Itoa(ep.Port)), Path: "/"}
	return u.String(), nil
}

func pickAddr(addrs []net.IP) string {
	for _, ip := range addrs {
		if ip.To4() != nil {
			return ip.String()
		}
	}
	if len(addrs) > 0 {
		return addrs[0].String()
	}
	return ""
}

// NormalizeHost lowercases host and converts internationalised names to
// their ASCII form.
func NormalizeHost(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if strings.Contains(host, "%") {
		return "", fmt.Errorf("host must not include zone: %s", raw)
	}
	if ip := net.ParseIP(host); ip != nil {
		return strings.ToLower(ip.String()), nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", raw, err)
	}
	return strings.ToLower(ascii), nil
}

// ClientProber probes with a short-lived API client and no retries.
type ClientProber struct {
	Username string
	Password string
	Timeout  time.Duration
}

func (p ClientProber) Probe(ctx context.Context, baseURL string) (*chinachu.Status, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	c, err := chinachu.New(chinachu.Options{
		BaseURL:    baseURL,
		Username:   p.Username,
		Password:   p.Password,
		Timeout:    timeout,
		MaxRetries: -1,
	})
	if err != nil {
		return nil, err
	}
	return c.Status(ctx)
}
