// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package discovery

import (
	"context"
	"fmt"
	"net"

	"github.com/grandcat/zeroconf"
)

// ZeroconfBrowser browses the local domain over multicast DNS.
type ZeroconfBrowser struct {
	Domain string
}

func (b ZeroconfBrowser) Browse(ctx context.Context, service string, found chan<- Endpoint) error {
	domain := b.Domain
	if domain == "" {
		domain = "local."
	}
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-entries:
			if !ok {
				return nil
			}
			if e == nil {
				continue
			}
			ep := Endpoint{
				Service:  service,
				Instance: e.Instance,
				Host:     e.HostName,
				Port:     e.Port,
				Addrs:    append(append([]net.IP(nil), e.AddrIPv4...), e.AddrIPv6...),
			}
			select {
			case found <- ep:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
