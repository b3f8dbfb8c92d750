// Package resolver implements the one-shot external collaborator
// ResolveVariant: turning a channel name into a variant media
// playlist URL and a display name, before the core loop begins. The core
// never retries this call itself — once a session is running, the
// Refresher's own retry policy takes over.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
)

// Result is what ResolveVariant hands back to the Loop Controller.
type Result struct {
	VariantURL string
	DisplayName string
}

// Options carries the caller-facing configuration this package consumes:
// channel identity, proxy rotation, and the exemption list. None of this is
// part of the core's own Options surface — that line is kept deliberately
// separate.
type Options struct {
	NeverProxyChannels map[string]struct{}
}

// Resolver is the ResolveVariant contract: a one-shot external call.
type Resolver interface {
	ResolveVariant(ctx context.Context, channel string, opts Options) (Result, error)
}

// ProxyEndpoint names one candidate playlist-proxy to try before falling
// back to Twitch directly.
type ProxyEndpoint struct {
	Name string
	Resolver Resolver
}

// ProxyingResolver tries each configured proxy in order, then falls back to
// a direct resolver, grounded on the instance-tries-then-fallback shape used
// by a load-balancing reverse proxy to pick an upstream. Channels named in
// NeverProxyChannels skip straight to the fallback.
type ProxyingResolver struct {
	proxies []ProxyEndpoint
	fallback Resolver
	log *slog.Logger
}

func NewProxyingResolver(proxies []ProxyEndpoint, fallback Resolver, log *slog.Logger) *ProxyingResolver {
	if log == nil {
		log = slog.Default()
	}
	return &ProxyingResolver{proxies: proxies, fallback: fallback, log: log.With("component", "resolver")}
}

func (p *ProxyingResolver) ResolveVariant(ctx context.Context, channel string, opts Options) (Result, error) {
	if _, exempt := opts.NeverProxyChannels[channel]; !exempt {
		for _, proxy := range p.proxies {
			res, err := proxy.Resolver.ResolveVariant(ctx, channel, opts)
			if err == nil {
				return res, nil
			}
			p.log.Warn("proxy resolution failed, trying next", "proxy", proxy.Name, "channel", channel, "err", err)
		}
	}

	if p.fallback == nil {
		return Result{}, fmt.Errorf("resolver: no proxy succeeded for channel %q and no fallback configured", channel)
	}
	return p.fallback.ResolveVariant(ctx, channel, opts)
}
