package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/streamline-hls/twitch-hls-client/config"
	"github.com/streamline-hls/twitch-hls-client/internal/adminapi"
	"github.com/streamline-hls/twitch-hls-client/internal/fetch"
	"github.com/streamline-hls/twitch-hls-client/internal/resolver"
	"github.com/streamline-hls/twitch-hls-client/internal/session"
	"github.com/streamline-hls/twitch-hls-client/internal/sink"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := config.Load()
	if cfg.Channel == "" {
		logger.Error("CHANNEL is required")
		os.Exit(1)
	}

	logger.Info("starting twitch-hls-client",
		"channel", cfg.Channel,
		"quality", cfg.Quality,
		"low_latency", cfg.LowLatency,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := fetch.New(cfg.HTTPTimeout, cfg.UserAgent)

	variantURL, displayName, err := resolveVariant(ctx, cfg, client, logger)
	if err != nil {
		logger.Error("resolve variant failed", "err", err)
		os.Exit(1)
	}

	sinks, cleanup, err := buildSinks(ctx, cfg, displayName, logger)
	if err != nil {
		logger.Error("failed to set up sinks", "err", err)
		os.Exit(1)
	}
	defer cleanup()

	sess := session.New(client, logger)
	handle := sess.Start(variantURL, sinks, session.Options{
		LowLatency:       cfg.LowLatency,
		HTTPRetries:      cfg.HTTPRetries,
		HTTPTimeout:      cfg.HTTPTimeout,
		TCPClientTimeout: cfg.TCPClientTimeout,
		NoKill:           cfg.NoKill,
		RecordOverwrite:  cfg.RecordOverwrite,
	})

	var tcpListener *sink.TCPListener
	if cfg.TCPListenAddr != "" {
		tcpListener, err = sink.ListenTCP(cfg.TCPListenAddr, busOf(handle), cfg.TCPClientTimeout, logger)
		if err != nil {
			logger.Error("tcp listener failed", "err", err)
			handle.Stop()
		} else {
			go func() {
				if err := tcpListener.Serve(ctx); err != nil {
					logger.Error("tcp listener stopped", "err", err)
				}
			}()
		}
	}

	if cfg.AdminAddr != "" {
		admin := adminapi.NewServer(adminapi.Options{Addr: cfg.AdminAddr, Token: cfg.AdminToken}, handle, handle, logger)
		go func() {
			if err := admin.Start(ctx); err != nil {
				logger.Error("admin api stopped", "err", err)
			}
		}()
	}

	go func() {
		<-ctx.Done()
		handle.Stop()
	}()

	reason := handle.Wait()
	logger.Info("session finished", "reason", reason.String())
	if tcpListener != nil {
		_ = tcpListener.Close()
	}
	os.Exit(reason.ExitCode())
}

func resolveVariant(ctx context.Context, cfg *config.Config, client fetch.Client, logger *slog.Logger) (string, string, error) {
	fallback := resolver.NewTwitchResolver(client, cfg.ClientID)

	var proxies []resolver.ProxyEndpoint
	for i, base := range cfg.ProxyURLs {
		proxies = append(proxies, resolver.ProxyEndpoint{
			Name:     fmt.Sprintf("proxy-%d", i),
			Resolver: resolver.NewPlaylistProxyResolver(client, base, cfg.ClientID),
		})
	}

	r := resolver.NewProxyingResolver(proxies, fallback, logger)
	res, err := r.ResolveVariant(ctx, cfg.Channel, resolver.Options{NeverProxyChannels: cfg.NeverProxyChannels})
	if err != nil {
		return "", "", err
	}
	return res.VariantURL, res.DisplayName, nil
}

// buildSinks attaches the configured player/record sinks up front; TCP
// clients attach later, as they connect, directly onto the session's bus.
func buildSinks(ctx context.Context, cfg *config.Config, displayName string, logger *slog.Logger) ([]sink.Sink, func(), error) {
	var sinks []sink.Sink
	var closers []func()

	if cfg.PlayerCommand != "" {
		p, err := sink.StartPlayer(ctx, cfg.PlayerCommand, cfg.PlayerArgs, cfg.NoKill, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("start player: %w", err)
		}
		sinks = append(sinks, p)
		closers = append(closers, func() { _ = p.Close() })
	}

	if cfg.RecordFile != "" {
		path := recordPath(cfg.RecordFile, displayName)
		rec, err := sink.OpenRecordFile(path, cfg.RecordOverwrite)
		if err != nil {
			return nil, nil, fmt.Errorf("open record file: %w", err)
		}
		sinks = append(sinks, rec)
		closers = append(closers, func() { _ = rec.Close() })
	}

	cleanup := func() {
		for _, c := range closers {
			c()
		}
	}
	return sinks, cleanup, nil
}

// recordPath honors an explicit path, or derives one from the channel
// display name and a timestamp when the caller asks for "auto" naming.
func recordPath(configured, displayName string) string {
	if configured != "auto" {
		return configured
	}
	return fmt.Sprintf("%s_%s.ts", displayName, time.Now().Format("20060102_150405"))
}

func busOf(h *session.SessionHandle) *sink.Bus {
	return h.Bus()
}
