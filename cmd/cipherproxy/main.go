// Command cipherproxy is the entry point for all four subcommands described
// in SPEC_FULL.md §6: `encrypt`, `decrypt`, `proxy`, and `add-key`.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/prn-tf/cipherproxy/internal/config"
	"github.com/prn-tf/cipherproxy/internal/coordination"
	"github.com/prn-tf/cipherproxy/internal/localcli"
	"github.com/prn-tf/cipherproxy/internal/metrics"
	"github.com/prn-tf/cipherproxy/internal/middleware"
	"github.com/prn-tf/cipherproxy/internal/server"
	"github.com/prn-tf/cipherproxy/internal/upstream"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	if err := run(logger); err != nil {
		var cfgErr *config.ConfigError
		if errors.As(err, &cfgErr) {
			logger.Fatal().Err(err).Msg("configuration error")
		}
		logger.Fatal().Err(err).Msg("fatal error")
	}
}

func run(logger zerolog.Logger) error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return err
	}

	switch cfg.Mode {
	case config.ModeEncrypt:
		return localcli.Encrypt(cfg.EncryptDecrypt)
	case config.ModeDecrypt:
		return localcli.Decrypt(cfg.EncryptDecrypt)
	case config.ModeAddKey:
		id, err := cfg.AddKey.Keyring.AddRandom()
		if err != nil {
			return fmt.Errorf("add-key: %w", err)
		}
		logger.Info().Uint64("key_id", id).Msg("added new key")
		return nil
	case config.ModeProxy:
		return runProxy(cfg.Proxy, logger)
	default:
		return fmt.Errorf("unhandled mode %v", cfg.Mode)
	}
}

func runProxy(proxyCfg *config.ProxyConfig, logger zerolog.Logger) error {
	m := metrics.New()

	var coord *coordination.Store
	if proxyCfg.WriteOnce {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		var err error
		coord, err = coordination.New(ctx, coordination.Config{
			URL:          proxyCfg.RedisURL,
			PoolSize:     proxyCfg.RedisPoolMaxSize,
			DialTimeout:  proxyCfg.RedisTimeoutCreate,
			ReadTimeout:  proxyCfg.RedisTimeoutWait,
			WriteTimeout: proxyCfg.RedisTimeoutWait,
		}, logger)
		if err != nil {
			return fmt.Errorf("connecting to coordination store: %w", err)
		}
		defer coord.Close()
	}

	client := upstream.New(proxyCfg.BackendConnectionTimeout)

	srv := server.New(server.Config{
		UpstreamBaseURL:          proxyCfg.UpstreamBaseURL,
		ChunkSize:                proxyCfg.ChunkSize,
		LocalEncryptionDirectory: proxyCfg.LocalEncryptionDirectory,
		AWSSign:                  proxyCfg.AWSSign,
	}, client, proxyCfg.Keyring, m, logger)

	handler := srv.Handler(proxyCfg.WriteOnce, coord)

	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(), m, logger)
	defer rateLimiter.Stop()
	handler = rateLimiter.Middleware(handler)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Remove(proxyCfg.UnixSocketPath)
	unixListener, err := net.Listen("unix", proxyCfg.UnixSocketPath)
	if err != nil {
		return fmt.Errorf("binding unix socket %q: %w", proxyCfg.UnixSocketPath, err)
	}

	tcpServer := &http.Server{Addr: proxyCfg.Address, Handler: handler}
	unixServer := &http.Server{Handler: handler}

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("address", proxyCfg.Address).Msg("listening on tcp")
		if err := tcpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("tcp server: %w", err)
		}
	}()
	go func() {
		logger.Info().Str("path", proxyCfg.UnixSocketPath).Msg("listening on unix socket")
		if err := unixServer.Serve(unixListener); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("unix server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tcpServer.Shutdown(shutdownCtx)
	unixServer.Shutdown(shutdownCtx)
	os.Remove(proxyCfg.UnixSocketPath)

	return nil
}
