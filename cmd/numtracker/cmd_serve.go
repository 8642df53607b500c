// Copyright (C) 2025 Scanpath Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/scanpath/numtracker/pkg/logging"
	"github.com/scanpath/numtracker/services/tracker/allocator"
	"github.com/scanpath/numtracker/services/tracker/config"
	"github.com/scanpath/numtracker/services/tracker/graphql"
	"github.com/scanpath/numtracker/services/tracker/middleware"
	"github.com/scanpath/numtracker/services/tracker/observability"
	"github.com/scanpath/numtracker/services/tracker/routes"
	"github.com/scanpath/numtracker/services/tracker/store"
)

const serviceVersion = "1.0.0"

// shutdownTimeout bounds how long in-flight requests may run after a
// termination signal.
const shutdownTimeout = 10 * time.Second

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if hostFlag != "" {
		cfg.Host = hostFlag
	}
	if portFlag != 0 {
		cfg.Port = portFlag
	}

	logCfg := logLevel()
	logCfg.LogDir = cfg.LogDir
	logCfg.Service = "numtracker"
	log := logging.New(logCfg)
	defer log.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.InitMetrics()
	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		ServiceName:    "numtracker",
		ServiceVersion: serviceVersion,
		Endpoint:       cfg.TracingEndpoint,
		Insecure:       true,
	})
	if err != nil {
		return fmt.Errorf("initialise tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			log.Warn("trace exporter shutdown failed", "error", err)
		}
	}()

	s, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	defer s.Close()
	log.Info("database ready", "path", cfg.DBPath)

	var provider middleware.AuthProvider
	auth := middleware.Authorizer{}
	if cfg.AuthEnabled() {
		provider, err = middleware.NewOIDCProvider(ctx, cfg.AuthHost)
		if err != nil {
			return fmt.Errorf("connect to auth host %s: %w", cfg.AuthHost, err)
		}
		auth = middleware.Authorizer{
			Enabled: true,
			Policy: middleware.Policy{
				AccessClaim: cfg.AuthAccessClaim,
				AdminClaim:  cfg.AuthAdminClaim,
			},
		}
		log.Info("authentication enabled", "issuer", cfg.AuthHost)
	}

	alloc := allocator.New(s, cfg.RootDirectory, log, metrics)
	resolver := graphql.NewResolver(s, alloc, auth, log, metrics)
	router := routes.New(routes.Options{
		Schema:       graphql.NewSchema(resolver),
		AuthProvider: provider,
		Log:          log,
		ServiceName:  "numtracker",
		Version:      serviceVersion,
	})

	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", "addr", cfg.Addr())
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
