// Copyright (C) 2025 Scanpath Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package routes wires the tracker service's HTTP surface: the GraphQL
// endpoint, the GraphiQL explorer, and the status and metrics endpoints.
package routes

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	graphqlgo "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/scanpath/numtracker/pkg/logging"
	"github.com/scanpath/numtracker/services/tracker/middleware"
)

// Options configures the router.
type Options struct {
	// Schema is the executable GraphQL schema.
	Schema *graphqlgo.Schema

	// AuthProvider validates bearer tokens; nil disables authentication.
	AuthProvider middleware.AuthProvider

	// Log receives request logs.
	Log *logging.Logger

	// ServiceName and Version identify the build in /status and traces.
	ServiceName string
	Version     string
}

// New builds the service router.
func New(opts Options) *gin.Engine {
	if opts.Log == nil {
		opts.Log = logging.Default()
	}
	if opts.ServiceName == "" {
		opts.ServiceName = "numtracker"
	}
	started := time.Now()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(otelgin.Middleware(opts.ServiceName))
	router.Use(requestLogger(opts.Log))
	router.Use(middleware.AuthMiddleware(opts.AuthProvider))

	graphqlHandler := gin.WrapH(&relay.Handler{Schema: opts.Schema})
	router.POST("/graphql", graphqlHandler)
	router.GET("/graphql", func(c *gin.Context) {
		c.Header("Allow", http.MethodPost)
		c.JSON(http.StatusMethodNotAllowed, gin.H{
			"error": "GraphQL requests must be POSTed to /graphql",
		})
	})

	router.GET("/graphiql", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(graphiqlPage))
	})

	router.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"service":        opts.ServiceName,
			"version":        opts.Version,
			"status":         "ok",
			"uptime_seconds": int64(time.Since(started).Seconds()),
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}

// requestLogger logs one line per request with the correlation id.
func requestLogger(log *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request handled",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetRequestID(c),
		)
	}
}
