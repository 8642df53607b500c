// Copyright (C) 2025 Scanpath Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"github.com/spf13/cobra"

	"github.com/scanpath/numtracker/pkg/logging"
)

// --- Global Command Variables ---
var (
	quiet     bool
	verbosity int
	dbPath    string
	hostFlag  string
	portFlag  int

	clientHost  string
	clientToken string

	instrumentFilter []string

	directoryTemplate string
	scanTemplate      string
	detectorTemplate  string
	scanNumber        int64
	trackerDirectory  string
	trackerExtension  string

	rootCmd = &cobra.Command{
		Use:   "numtracker",
		Short: "Track and allocate scan numbers for beamline instruments",
		Long: `Numtracker allocates globally unique, monotonically increasing scan
numbers per instrument and renders the data paths for each scan. It
serves a GraphQL API and ships client subcommands for administration.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the numtracker GraphQL service",
		RunE:  runServe, // Defined in cmd_serve.go
	}

	schemaCmd = &cobra.Command{
		Use:   "schema",
		Short: "Print the GraphQL schema to stdout",
		Run:   runSchema, // Defined in cmd_schema.go
	}

	clientCmd = &cobra.Command{
		Use:   "client",
		Short: "Query and administer a running numtracker service",
	}

	configurationCmd = &cobra.Command{
		Use:   "configuration",
		Short: "Show the stored configuration for instruments",
		RunE:  runConfiguration, // Defined in cmd_client.go
	}

	configureCmd = &cobra.Command{
		Use:   "configure [instrument]",
		Short: "Create or update the configuration for an instrument",
		Args:  cobra.ExactArgs(1),
		RunE:  runConfigure, // Defined in cmd_client.go
	}

	visitDirectoryCmd = &cobra.Command{
		Use:   "visit-directory [instrument] [visit]",
		Short: "Resolve the data directory for an instrument session",
		Args:  cobra.ExactArgs(2),
		RunE:  runVisitDirectory, // Defined in cmd_client.go
	}
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"Suppress all log output")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v",
		"Increase log verbosity (-v info, -vv debug)")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&dbPath, "db", "",
		"Path to the SQLite database (overrides NUMTRACKER_DB)")
	serveCmd.Flags().StringVar(&hostFlag, "host", "",
		"Listen address (overrides NUMTRACKER_HOST)")
	serveCmd.Flags().IntVar(&portFlag, "port", 0,
		"Listen port (overrides NUMTRACKER_PORT)")

	rootCmd.AddCommand(schemaCmd)

	rootCmd.AddCommand(clientCmd)
	clientCmd.PersistentFlags().StringVarP(&clientHost, "host", "H",
		"http://localhost:8000", "Base URL of the numtracker service")
	clientCmd.PersistentFlags().StringVar(&clientToken, "token", "",
		"Bearer token sent with each request")

	clientCmd.AddCommand(configurationCmd)
	configurationCmd.Flags().StringSliceVarP(&instrumentFilter, "instrument", "i",
		nil, "Limit output to the named instruments (repeatable)")

	clientCmd.AddCommand(configureCmd)
	configureCmd.Flags().StringVar(&directoryTemplate, "directory", "",
		"Absolute template for the session data directory")
	configureCmd.Flags().StringVar(&scanTemplate, "scan", "",
		"Relative template for scan files")
	configureCmd.Flags().StringVar(&detectorTemplate, "detector", "",
		"Relative template for detector files")
	configureCmd.Flags().Int64Var(&scanNumber, "scan-number", -1,
		"Set the current scan number (must not be negative)")
	configureCmd.Flags().StringVar(&trackerDirectory, "tracker-directory", "",
		"Directory holding scan number tracker files")
	configureCmd.Flags().StringVar(&trackerExtension, "tracker-file-extension", "",
		"Extension for tracker files (defaults to the instrument name)")

	clientCmd.AddCommand(visitDirectoryCmd)
}

// logLevel maps the -q/-v flags onto a logger configuration. Errors are
// always shown unless -q is given.
func logLevel() logging.Config {
	cfg := logging.Config{Level: logging.LevelError, Quiet: quiet}
	switch {
	case verbosity >= 2:
		cfg.Level = logging.LevelDebug
	case verbosity == 1:
		cfg.Level = logging.LevelInfo
	}
	return cfg
}
