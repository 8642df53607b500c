// Copyright (C) 2025 Scanpath Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package client is a small GraphQL client for the numtracker service,
// used by the CLI subcommands. It speaks plain JSON over HTTP so the CLI
// carries no executor machinery.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Configuration mirrors the service's CurrentConfiguration type.
type Configuration struct {
	Instrument           string  `json:"instrument"`
	DirectoryTemplate    string  `json:"directoryTemplate"`
	ScanTemplate         string  `json:"scanTemplate"`
	DetectorTemplate     string  `json:"detectorTemplate"`
	DBScanNumber         int64   `json:"dbScanNumber"`
	FileScanNumber       *int64  `json:"fileScanNumber"`
	TrackerDirectory     *string `json:"trackerDirectory"`
	TrackerFileExtension *string `json:"trackerFileExtension"`
}

// ConfigureRequest holds the fields to change on an instrument. Nil
// fields are omitted from the mutation and left unchanged.
type ConfigureRequest struct {
	Directory            *string
	Scan                 *string
	Detector             *string
	ScanNumber           *int64
	TrackerDirectory     *string
	TrackerFileExtension *string
}

// RemoteError is a GraphQL error returned by the service.
type RemoteError struct {
	Message string
	Code    string
}

func (e RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return e.Message
}

// Client issues GraphQL requests against one numtracker host.
type Client struct {
	endpoint string
	token    string
	httpc    *http.Client
}

// New returns a client for the given host, eg "http://localhost:8000".
func New(host string) *Client {
	return &Client{
		endpoint: strings.TrimRight(host, "/") + "/graphql",
		httpc:    &http.Client{Timeout: 30 * time.Second},
	}
}

// WithToken sets a bearer token sent with every request.
func (c *Client) WithToken(token string) *Client {
	c.token = token
	return c
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type gqlError struct {
	Message    string         `json:"message"`
	Extensions map[string]any `json:"extensions"`
}

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []gqlError      `json:"errors"`
}

func (c *Client) do(ctx context.Context, query string, vars map[string]any, out any) error {
	payload, err := json.Marshal(gqlRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, c.endpoint)
	}

	var envelope gqlResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		first := envelope.Errors[0]
		code, _ := first.Extensions["code"].(string)
		return RemoteError{Message: first.Message, Code: code}
	}
	if out != nil {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

const configurationFields = `
	instrument
	directoryTemplate
	scanTemplate
	detectorTemplate
	dbScanNumber
	fileScanNumber
	trackerDirectory
	trackerFileExtension`

// Configurations fetches stored configurations. A nil filter returns
// every instrument.
func (c *Client) Configurations(ctx context.Context, filters []string) ([]Configuration, error) {
	query := `query($f: [String!]) { configurations(instrumentFilters: $f) {` + configurationFields + ` } }`
	vars := map[string]any{"f": nil}
	if filters != nil {
		vars["f"] = filters
	}
	var data struct {
		Configurations []Configuration `json:"configurations"`
	}
	if err := c.do(ctx, query, vars, &data); err != nil {
		return nil, err
	}
	return data.Configurations, nil
}

// Configure creates or updates an instrument's configuration and returns
// the stored result.
func (c *Client) Configure(ctx context.Context, instrument string, req ConfigureRequest) (Configuration, error) {
	query := `mutation($i: String!, $c: ConfigurationUpdates!) {
		configure(instrument: $i, config: $c) {` + configurationFields + ` }
	}`
	config := map[string]any{}
	if req.Directory != nil {
		config["directory"] = *req.Directory
	}
	if req.Scan != nil {
		config["scan"] = *req.Scan
	}
	if req.Detector != nil {
		config["detector"] = *req.Detector
	}
	if req.ScanNumber != nil {
		config["scanNumber"] = *req.ScanNumber
	}
	if req.TrackerDirectory != nil {
		config["trackerDirectory"] = *req.TrackerDirectory
	}
	if req.TrackerFileExtension != nil {
		config["trackerFileExtension"] = *req.TrackerFileExtension
	}
	var data struct {
		Configure Configuration `json:"configure"`
	}
	err := c.do(ctx, query, map[string]any{"i": instrument, "c": config}, &data)
	return data.Configure, err
}

// VisitDirectory resolves the session data directory for an instrument
// and session.
func (c *Client) VisitDirectory(ctx context.Context, instrument, visit string) (string, error) {
	query := `query($i: String!, $v: String!) {
		paths(instrument: $i, visit: $v) { directory }
	}`
	var data struct {
		Paths struct {
			Directory string `json:"directory"`
		} `json:"paths"`
	}
	err := c.do(ctx, query, map[string]any{"i": instrument, "v": visit}, &data)
	return data.Paths.Directory, err
}
