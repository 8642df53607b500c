// Copyright (C) 2025 Scanpath Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package graphql exposes the tracker service's API: queries for path
// and configuration information, mutations for allocating scan numbers
// and updating configurations.
//
// Resolvers enforce the access policy themselves so authorization
// failures are reported as GraphQL errors with stable codes rather than
// bare HTTP statuses.
package graphql

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scanpath/numtracker/pkg/logging"
	"github.com/scanpath/numtracker/services/tracker/allocator"
	"github.com/scanpath/numtracker/services/tracker/middleware"
	"github.com/scanpath/numtracker/services/tracker/numtracker"
	"github.com/scanpath/numtracker/services/tracker/observability"
	"github.com/scanpath/numtracker/services/tracker/paths"
	"github.com/scanpath/numtracker/services/tracker/store"
)

// Resolver is the root of the query and mutation trees.
type Resolver struct {
	store   *store.Store
	alloc   *allocator.Allocator
	auth    middleware.Authorizer
	log     *logging.Logger
	metrics *observability.TrackerMetrics

	// now is replaceable in tests; templates substitute {year} from it.
	now func() time.Time
}

// NewResolver wires the root resolver. metrics may be nil.
func NewResolver(s *store.Store, a *allocator.Allocator, auth middleware.Authorizer, log *logging.Logger, metrics *observability.TrackerMetrics) *Resolver {
	if log == nil {
		log = logging.Default()
	}
	return &Resolver{store: s, alloc: a, auth: auth, log: log, metrics: metrics, now: time.Now}
}

func (r *Resolver) scope(cfg store.InstrumentConfig, session paths.Session) paths.Scope {
	return paths.Scope{
		Instrument: cfg.Name,
		Session:    session,
		Now:        r.now(),
	}
}

// === Query ===

// Paths resolves the session directory information for an instrument.
func (r *Resolver) Paths(ctx context.Context, args struct {
	Instrument string
	Visit      string
}) (*VisitPathResolver, error) {
	if err := r.auth.CanRead(middleware.IdentityFromContext(ctx)); err != nil {
		return nil, asGraphQLError(err)
	}
	session, err := paths.ParseSession(args.Visit)
	if err != nil {
		return nil, asGraphQLError(err)
	}
	cfg, err := r.store.Get(ctx, args.Instrument)
	if err != nil {
		return nil, asGraphQLError(err)
	}
	return &VisitPathResolver{r: r, cfg: cfg, session: session}, nil
}

// Configuration resolves one instrument's stored configuration.
func (r *Resolver) Configuration(ctx context.Context, args struct {
	Instrument string
}) (*ConfigurationResolver, error) {
	if err := r.auth.CanWrite(middleware.IdentityFromContext(ctx)); err != nil {
		return nil, asGraphQLError(err)
	}
	cfg, err := r.store.Get(ctx, args.Instrument)
	if err != nil {
		return nil, asGraphQLError(err)
	}
	res := &ConfigurationResolver{r: r, cfg: cfg}
	res.probeFileNumber()
	return res, nil
}

// Configurations resolves the stored configurations, optionally filtered
// to a set of instrument names.
func (r *Resolver) Configurations(ctx context.Context, args struct {
	InstrumentFilters *[]string
}) ([]*ConfigurationResolver, error) {
	if err := r.auth.CanWrite(middleware.IdentityFromContext(ctx)); err != nil {
		return nil, asGraphQLError(err)
	}
	var filter []string
	if args.InstrumentFilters != nil {
		filter = *args.InstrumentFilters
		if filter == nil {
			filter = []string{}
		}
	}
	cfgs, err := r.store.GetAll(ctx, filter)
	if err != nil {
		return nil, asGraphQLError(err)
	}

	out := make([]*ConfigurationResolver, len(cfgs))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, cfg := range cfgs {
		res := &ConfigurationResolver{r: r, cfg: cfg}
		out[i] = res
		g.Go(func() error {
			// directory probes are independent; failures leave the
			// file number null
			res.probeFileNumber()
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// === Mutation ===

// Scan allocates the next scan number and resolves its file locations.
func (r *Resolver) Scan(ctx context.Context, args struct {
	Instrument   string
	Visit        string
	Subdirectory *Subdirectory
}) (*ScanPathsResolver, error) {
	if err := r.auth.CanRead(middleware.IdentityFromContext(ctx)); err != nil {
		return nil, asGraphQLError(err)
	}
	// the session is validated before any number is consumed
	session, err := paths.ParseSession(args.Visit)
	if err != nil {
		return nil, asGraphQLError(err)
	}

	alloc, err := r.alloc.Allocate(ctx, args.Instrument)
	if err != nil {
		return nil, asGraphQLError(err)
	}

	sub := ""
	if args.Subdirectory != nil {
		sub = string(*args.Subdirectory)
	}
	r.log.Info("scan number allocated",
		"instrument", args.Instrument,
		"visit", args.Visit,
		"scan_number", alloc.ScanNumber,
	)
	return &ScanPathsResolver{r: r, cfg: alloc.Config, session: session, subdirectory: sub}, nil
}

// Configure creates or updates an instrument's configuration.
func (r *Resolver) Configure(ctx context.Context, args struct {
	Instrument string
	Config     ConfigurationUpdates
}) (*ConfigurationResolver, error) {
	if err := r.auth.CanWrite(middleware.IdentityFromContext(ctx)); err != nil {
		return nil, asGraphQLError(err)
	}

	cfg, err := r.store.Upsert(ctx, args.Instrument, args.Config.asUpdate())
	if r.metrics != nil {
		r.metrics.RecordConfigurationUpdate(args.Instrument, err == nil)
	}
	if err != nil {
		return nil, asGraphQLError(err)
	}
	r.log.Info("instrument configured", "instrument", args.Instrument)
	res := &ConfigurationResolver{r: r, cfg: cfg}
	res.probeFileNumber()
	return res, nil
}

// ConfigurationUpdates is the configure mutation's input object. Nil
// fields leave the stored value untouched.
type ConfigurationUpdates struct {
	Directory            *DirectoryTemplate
	Scan                 *ScanTemplate
	Detector             *DetectorTemplate
	ScanNumber           *int32
	TrackerDirectory     *string
	TrackerFileExtension *string
}

func (u ConfigurationUpdates) asUpdate() store.Update {
	upd := store.Update{
		FallbackDirectory: u.TrackerDirectory,
		FallbackExtension: u.TrackerFileExtension,
	}
	if u.Directory != nil {
		s := string(*u.Directory)
		upd.Directory = &s
	}
	if u.Scan != nil {
		s := string(*u.Scan)
		upd.Scan = &s
	}
	if u.Detector != nil {
		s := string(*u.Detector)
		upd.Detector = &s
	}
	if u.ScanNumber != nil {
		n := int64(*u.ScanNumber)
		upd.ScanNumber = &n
	}
	return upd
}

// === Field resolvers ===

// VisitPathResolver resolves the VisitPath type.
type VisitPathResolver struct {
	r       *Resolver
	cfg     store.InstrumentConfig
	session paths.Session
}

func (v *VisitPathResolver) Instrument() string { return v.cfg.Name }

func (v *VisitPathResolver) Visit() string { return v.session.Visit }

func (v *VisitPathResolver) Directory() (string, error) {
	pt, err := paths.ParseChecked(paths.RoleDirectory, v.cfg.Directory)
	if err != nil {
		return "", asGraphQLError(err)
	}
	dir, err := paths.RenderDirectory(pt, v.r.scope(v.cfg, v.session))
	if err != nil {
		return "", asGraphQLError(err)
	}
	return dir, nil
}

// ScanPathsResolver resolves the ScanPaths type.
type ScanPathsResolver struct {
	r            *Resolver
	cfg          store.InstrumentConfig
	session      paths.Session
	subdirectory string
}

func (s *ScanPathsResolver) ScanNumber() int32 { return int32(s.cfg.ScanNumber) }

func (s *ScanPathsResolver) Visit() *VisitPathResolver {
	return &VisitPathResolver{r: s.r, cfg: s.cfg, session: s.session}
}

func (s *ScanPathsResolver) scope() paths.Scope {
	scope := s.r.scope(s.cfg, s.session)
	scope.Subdirectory = s.subdirectory
	scope.ScanNumber = s.cfg.ScanNumber
	return scope
}

func (s *ScanPathsResolver) ScanFile() (string, error) {
	pt, err := paths.ParseChecked(paths.RoleScan, s.cfg.Scan)
	if err != nil {
		return "", asGraphQLError(err)
	}
	file, err := paths.RenderScan(pt, s.scope())
	if err != nil {
		return "", asGraphQLError(err)
	}
	return file, nil
}

func (s *ScanPathsResolver) Detectors(args struct{ Names []Detector }) ([]*DetectorPathResolver, error) {
	pt, err := paths.ParseChecked(paths.RoleDetector, s.cfg.Detector)
	if err != nil {
		return nil, asGraphQLError(err)
	}
	names := make([]string, len(args.Names))
	for i, n := range args.Names {
		names[i] = string(n)
	}
	rendered, err := paths.RenderDetectors(pt, s.scope(), names)
	if err != nil {
		return nil, asGraphQLError(err)
	}
	out := make([]*DetectorPathResolver, len(rendered))
	for i, path := range rendered {
		out[i] = &DetectorPathResolver{name: names[i], path: path}
	}
	return out, nil
}

// DetectorPathResolver resolves the DetectorPath type.
type DetectorPathResolver struct {
	name string
	path string
}

func (d *DetectorPathResolver) Name() string { return d.name }

func (d *DetectorPathResolver) Path() string { return d.path }

// ConfigurationResolver resolves the CurrentConfiguration type.
type ConfigurationResolver struct {
	r          *Resolver
	cfg        store.InstrumentConfig
	fileNumber *int32
}

// probeFileNumber reads the tracker directory high-water mark. A missing
// directory or probe failure leaves the field null.
func (c *ConfigurationResolver) probeFileNumber() {
	dir := c.r.alloc.TrackerDirFor(c.cfg)
	if dir == "" {
		return
	}
	tracker, err := numtracker.New(dir, c.cfg.TrackerExtension())
	if err != nil {
		return
	}
	high, found, err := tracker.HighestNumber()
	if err != nil {
		c.r.log.Debug("tracker directory probe failed",
			"instrument", c.cfg.Name,
			"directory", dir,
			"error", err.Error(),
		)
		return
	}
	if found {
		n := int32(high)
		c.fileNumber = &n
	}
}

func (c *ConfigurationResolver) Instrument() string { return c.cfg.Name }

func (c *ConfigurationResolver) DirectoryTemplate() string { return c.cfg.Directory }

func (c *ConfigurationResolver) ScanTemplate() string { return c.cfg.Scan }

func (c *ConfigurationResolver) DetectorTemplate() string { return c.cfg.Detector }

func (c *ConfigurationResolver) DbScanNumber() int32 { return int32(c.cfg.ScanNumber) }

func (c *ConfigurationResolver) FileScanNumber() *int32 { return c.fileNumber }

func (c *ConfigurationResolver) TrackerDirectory() *string { return c.cfg.FallbackDirectory }

func (c *ConfigurationResolver) TrackerFileExtension() *string { return c.cfg.FallbackExtension }
