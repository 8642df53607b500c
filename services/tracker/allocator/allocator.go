// Copyright (C) 2025 Scanpath Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package allocator issues globally unique, monotonically increasing scan
// numbers per instrument.
//
// An allocation reconciles two sources of truth: the database counter and
// the highest numbered tracker file on disk. The candidate is
// max(db, file)+1; the database is bumped to it atomically and the tracker
// file for the new number is claimed with an exclusive create. Losing the
// claim to a concurrent writer re-enters the critical section with fresh
// reads, up to a bounded number of attempts.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/scanpath/numtracker/pkg/logging"
	"github.com/scanpath/numtracker/services/tracker/numtracker"
	"github.com/scanpath/numtracker/services/tracker/observability"
	"github.com/scanpath/numtracker/services/tracker/store"
)

// maxClaimAttempts bounds how many claim races one allocation will retry.
const maxClaimAttempts = 5

// ErrTrackerRace reports that every claim attempt lost to a concurrent
// writer in the tracker directory.
type ErrTrackerRace struct {
	Instrument string
	Attempts   int
}

func (e ErrTrackerRace) Error() string {
	return fmt.Sprintf("gave up allocating for %s after %d contested attempts", e.Instrument, e.Attempts)
}

// ErrTrackerUnavailable reports that the tracker directory could not be
// read, so no number can be issued safely.
type ErrTrackerUnavailable struct {
	Instrument string
	Err        error
}

func (e ErrTrackerUnavailable) Error() string {
	return fmt.Sprintf("tracker directory unavailable for %s: %v", e.Instrument, e.Err)
}

func (e ErrTrackerUnavailable) Unwrap() error { return e.Err }

// Allocation is the result of issuing one scan number.
type Allocation struct {
	// Config is the instrument configuration at allocation time, with
	// ScanNumber updated to the allocated value.
	Config store.InstrumentConfig

	// ScanNumber is the allocated number.
	ScanNumber int64

	// TrackerDirectory is the directory whose files were reconciled,
	// empty when the instrument has no tracker directory configured.
	TrackerDirectory string
}

// trackerProbe is the part of numtracker.Tracker an allocation uses.
type trackerProbe interface {
	HighestNumber() (int64, bool, error)
	Claim(n int64) error
}

// Allocator coordinates scan number allocation across concurrent requests.
//
// Each instrument has its own mutex, held across the probe, bump and claim
// steps so two in-process requests for the same instrument serialise.
// Requests for different instruments proceed independently.
type Allocator struct {
	store   *store.Store
	rootDir string
	log     *logging.Logger
	metrics *observability.TrackerMetrics

	// newTracker builds the probe for a tracker directory. Tests swap it
	// to interleave external writers between probe and claim.
	newTracker func(dir, ext string) (trackerProbe, error)

	// locks maps instrument name to *sync.Mutex
	locks sync.Map
}

// New returns an Allocator backed by the given store. rootDir is prepended
// to relative tracker directories; metrics may be nil to disable recording.
func New(s *store.Store, rootDir string, log *logging.Logger, metrics *observability.TrackerMetrics) *Allocator {
	if log == nil {
		log = logging.Default()
	}
	return &Allocator{
		store:   s,
		rootDir: rootDir,
		log:     log,
		metrics: metrics,
		newTracker: func(dir, ext string) (trackerProbe, error) {
			return numtracker.New(dir, ext)
		},
	}
}

func (a *Allocator) lock(instrument string) *sync.Mutex {
	mu, _ := a.locks.LoadOrStore(instrument, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// trackerDir resolves the effective tracker directory for a configuration:
// the configured directory, joined under the root directory when relative.
// Empty means no tracker files are maintained for the instrument.
func (a *Allocator) trackerDir(cfg store.InstrumentConfig) string {
	if cfg.FallbackDirectory == nil {
		return ""
	}
	dir := *cfg.FallbackDirectory
	if !filepath.IsAbs(dir) && a.rootDir != "" {
		dir = filepath.Join(a.rootDir, dir)
	}
	return dir
}

// TrackerDirFor exposes the effective tracker directory for a
// configuration, for callers that report the file-side counter.
func (a *Allocator) TrackerDirFor(cfg store.InstrumentConfig) string {
	return a.trackerDir(cfg)
}

// Allocate issues the next scan number for an instrument.
//
// With no tracker directory configured the database counter alone is
// bumped. Otherwise the directory high-water mark is folded in and the
// number's tracker file claimed; the database is never rolled back, so a
// claim failure after a successful bump skips the number rather than
// risking a duplicate.
func (a *Allocator) Allocate(ctx context.Context, instrument string) (Allocation, error) {
	tracer := otel.Tracer("allocator")
	ctx, span := tracer.Start(ctx, "Allocate",
		trace.WithAttributes(attribute.String("instrument", instrument)))
	defer span.End()

	start := time.Now()
	if a.metrics != nil {
		a.metrics.AllocationStarted(instrument)
		defer a.metrics.AllocationEnded(instrument)
	}

	alloc, err := a.allocate(ctx, instrument)

	if a.metrics != nil {
		status := observability.StatusSuccess
		switch {
		case err == nil:
		case errors.As(err, &ErrTrackerRace{}):
			status = observability.StatusRace
		case errors.As(err, &ErrTrackerUnavailable{}):
			status = observability.StatusUnavailable
		default:
			status = observability.StatusError
		}
		a.metrics.RecordAllocation(instrument, status, time.Since(start).Seconds())
	}
	if err != nil {
		span.RecordError(err)
		return Allocation{}, err
	}
	span.SetAttributes(attribute.Int64("scan_number", alloc.ScanNumber))
	return alloc, nil
}

func (a *Allocator) allocate(ctx context.Context, instrument string) (Allocation, error) {
	mu := a.lock(instrument)
	mu.Lock()
	defer mu.Unlock()

	cfg, err := a.store.Get(ctx, instrument)
	if err != nil {
		return Allocation{}, err
	}

	dir := a.trackerDir(cfg)
	if dir == "" {
		next, err := a.store.BumpNumber(ctx, instrument)
		if err != nil {
			return Allocation{}, err
		}
		cfg.ScanNumber = next
		return Allocation{Config: cfg, ScanNumber: next}, nil
	}

	tracker, err := a.newTracker(dir, cfg.TrackerExtension())
	if err != nil {
		return Allocation{}, err
	}

	for attempt := 1; attempt <= maxClaimAttempts; attempt++ {
		high, _, err := tracker.HighestNumber()
		if err != nil {
			return Allocation{}, ErrTrackerUnavailable{Instrument: instrument, Err: err}
		}

		next, err := a.store.BumpToAtLeast(ctx, instrument, high)
		if err != nil {
			return Allocation{}, err
		}

		err = tracker.Claim(next)
		if err == nil {
			cfg.ScanNumber = next
			return Allocation{Config: cfg, ScanNumber: next, TrackerDirectory: dir}, nil
		}

		var claimed numtracker.ErrClaimed
		if !errors.As(err, &claimed) {
			// The counter already moved, so the failed number is
			// skipped, never reissued.
			a.log.Warn("tracker file claim failed",
				"instrument", instrument,
				"scan_number", next,
				"directory", dir,
				"error", err.Error(),
			)
			return Allocation{}, ErrTrackerUnavailable{Instrument: instrument, Err: err}
		}

		a.log.Debug("scan number contested, retrying",
			"instrument", instrument,
			"scan_number", next,
			"attempt", attempt,
		)
		if a.metrics != nil {
			a.metrics.RecordClaimRetry(instrument)
		}
	}

	return Allocation{}, ErrTrackerRace{Instrument: instrument, Attempts: maxClaimAttempts}
}
