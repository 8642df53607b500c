// Copyright (C) 2025 Scanpath Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package store persists per-instrument configuration in a single-file
// SQLite database and implements the atomic counter operations the
// allocator depends on.
//
// Counter updates are single UPDATE ... RETURNING statements so that
// "read current, compute new, write, return new" is one atomic step with
// respect to every other connection in the pool.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/scanpath/numtracker/services/tracker/paths"
)

// ErrUnknownInstrument reports an operation against an instrument with no
// stored configuration.
type ErrUnknownInstrument struct {
	Name string
}

func (e ErrUnknownInstrument) Error() string {
	return fmt.Sprintf("no configuration available for instrument %q", e.Name)
}

// ErrMissingFields reports an upsert that would create a new instrument
// without all of its template fields.
type ErrMissingFields struct {
	Name   string
	Fields []string
}

func (e ErrMissingFields) Error() string {
	return fmt.Sprintf("new instrument %q requires fields: %s", e.Name, strings.Join(e.Fields, ", "))
}

// ErrNegativeScanNumber reports an attempt to set a scan counter below zero.
type ErrNegativeScanNumber struct {
	Value int64
}

func (e ErrNegativeScanNumber) Error() string {
	return fmt.Sprintf("scan number %d is negative", e.Value)
}

// ErrExtensionWithoutDirectory reports a tracker file extension configured
// for an instrument that has no tracker directory.
var ErrExtensionWithoutDirectory = errors.New("tracker file extension requires a tracker directory")

// ErrDuplicateTracker reports two instruments sharing the same tracker
// directory and extension pair.
var ErrDuplicateTracker = errors.New("tracker directory and extension already in use")

// InstrumentConfig is one instrument's stored configuration.
type InstrumentConfig struct {
	Name              string
	ScanNumber        int64
	Directory         string
	Scan              string
	Detector          string
	FallbackDirectory *string
	FallbackExtension *string
}

// TrackerExtension returns the extension used for tracker files: the
// configured one if set, otherwise the instrument name.
func (c InstrumentConfig) TrackerExtension() string {
	if c.FallbackExtension != nil {
		return *c.FallbackExtension
	}
	return c.Name
}

// Update is a partial change to an instrument's configuration. Nil fields
// are left untouched. Template strings are validated against their role
// before anything is written.
type Update struct {
	Directory         *string
	Scan              *string
	Detector          *string
	ScanNumber        *int64
	FallbackDirectory *string
	FallbackExtension *string
}

// Store provides access to the instrument configuration database.
type Store struct {
	db *sql.DB
}

var migrations = []string{
	`CREATE TABLE instrument (
		name TEXT PRIMARY KEY CHECK (name <> ''),
		scan_number INTEGER NOT NULL DEFAULT 0 CHECK (scan_number >= 0),
		directory TEXT NOT NULL,
		scan TEXT NOT NULL,
		detector TEXT NOT NULL,
		fallback_directory TEXT,
		fallback_extension TEXT CHECK (fallback_extension IS NULL OR fallback_directory IS NOT NULL)
	)`,
	`CREATE UNIQUE INDEX idx_instrument_tracker
		ON instrument (fallback_directory, fallback_extension)
		WHERE fallback_directory IS NOT NULL`,
}

// Open opens (creating if necessary) the database at the given path and
// applies any pending migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return prepare(ctx, db)
}

// OpenMemory opens a fresh in-memory database. Used by tests and the
// schema subcommand.
func OpenMemory(ctx context.Context) (*Store, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open in-memory database: %w", err)
	}
	// a memory database exists per connection; the pool must not grow
	db.SetMaxOpenConns(1)
	return prepare(ctx, db)
}

func prepare(ctx context.Context, db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for i := version; i < len(migrations); i++ {
		if _, err := s.db.ExecContext(ctx, migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

const configColumns = "name, scan_number, directory, scan, detector, fallback_directory, fallback_extension"

func scanConfig(row interface{ Scan(...any) error }) (InstrumentConfig, error) {
	var c InstrumentConfig
	var fbDir, fbExt sql.NullString
	err := row.Scan(&c.Name, &c.ScanNumber, &c.Directory, &c.Scan, &c.Detector, &fbDir, &fbExt)
	if err != nil {
		return InstrumentConfig{}, err
	}
	if fbDir.Valid {
		c.FallbackDirectory = &fbDir.String
	}
	if fbExt.Valid {
		c.FallbackExtension = &fbExt.String
	}
	return c, nil
}

// Get returns the configuration for one instrument.
func (s *Store) Get(ctx context.Context, name string) (InstrumentConfig, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+configColumns+" FROM instrument WHERE name = ?", name)
	cfg, err := scanConfig(row)
	if errors.Is(err, sql.ErrNoRows) {
		return InstrumentConfig{}, ErrUnknownInstrument{Name: name}
	}
	if err != nil {
		return InstrumentConfig{}, fmt.Errorf("load instrument %q: %w", name, err)
	}
	return cfg, nil
}

// GetAll returns configurations ordered by instrument name. A nil filter
// returns every instrument; an empty filter returns none; otherwise the
// result is the intersection of the filter with the stored names.
func (s *Store) GetAll(ctx context.Context, filter []string) ([]InstrumentConfig, error) {
	query := "SELECT " + configColumns + " FROM instrument"
	var args []any
	if filter != nil {
		if len(filter) == 0 {
			return []InstrumentConfig{}, nil
		}
		query += " WHERE name IN (?" + strings.Repeat(",?", len(filter)-1) + ")"
		for _, f := range filter {
			args = append(args, f)
		}
	}
	query += " ORDER BY name ASC"
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list instruments: %w", err)
	}
	defer rows.Close()
	configs := []InstrumentConfig{}
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("list instruments: %w", err)
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

// validateTemplates checks every template string provided by an update.
func validateTemplates(u Update) error {
	if u.Directory != nil {
		if _, err := paths.ParseChecked(paths.RoleDirectory, *u.Directory); err != nil {
			return err
		}
	}
	if u.Scan != nil {
		if _, err := paths.ParseChecked(paths.RoleScan, *u.Scan); err != nil {
			return err
		}
	}
	if u.Detector != nil {
		if _, err := paths.ParseChecked(paths.RoleDetector, *u.Detector); err != nil {
			return err
		}
	}
	return nil
}

// Upsert creates or modifies an instrument. Creating a new instrument
// requires all three templates; updating an existing one applies only the
// provided fields. The post-update configuration is returned.
func (s *Store) Upsert(ctx context.Context, name string, u Update) (InstrumentConfig, error) {
	if err := validateTemplates(u); err != nil {
		return InstrumentConfig{}, err
	}
	if u.ScanNumber != nil && *u.ScanNumber < 0 {
		return InstrumentConfig{}, ErrNegativeScanNumber{Value: *u.ScanNumber}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return InstrumentConfig{}, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		"SELECT "+configColumns+" FROM instrument WHERE name = ?", name)
	current, err := scanConfig(row)
	creating := false
	switch {
	case errors.Is(err, sql.ErrNoRows):
		creating = true
		current, err = newConfig(name, u)
		if err != nil {
			return InstrumentConfig{}, err
		}
	case err != nil:
		return InstrumentConfig{}, fmt.Errorf("load instrument %q: %w", name, err)
	default:
		current = merge(current, u)
	}

	// the merged configuration must pair an extension with a directory
	if current.FallbackExtension != nil && current.FallbackDirectory == nil {
		return InstrumentConfig{}, ErrExtensionWithoutDirectory
	}

	if creating {
		err = insertConfig(ctx, tx, current)
	} else {
		err = updateConfig(ctx, tx, current)
	}
	if err != nil {
		return InstrumentConfig{}, err
	}
	if err := tx.Commit(); err != nil {
		return InstrumentConfig{}, trackerConflict(err)
	}
	return current, nil
}

// newConfig builds the configuration for a first upsert, which must carry
// all three templates.
func newConfig(name string, u Update) (InstrumentConfig, error) {
	var missing []string
	if u.Directory == nil {
		missing = append(missing, "directory")
	}
	if u.Scan == nil {
		missing = append(missing, "scan")
	}
	if u.Detector == nil {
		missing = append(missing, "detector")
	}
	if len(missing) > 0 {
		return InstrumentConfig{}, ErrMissingFields{Name: name, Fields: missing}
	}
	cfg := InstrumentConfig{
		Name:              name,
		Directory:         *u.Directory,
		Scan:              *u.Scan,
		Detector:          *u.Detector,
		FallbackDirectory: u.FallbackDirectory,
		FallbackExtension: u.FallbackExtension,
	}
	if u.ScanNumber != nil {
		cfg.ScanNumber = *u.ScanNumber
	}
	return cfg, nil
}

// merge applies the set fields of an update to an existing configuration.
func merge(current InstrumentConfig, u Update) InstrumentConfig {
	if u.Directory != nil {
		current.Directory = *u.Directory
	}
	if u.Scan != nil {
		current.Scan = *u.Scan
	}
	if u.Detector != nil {
		current.Detector = *u.Detector
	}
	if u.ScanNumber != nil {
		current.ScanNumber = *u.ScanNumber
	}
	if u.FallbackDirectory != nil {
		current.FallbackDirectory = u.FallbackDirectory
	}
	if u.FallbackExtension != nil {
		current.FallbackExtension = u.FallbackExtension
	}
	return current
}

func insertConfig(ctx context.Context, tx *sql.Tx, cfg InstrumentConfig) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO instrument (name, scan_number, directory, scan, detector, fallback_directory, fallback_extension)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cfg.Name, cfg.ScanNumber, cfg.Directory, cfg.Scan, cfg.Detector,
		nullable(cfg.FallbackDirectory), nullable(cfg.FallbackExtension))
	if err != nil {
		return trackerConflict(fmt.Errorf("insert instrument %q: %w", cfg.Name, err))
	}
	return nil
}

func updateConfig(ctx context.Context, tx *sql.Tx, cfg InstrumentConfig) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE instrument
		 SET scan_number = ?, directory = ?, scan = ?, detector = ?, fallback_directory = ?, fallback_extension = ?
		 WHERE name = ?`,
		cfg.ScanNumber, cfg.Directory, cfg.Scan, cfg.Detector,
		nullable(cfg.FallbackDirectory), nullable(cfg.FallbackExtension), cfg.Name)
	if err != nil {
		return trackerConflict(fmt.Errorf("update instrument %q: %w", cfg.Name, err))
	}
	return nil
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// trackerConflict maps violations of the unique tracker pair index to
// ErrDuplicateTracker. The driver reports the violated columns, not the
// index name, so both spellings are recognised.
func trackerConflict(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "instrument.fallback_directory") ||
		strings.Contains(msg, "idx_instrument_tracker") {
		return ErrDuplicateTracker
	}
	return err
}

// SetNumber overrides the scan counter for an instrument.
func (s *Store) SetNumber(ctx context.Context, name string, n int64) (InstrumentConfig, error) {
	if n < 0 {
		return InstrumentConfig{}, ErrNegativeScanNumber{Value: n}
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE instrument SET scan_number = ? WHERE name = ?", n, name)
	if err != nil {
		return InstrumentConfig{}, fmt.Errorf("set scan number for %q: %w", name, err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return InstrumentConfig{}, ErrUnknownInstrument{Name: name}
	}
	return s.Get(ctx, name)
}

// BumpNumber increments the scan counter and returns the new value.
func (s *Store) BumpNumber(ctx context.Context, name string) (int64, error) {
	return s.BumpToAtLeast(ctx, name, 0)
}

// BumpToAtLeast advances the counter to max(current, floor) + 1 in a single
// statement and returns the new value.
func (s *Store) BumpToAtLeast(ctx context.Context, name string, floor int64) (int64, error) {
	var next int64
	err := s.db.QueryRowContext(ctx,
		"UPDATE instrument SET scan_number = MAX(scan_number, ?) + 1 WHERE name = ? RETURNING scan_number",
		floor, name).Scan(&next)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrUnknownInstrument{Name: name}
	}
	if err != nil {
		return 0, fmt.Errorf("bump scan number for %q: %w", name, err)
	}
	return next, nil
}
