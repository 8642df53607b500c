// Copyright (C) 2025 Scanpath Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package allocator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scanpath/numtracker/pkg/logging"
	"github.com/scanpath/numtracker/services/tracker/numtracker"
	"github.com/scanpath/numtracker/services/tracker/store"
)

func strptr(s string) *string { return &s }

func quietLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logging.LevelError, Quiet: true})
}

func newAllocator(t *testing.T, rootDir string) (*Allocator, *store.Store) {
	t.Helper()
	s, err := store.OpenMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s, rootDir, quietLogger(), nil), s
}

func seed(t *testing.T, s *store.Store, name string, trackerDir *string) {
	t.Helper()
	_, err := s.Upsert(context.Background(), name, store.Update{
		Directory:         strptr("/data/{instrument}/data/{year}/{visit}"),
		Scan:              strptr("{subdirectory}/{instrument}-{scan_number}"),
		Detector:          strptr("{subdirectory}/{instrument}-{scan_number}-{detector}"),
		FallbackDirectory: trackerDir,
	})
	require.NoError(t, err)
}

func TestAllocate_NoTrackerDirectory(t *testing.T) {
	a, s := newAllocator(t, "")
	seed(t, s, "i22", nil)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		alloc, err := a.Allocate(ctx, "i22")
		require.NoError(t, err)
		assert.Equal(t, want, alloc.ScanNumber)
		assert.Empty(t, alloc.TrackerDirectory)
	}
}

func TestAllocate_UnknownInstrument(t *testing.T) {
	a, _ := newAllocator(t, "")
	_, err := a.Allocate(context.Background(), "nope")
	var unknown store.ErrUnknownInstrument
	assert.ErrorAs(t, err, &unknown)
}

func TestAllocate_DatabaseAhead(t *testing.T) {
	dir := t.TempDir()
	a, s := newAllocator(t, "")
	seed(t, s, "i22", &dir)
	ctx := context.Background()

	_, err := s.SetNumber(ctx, "i22", 122)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "121.i22"), nil, 0o664))

	alloc, err := a.Allocate(ctx, "i22")
	require.NoError(t, err)
	assert.EqualValues(t, 123, alloc.ScanNumber)
	assert.FileExists(t, filepath.Join(dir, "123.i22"))
}

func TestAllocate_FilesAhead(t *testing.T) {
	dir := t.TempDir()
	a, s := newAllocator(t, "")
	seed(t, s, "i22", &dir)
	ctx := context.Background()

	_, err := s.SetNumber(ctx, "i22", 121)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "122.i22"), nil, 0o664))

	alloc, err := a.Allocate(ctx, "i22")
	require.NoError(t, err)
	assert.EqualValues(t, 123, alloc.ScanNumber)

	// the database counter caught up
	cfg, err := s.Get(ctx, "i22")
	require.NoError(t, err)
	assert.EqualValues(t, 123, cfg.ScanNumber)
}

func TestAllocate_ClaimRemovesPreviousFile(t *testing.T) {
	dir := t.TempDir()
	a, s := newAllocator(t, "")
	seed(t, s, "i22", &dir)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "5.i22"), nil, 0o664))

	alloc, err := a.Allocate(ctx, "i22")
	require.NoError(t, err)
	assert.EqualValues(t, 6, alloc.ScanNumber)
	assert.NoFileExists(t, filepath.Join(dir, "5.i22"))
	assert.FileExists(t, filepath.Join(dir, "6.i22"))
}

func TestAllocate_RelativeTrackerDirectoryUnderRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "trackers", "i22"), 0o775))

	a, s := newAllocator(t, root)
	seed(t, s, "i22", strptr(filepath.Join("trackers", "i22")))

	alloc, err := a.Allocate(context.Background(), "i22")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "trackers", "i22"), alloc.TrackerDirectory)
	assert.FileExists(t, filepath.Join(root, "trackers", "i22", "1.i22"))
}

func TestAllocate_MissingTrackerDirectory(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing")
	a, s := newAllocator(t, "")
	seed(t, s, "i22", &missing)
	ctx := context.Background()

	_, err := a.Allocate(ctx, "i22")
	var unavailable ErrTrackerUnavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "i22", unavailable.Instrument)

	// the counter never moved
	cfg, err := s.Get(ctx, "i22")
	require.NoError(t, err)
	assert.EqualValues(t, 0, cfg.ScanNumber)
}

func TestAllocate_CustomExtension(t *testing.T) {
	dir := t.TempDir()
	a, s := newAllocator(t, "")
	ctx := context.Background()
	seed(t, s, "i22", &dir)
	_, err := s.Upsert(ctx, "i22", store.Update{FallbackExtension: strptr("nxs")})
	require.NoError(t, err)

	alloc, err := a.Allocate(ctx, "i22")
	require.NoError(t, err)
	assert.EqualValues(t, 1, alloc.ScanNumber)
	assert.FileExists(t, filepath.Join(dir, "1.nxs"))
}

// contestedTracker simulates an external writer in the tracker directory:
// each lost claim also raises the high-water mark to the contested number,
// as if the other writer created the file.
type contestedTracker struct {
	mu       sync.Mutex
	high     int64
	losses   int
	claimErr error
	claimed  []int64
}

func (f *contestedTracker) HighestNumber() (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.high, f.high > 0, nil
}

func (f *contestedTracker) Claim(n int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.claimErr != nil {
		return f.claimErr
	}
	if f.losses > 0 {
		f.losses--
		f.high = n
		return numtracker.ErrClaimed{Number: n}
	}
	f.claimed = append(f.claimed, n)
	return nil
}

func contestedAllocator(t *testing.T, fake *contestedTracker) (*Allocator, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	a, s := newAllocator(t, "")
	seed(t, s, "i22", &dir)
	a.newTracker = func(dir, ext string) (trackerProbe, error) { return fake, nil }
	return a, s
}

func TestAllocate_ClaimRaceRetries(t *testing.T) {
	fake := &contestedTracker{high: 10, losses: 2}
	a, s := contestedAllocator(t, fake)
	ctx := context.Background()
	_, err := s.SetNumber(ctx, "i22", 10)
	require.NoError(t, err)

	alloc, err := a.Allocate(ctx, "i22")
	require.NoError(t, err)

	// 11 and 12 went to the external writer; each retry re-probed and
	// re-bumped past it
	assert.EqualValues(t, 13, alloc.ScanNumber)
	assert.Equal(t, []int64{13}, fake.claimed)

	cfg, err := s.Get(ctx, "i22")
	require.NoError(t, err)
	assert.EqualValues(t, 13, cfg.ScanNumber)
}

func TestAllocate_ClaimRaceExhaustion(t *testing.T) {
	fake := &contestedTracker{losses: 100}
	a, s := contestedAllocator(t, fake)
	ctx := context.Background()

	_, err := a.Allocate(ctx, "i22")
	var race ErrTrackerRace
	require.ErrorAs(t, err, &race)
	assert.Equal(t, "i22", race.Instrument)
	assert.Equal(t, 5, race.Attempts)

	// every attempt consumed a number; none are reissued
	cfg, err := s.Get(ctx, "i22")
	require.NoError(t, err)
	assert.EqualValues(t, 5, cfg.ScanNumber)
}

func TestAllocate_ClaimIOFailure(t *testing.T) {
	fake := &contestedTracker{claimErr: errors.New("open 1.i22: permission denied")}
	a, s := contestedAllocator(t, fake)
	ctx := context.Background()

	_, err := a.Allocate(ctx, "i22")
	var unavailable ErrTrackerUnavailable
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "i22", unavailable.Instrument)

	// the bump preceded the failed claim; the number is skipped
	cfg, err := s.Get(ctx, "i22")
	require.NoError(t, err)
	assert.EqualValues(t, 1, cfg.ScanNumber)
}

func TestAllocate_ConcurrentSameInstrument(t *testing.T) {
	dir := t.TempDir()
	a, s := newAllocator(t, "")
	seed(t, s, "i22", &dir)
	ctx := context.Background()

	const n = 20
	results := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			alloc, err := a.Allocate(ctx, "i22")
			if err != nil {
				t.Error(err)
				return
			}
			results <- alloc.ScanNumber
		}()
	}
	wg.Wait()
	close(results)

	seen := map[int64]bool{}
	for num := range results {
		assert.False(t, seen[num], "scan number %d issued twice", num)
		seen[num] = true
	}
	assert.Len(t, seen, n)

	cfg, err := s.Get(ctx, "i22")
	require.NoError(t, err)
	assert.EqualValues(t, n, cfg.ScanNumber)
}

func TestAllocate_ConcurrentDistinctInstruments(t *testing.T) {
	a, s := newAllocator(t, "")
	seed(t, s, "i22", nil)
	seed(t, s, "b21", nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, name := range []string{"i22", "b21"} {
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				_, err := a.Allocate(ctx, name)
				assert.NoError(t, err)
			}(name)
		}
	}
	wg.Wait()

	for _, name := range []string{"i22", "b21"} {
		cfg, err := s.Get(ctx, name)
		require.NoError(t, err)
		assert.EqualValues(t, 10, cfg.ScanNumber, name)
	}
}
