// Copyright (C) 2025 Scanpath Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package numtracker maintains the on-disk scan number files some
// acquisition software reads directly. Each instrument with a tracker
// directory owns files named <number>.<extension>; the highest number
// present is the instrument's file-side high-water mark, and claiming a
// number means exclusively creating its file.
package numtracker

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
)

// ErrClaimed reports that the tracker file for a number already exists,
// meaning another writer claimed the number first.
type ErrClaimed struct {
	Number int64
}

func (e ErrClaimed) Error() string {
	return fmt.Sprintf("scan number %d already claimed", e.Number)
}

// ErrInvalidExtension reports an extension containing characters outside
// [A-Za-z0-9_-].
type ErrInvalidExtension struct {
	Extension string
}

func (e ErrInvalidExtension) Error() string {
	return fmt.Sprintf("invalid tracker file extension %q", e.Extension)
}

var extensionPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// numberPattern matches tracker file names: a non-negative decimal with no
// leading zeros followed by a dot. The extension is checked separately so
// the expression never needs quoting.
var numberPattern = regexp.MustCompile(`^(0|[1-9][0-9]*)\.`)

// Tracker reads and writes scan number files in one directory.
type Tracker struct {
	dir string
	ext string
}

// New returns a Tracker for the given directory and file extension.
func New(dir, ext string) (*Tracker, error) {
	if !extensionPattern.MatchString(ext) {
		return nil, ErrInvalidExtension{Extension: ext}
	}
	return &Tracker{dir: dir, ext: ext}, nil
}

// Directory returns the directory being tracked.
func (t *Tracker) Directory() string { return t.dir }

// Extension returns the file extension being tracked.
func (t *Tracker) Extension() string { return t.ext }

func (t *Tracker) file(n int64) string {
	return filepath.Join(t.dir, strconv.FormatInt(n, 10)+"."+t.ext)
}

// HighestNumber scans the directory and returns the largest number with a
// matching tracker file. found is false when no file matches, which is
// distinct from a directory whose highest file is 0. Files with other
// extensions or non-canonical names are ignored.
func (t *Tracker) HighestNumber() (high int64, found bool, err error) {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return 0, false, fmt.Errorf("read tracker directory %s: %w", t.dir, err)
	}
	suffix := "." + t.ext
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		m := numberPattern.FindStringSubmatch(name)
		if m == nil || name[len(m[1]):] != suffix {
			continue
		}
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			continue
		}
		if !found || n > high {
			high = n
			found = true
		}
	}
	return high, found, nil
}

// Claim creates the tracker file for the given number. The create is
// exclusive, so exactly one caller can claim any number; losing the race
// returns ErrClaimed. After a successful claim the file for the previous
// number is removed on a best-effort basis.
func (t *Tracker) Claim(n int64) error {
	f, err := os.OpenFile(t.file(n), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o664)
	if errors.Is(err, fs.ErrExist) {
		return ErrClaimed{Number: n}
	}
	if err != nil {
		return fmt.Errorf("claim scan number %d: %w", n, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("claim scan number %d: %w", n, err)
	}
	if n > 1 {
		// stale previous marker only; missing is fine
		_ = os.Remove(t.file(n - 1))
	}
	return nil
}
