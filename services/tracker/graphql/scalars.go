// Copyright (C) 2025 Scanpath Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package graphql

import (
	"fmt"
	"strings"

	"github.com/scanpath/numtracker/services/tracker/paths"
)

// Detector is a detector name supplied by the client. Names are
// normalised on input, so responses echo the same form that appears in
// rendered paths.
type Detector string

func (Detector) ImplementsGraphQLType(name string) bool { return name == "Detector" }

func (d *Detector) UnmarshalGraphQL(input interface{}) error {
	s, ok := input.(string)
	if !ok {
		return fmt.Errorf("detector name must be a string")
	}
	if s == "" {
		return fmt.Errorf("detector name must not be empty")
	}
	*d = Detector(paths.NormalizeDetector(s))
	return nil
}

// Subdirectory is a relative directory below the session directory where
// data should be written. May be nested (eg foo/bar) but cannot reference
// parent directories. The empty string is valid and means the session
// directory itself.
type Subdirectory string

func (Subdirectory) ImplementsGraphQLType(name string) bool { return name == "Subdirectory" }

func (s *Subdirectory) UnmarshalGraphQL(input interface{}) error {
	raw, ok := input.(string)
	if !ok {
		return fmt.Errorf("subdirectory must be a string")
	}
	if strings.HasPrefix(raw, "/") {
		return fmt.Errorf("subdirectory must be relative")
	}
	for i, seg := range strings.Split(raw, "/") {
		if seg == ".." {
			return fmt.Errorf("invalid subdirectory component at index %d", i)
		}
	}
	*s = Subdirectory(raw)
	return nil
}

// templateScalar validates a template string against a role at input
// decoding time, so malformed templates never reach the store.
func templateScalar(role paths.Role, input interface{}) (string, error) {
	raw, ok := input.(string)
	if !ok {
		return "", fmt.Errorf("%s template must be a string", role)
	}
	if _, err := paths.ParseChecked(role, raw); err != nil {
		return "", err
	}
	return raw, nil
}

// DirectoryTemplate locates the session data directory. Must be an
// absolute path template.
type DirectoryTemplate string

func (DirectoryTemplate) ImplementsGraphQLType(name string) bool { return name == "DirectoryTemplate" }

func (t *DirectoryTemplate) UnmarshalGraphQL(input interface{}) error {
	raw, err := templateScalar(paths.RoleDirectory, input)
	if err != nil {
		return err
	}
	*t = DirectoryTemplate(raw)
	return nil
}

// ScanTemplate locates the root scan file relative to the session
// directory. Must contain {scan_number}.
type ScanTemplate string

func (ScanTemplate) ImplementsGraphQLType(name string) bool { return name == "ScanTemplate" }

func (t *ScanTemplate) UnmarshalGraphQL(input interface{}) error {
	raw, err := templateScalar(paths.RoleScan, input)
	if err != nil {
		return err
	}
	*t = ScanTemplate(raw)
	return nil
}

// DetectorTemplate locates one detector's data file relative to the
// session directory. Must contain {scan_number} and {detector}.
type DetectorTemplate string

func (DetectorTemplate) ImplementsGraphQLType(name string) bool { return name == "DetectorTemplate" }

func (t *DetectorTemplate) UnmarshalGraphQL(input interface{}) error {
	raw, err := templateScalar(paths.RoleDetector, input)
	if err != nil {
		return err
	}
	*t = DetectorTemplate(raw)
	return nil
}
