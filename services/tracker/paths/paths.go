// Copyright (C) 2025 Scanpath Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package paths defines the placeholder vocabulary for each template role
// and renders configured templates into concrete paths.
//
// Three roles exist. A directory template locates the session (visit) data
// directory and must be absolute. A scan template locates the root scan
// file relative to that directory. A detector template locates one
// detector's data file, also relative. Each role accepts a fixed set of
// placeholders and requires some of them; anything else is a validation
// error that names the role.
package paths

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/scanpath/numtracker/services/tracker/template"
)

// Role identifies which kind of path a template describes.
type Role string

const (
	RoleDirectory Role = "directory"
	RoleScan      Role = "scan"
	RoleDetector  Role = "detector"
)

// Placeholder names shared by the role schemas.
const (
	FieldYear         = "year"
	FieldVisit        = "visit"
	FieldProposal     = "proposal"
	FieldInstrument   = "instrument"
	FieldSubdirectory = "subdirectory"
	FieldScanNumber   = "scan_number"
	FieldDetector     = "detector"
)

// roleSpec declares the placeholder schema for one template role.
type roleSpec struct {
	allowed  []string
	required []string
	absolute bool
}

var specs = map[Role]roleSpec{
	RoleDirectory: {
		allowed:  []string{FieldInstrument, FieldProposal, FieldVisit, FieldYear},
		required: nil,
		absolute: true,
	},
	RoleScan: {
		allowed:  []string{FieldInstrument, FieldSubdirectory, FieldScanNumber},
		required: []string{FieldScanNumber},
		absolute: false,
	},
	RoleDetector: {
		allowed:  []string{FieldInstrument, FieldSubdirectory, FieldScanNumber, FieldDetector},
		required: []string{FieldScanNumber, FieldDetector},
		absolute: false,
	},
}

// InvalidTemplateError reports a template that does not satisfy its role's
// schema: a syntax error, a path-discipline violation, an unknown
// placeholder or a missing required one.
type InvalidTemplateError struct {
	Role   Role
	Reason string
	Err    error
}

func (e *InvalidTemplateError) Error() string {
	return fmt.Sprintf("invalid %s template: %s", e.Role, e.Reason)
}

func (e *InvalidTemplateError) Unwrap() error { return e.Err }

func invalid(role Role, format string, args ...any) *InvalidTemplateError {
	return &InvalidTemplateError{Role: role, Reason: fmt.Sprintf(format, args...)}
}

// ParseChecked parses a raw template string and validates it against the
// schema for the given role.
func ParseChecked(role Role, raw string) (*template.PathTemplate, error) {
	spec, ok := specs[role]
	if !ok {
		return nil, invalid(role, "unknown template role")
	}
	if raw == "" {
		return nil, invalid(role, "template is empty")
	}
	pt, err := template.ParsePath(raw)
	if err != nil {
		return nil, &InvalidTemplateError{Role: role, Reason: err.Error(), Err: err}
	}
	if spec.absolute && !pt.Absolute() {
		return nil, invalid(role, "path should be absolute")
	}
	if !spec.absolute && pt.Absolute() {
		return nil, invalid(role, "path should be relative")
	}
	fields := pt.Fields()
	for _, f := range fields {
		if !contains(spec.allowed, f) {
			return nil, invalid(role, "unrecognised placeholder {%s}", f)
		}
	}
	for _, req := range spec.required {
		if !contains(fields, req) {
			return nil, invalid(role, "missing required placeholder {%s}", req)
		}
	}
	return pt, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Session is a validated session (visit) identifier of the form
// <proposal-code><digits>-<visit-digits>, eg "cm12345-6".
type Session struct {
	// Visit is the whole identifier.
	Visit string
	// Proposal is everything before the final '-'.
	Proposal string
}

// ErrInvalidSession reports a session identifier that cannot be decomposed
// into proposal and visit parts.
type ErrInvalidSession struct {
	Value string
}

func (e ErrInvalidSession) Error() string {
	return fmt.Sprintf("invalid session identifier %q", e.Value)
}

var sessionPattern = regexp.MustCompile(`^[A-Za-z]+[0-9]+-[0-9]+$`)

// ParseSession validates and decomposes a session identifier.
func ParseSession(raw string) (Session, error) {
	if !sessionPattern.MatchString(raw) {
		return Session{}, ErrInvalidSession{Value: raw}
	}
	idx := strings.LastIndex(raw, "-")
	return Session{Visit: raw, Proposal: raw[:idx]}, nil
}

// NormalizeDetector replaces every character outside [A-Za-z0-9] with '_'.
// Length is preserved and duplicates are not removed, so callers keep a
// one-to-one mapping between input names and output paths.
func NormalizeDetector(name string) string {
	out := []byte(name)
	for i := 0; i < len(out); i++ {
		c := out[i]
		if (c < 'A' || c > 'Z') && (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			out[i] = '_'
		}
	}
	return string(out)
}

// Scope carries the per-request values substituted into templates.
// Year is taken from Now in the service's local timezone.
type Scope struct {
	Instrument   string
	Session      Session
	Subdirectory string
	ScanNumber   int64
	Detector     string
	Now          time.Time
}

// ErrUnknownField reports a placeholder with no value in the current scope.
// Role validation makes this unreachable for stored templates; it guards
// against schema drift.
type ErrUnknownField struct {
	Field string
}

func (e ErrUnknownField) Error() string {
	return fmt.Sprintf("no value for placeholder {%s}", e.Field)
}

func (s Scope) resolve(field string) (string, error) {
	switch field {
	case FieldYear:
		return strconv.Itoa(s.Now.Year()), nil
	case FieldVisit:
		return s.Session.Visit, nil
	case FieldProposal:
		return s.Session.Proposal, nil
	case FieldInstrument:
		return s.Instrument, nil
	case FieldSubdirectory:
		return s.Subdirectory, nil
	case FieldScanNumber:
		return strconv.FormatInt(s.ScanNumber, 10), nil
	case FieldDetector:
		return s.Detector, nil
	default:
		return "", ErrUnknownField{Field: field}
	}
}

// RenderDirectory renders a directory template for the given scope.
func RenderDirectory(pt *template.PathTemplate, scope Scope) (string, error) {
	return pt.Render(scope.resolve)
}

// RenderScan renders a scan template for the given scope. The result is
// relative to the session directory.
func RenderScan(pt *template.PathTemplate, scope Scope) (string, error) {
	return pt.Render(scope.resolve)
}

// RenderDetectors renders a detector template once per name. Names are
// normalised before substitution; the output preserves input order and
// length.
func RenderDetectors(pt *template.PathTemplate, scope Scope, names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, name := range names {
		scope.Detector = NormalizeDetector(name)
		p, err := pt.Render(scope.resolve)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
