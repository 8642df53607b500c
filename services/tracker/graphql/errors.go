// Copyright (C) 2025 Scanpath Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package graphql

import (
	"errors"

	"github.com/scanpath/numtracker/services/tracker/allocator"
	"github.com/scanpath/numtracker/services/tracker/middleware"
	"github.com/scanpath/numtracker/services/tracker/numtracker"
	"github.com/scanpath/numtracker/services/tracker/paths"
	"github.com/scanpath/numtracker/services/tracker/store"
)

// Code classifies errors for machine consumption. Every error returned
// from a resolver carries one in its extensions.
type Code string

const (
	CodeUnknownInstrument    Code = "UNKNOWN_INSTRUMENT"
	CodeInvalidTemplate      Code = "INVALID_TEMPLATE"
	CodeInvalidSession       Code = "INVALID_SESSION"
	CodeMissingFields        Code = "MISSING_FIELDS"
	CodeInvalidConfiguration Code = "INVALID_CONFIGURATION"
	CodeTrackerUnavailable   Code = "TRACKER_UNAVAILABLE"
	CodeTrackerRace          Code = "TRACKER_RACE"
	CodeCounterUnderflow     Code = "COUNTER_UNDERFLOW"
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeForbidden            Code = "FORBIDDEN"
	CodeInternal             Code = "INTERNAL"
)

// Error is a resolver error with a stable code in its extensions.
type Error struct {
	code  Code
	cause error
}

func (e *Error) Error() string { return e.cause.Error() }

func (e *Error) Unwrap() error { return e.cause }

// Extensions satisfies the executor's ResolverError interface, surfacing
// the code under extensions.code in the response.
func (e *Error) Extensions() map[string]interface{} {
	return map[string]interface{}{"code": string(e.code)}
}

// asGraphQLError classifies a domain error under a stable code.
func asGraphQLError(err error) error {
	if err == nil {
		return nil
	}
	var gqlErr *Error
	if errors.As(err, &gqlErr) {
		return gqlErr
	}
	return &Error{code: classify(err), cause: err}
}

func classify(err error) Code {
	var (
		unknown      store.ErrUnknownInstrument
		invalidTmpl  *paths.InvalidTemplateError
		invalidSess  paths.ErrInvalidSession
		missing      store.ErrMissingFields
		negative     store.ErrNegativeScanNumber
		badExtension numtracker.ErrInvalidExtension
		unavailable  allocator.ErrTrackerUnavailable
		race         allocator.ErrTrackerRace
	)
	switch {
	case errors.As(err, &unknown):
		return CodeUnknownInstrument
	case errors.As(err, &invalidTmpl):
		return CodeInvalidTemplate
	case errors.As(err, &invalidSess):
		return CodeInvalidSession
	case errors.As(err, &missing):
		return CodeMissingFields
	case errors.As(err, &negative):
		return CodeCounterUnderflow
	case errors.As(err, &badExtension),
		errors.Is(err, store.ErrExtensionWithoutDirectory),
		errors.Is(err, store.ErrDuplicateTracker):
		return CodeInvalidConfiguration
	case errors.As(err, &unavailable):
		return CodeTrackerUnavailable
	case errors.As(err, &race):
		return CodeTrackerRace
	case errors.Is(err, middleware.ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, middleware.ErrForbidden):
		return CodeForbidden
	default:
		return CodeInternal
	}
}
