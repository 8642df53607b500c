// Copyright (C) 2025 Scanpath Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Package template implements the placeholder templates used to describe
// data directories and file names.
//
// A template is a plain string that may contain placeholders written as
// {name}. Parsing is a closed-set grammar: "{{" escapes a literal opening
// brace, a "}" outside a placeholder is treated as a literal, and an
// unclosed, empty or nested placeholder is a parse error carrying the
// offending position.
//
// Path templates additionally split the string on '/' and track whether the
// path is absolute. "." segments are dropped; ".." segments are rejected so
// a template can never escape its root.
package template

import (
	"fmt"
	"strings"
)

// ErrorKind classifies the ways a template string can fail to parse.
type ErrorKind int

const (
	// KindNested reports a placeholder opened inside another placeholder.
	KindNested ErrorKind = iota
	// KindEmpty reports a placeholder with no key, eg "{}" or "{  }".
	KindEmpty
	// KindIncomplete reports a placeholder opened but never closed.
	KindIncomplete
)

func (k ErrorKind) String() string {
	switch k {
	case KindNested:
		return "nested placeholder"
	case KindEmpty:
		return "empty placeholder"
	case KindIncomplete:
		return "unclosed placeholder"
	default:
		return "invalid template"
	}
}

// ParseError reports why and where a template string failed to parse.
type ParseError struct {
	Position int
	Kind     ErrorKind
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s at position %d", e.Kind, e.Position)
}

// ErrInvalidPath reports a path template containing components that are not
// expressible, currently only parent-directory ("..") segments.
type ErrInvalidPath struct{}

func (ErrInvalidPath) Error() string { return "path is not valid" }

// part is a single run of a template: either literal text or a field
// reference to be resolved at render time.
type part struct {
	text  string
	field bool
}

// Template is an ordered sequence of literal and placeholder parts.
// Templates are immutable after parsing.
type Template struct {
	parts []part
}

// Resolver supplies the value for a placeholder at render time.
// Returning an error aborts the render.
type Resolver func(field string) (string, error)

// parser states for Parse.
const (
	stInit = iota
	stKey
	stLiteral
	stPending // saw '{' while reading a literal: may be "{{" escape or a key
)

// Parse converts a raw string into a Template.
func Parse(raw string) (*Template, error) {
	var parts []part
	state := stInit
	var buf strings.Builder
	for i, c := range raw {
		switch c {
		case '{':
			switch state {
			case stInit:
				state = stKey
			case stKey:
				return nil, &ParseError{Position: i, Kind: KindNested}
			case stLiteral:
				state = stPending
			case stPending:
				buf.WriteByte('{')
				state = stLiteral
			}
		case '}':
			switch state {
			case stInit:
				buf.WriteByte('}')
				state = stLiteral
			case stKey:
				if strings.TrimSpace(buf.String()) == "" {
					return nil, &ParseError{Position: i, Kind: KindEmpty}
				}
				parts = append(parts, part{text: buf.String(), field: true})
				buf.Reset()
				state = stInit
			case stLiteral:
				buf.WriteByte('}')
			case stPending:
				return nil, &ParseError{Position: i, Kind: KindEmpty}
			}
		default:
			switch state {
			case stInit:
				buf.WriteRune(c)
				state = stLiteral
			case stPending:
				parts = append(parts, part{text: buf.String()})
				buf.Reset()
				buf.WriteRune(c)
				state = stKey
			default:
				buf.WriteRune(c)
			}
		}
	}
	switch state {
	case stKey, stPending:
		return nil, &ParseError{Position: len(raw), Kind: KindIncomplete}
	case stLiteral:
		parts = append(parts, part{text: buf.String()})
	}
	return &Template{parts: parts}, nil
}

// Render substitutes every placeholder using the given resolver and returns
// the resulting string.
func (t *Template) Render(resolve Resolver) (string, error) {
	var buf strings.Builder
	for _, p := range t.parts {
		if !p.field {
			buf.WriteString(p.text)
			continue
		}
		val, err := resolve(p.text)
		if err != nil {
			return "", err
		}
		buf.WriteString(val)
	}
	return buf.String(), nil
}

// Fields returns every placeholder referenced by the template, in order.
// Fields referenced more than once appear more than once.
func (t *Template) Fields() []string {
	var fields []string
	for _, p := range t.parts {
		if p.field {
			fields = append(fields, p.text)
		}
	}
	return fields
}

// String reassembles the template source, with escapes normalised away.
func (t *Template) String() string {
	var buf strings.Builder
	for _, p := range t.parts {
		if p.field {
			buf.WriteString("{" + p.text + "}")
		} else {
			buf.WriteString(p.text)
		}
	}
	return buf.String()
}

// PathTemplate is a template interpreted as a slash-separated path. Each
// segment is an independent Template.
type PathTemplate struct {
	segments []*Template
	absolute bool
}

// ParsePath converts a raw string into a PathTemplate.
func ParsePath(raw string) (*PathTemplate, error) {
	pt := &PathTemplate{absolute: strings.HasPrefix(raw, "/")}
	for _, seg := range strings.Split(raw, "/") {
		switch seg {
		case "", ".":
			continue
		case "..":
			return nil, ErrInvalidPath{}
		}
		t, err := Parse(seg)
		if err != nil {
			return nil, err
		}
		pt.segments = append(pt.segments, t)
	}
	return pt, nil
}

// Absolute reports whether the template describes an absolute path.
func (p *PathTemplate) Absolute() bool { return p.absolute }

// Fields returns every placeholder referenced by any segment. Duplicated
// references are preserved.
func (p *PathTemplate) Fields() []string {
	var fields []string
	for _, seg := range p.segments {
		fields = append(fields, seg.Fields()...)
	}
	return fields
}

// Render renders every segment and joins them with '/'. Runs of slashes
// caused by a segment rendering empty are collapsed to a single slash, so a
// template like "{subdirectory}/{instrument}-{scan_number}" yields
// "/i22-42" when the subdirectory is empty.
func (p *PathTemplate) Render(resolve Resolver) (string, error) {
	rendered := make([]string, 0, len(p.segments))
	for _, seg := range p.segments {
		s, err := seg.Render(resolve)
		if err != nil {
			return "", err
		}
		rendered = append(rendered, s)
	}
	path := strings.Join(rendered, "/")
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	if p.absolute && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path, nil
}

// String reassembles the path template source.
func (p *PathTemplate) String() string {
	segs := make([]string, len(p.segments))
	for i, seg := range p.segments {
		segs[i] = seg.String()
	}
	path := strings.Join(segs, "/")
	if p.absolute {
		path = "/" + path
	}
	return path
}
