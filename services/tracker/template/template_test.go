// Copyright (C) 2025 Scanpath Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package template

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echo resolves every field to its uppercase name.
func echo(field string) (string, error) {
	up := make([]byte, len(field))
	for i := 0; i < len(field); i++ {
		c := field[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		up[i] = c
	}
	return string(up), nil
}

// null resolves every field to the empty string.
func null(string) (string, error) { return "", nil }

func TestParse_OnlyLiteral(t *testing.T) {
	tmpl, err := Parse("this is all literal")
	require.NoError(t, err)
	assert.Empty(t, tmpl.Fields())
	out, err := tmpl.Render(echo)
	require.NoError(t, err)
	assert.Equal(t, "this is all literal", out)
}

func TestParse_OnlyFields(t *testing.T) {
	tmpl, err := Parse("{year}{visit}{proposal}")
	require.NoError(t, err)
	assert.Equal(t, []string{"year", "visit", "proposal"}, tmpl.Fields())
}

func TestParse_MixedLiteralAndFields(t *testing.T) {
	tmpl, err := Parse("start{visit}middle{year}end")
	require.NoError(t, err)
	out, err := tmpl.Render(echo)
	require.NoError(t, err)
	assert.Equal(t, "startVISITmiddleYEARend", out)
}

func TestParse_EscapedOpen(t *testing.T) {
	tmpl, err := Parse("all {{ literal")
	require.NoError(t, err)
	out, err := tmpl.Render(echo)
	require.NoError(t, err)
	assert.Equal(t, "all { literal", out)
}

func TestParse_UnmatchedClose(t *testing.T) {
	for _, raw := range []string{"closing } only", "} closing start"} {
		tmpl, err := Parse(raw)
		require.NoError(t, err, raw)
		out, err := tmpl.Render(echo)
		require.NoError(t, err)
		assert.Equal(t, raw, out)
	}

	tmpl, err := Parse("double {close}}")
	require.NoError(t, err)
	out, err := tmpl.Render(echo)
	require.NoError(t, err)
	assert.Equal(t, "double CLOSE}", out)
}

func TestParse_Errors(t *testing.T) {
	cases := []struct {
		raw  string
		pos  int
		kind ErrorKind
	}{
		{"missing {} key", 9, KindEmpty},
		{"whitespace {  } key", 14, KindEmpty},
		{"{nested{keys}}", 7, KindNested},
		{"incomplete {key", 15, KindIncomplete},
		{"incomplete {", 12, KindIncomplete},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			_, err := Parse(tc.raw)
			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tc.kind, perr.Kind)
			assert.Equal(t, tc.pos, perr.Position)
		})
	}
}

func TestRender_ResolverError(t *testing.T) {
	tmpl, err := Parse("{missing}")
	require.NoError(t, err)
	boom := errors.New("no such field")
	_, err = tmpl.Render(func(string) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
}

func TestTemplate_String(t *testing.T) {
	tmpl, err := Parse("start{visit}end")
	require.NoError(t, err)
	assert.Equal(t, "start{visit}end", tmpl.String())
}

func TestParsePath_Absolute(t *testing.T) {
	pt, err := ParsePath("/tmp/{instrument}/data/{year}/{visit}")
	require.NoError(t, err)
	assert.True(t, pt.Absolute())
	out, err := pt.Render(echo)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/INSTRUMENT/data/YEAR/VISIT", out)
}

func TestParsePath_Relative(t *testing.T) {
	for _, raw := range []string{"relative/literal/path", "./relative/literal/path"} {
		pt, err := ParsePath(raw)
		require.NoError(t, err)
		assert.False(t, pt.Absolute())
		out, err := pt.Render(echo)
		require.NoError(t, err)
		assert.Equal(t, "relative/literal/path", out)
	}
}

func TestParsePath_CurrentDirectoryNormalised(t *testing.T) {
	pt, err := ParsePath("./nested/./subdirectory")
	require.NoError(t, err)
	out, err := pt.Render(null)
	require.NoError(t, err)
	assert.Equal(t, "nested/subdirectory", out)
}

func TestParsePath_ParentDirectoryRejected(t *testing.T) {
	_, err := ParsePath("../parent/directory")
	assert.ErrorAs(t, err, &ErrInvalidPath{})
}

func TestParsePath_InvalidTemplates(t *testing.T) {
	for _, raw := range []string{
		"unclosed/partial_{place/holder",
		"empty/{}/placeholder",
		"nested/{place{holder}}",
	} {
		_, err := ParsePath(raw)
		var perr *ParseError
		assert.ErrorAs(t, err, &perr, raw)
	}
}

func TestPathRender_EmptySegmentCollapsed(t *testing.T) {
	pt, err := ParsePath("{subdirectory}/file-{scan_number}")
	require.NoError(t, err)
	out, err := pt.Render(func(f string) (string, error) {
		switch f {
		case "subdirectory":
			return "", nil
		case "scan_number":
			return "42", nil
		}
		return "", fmt.Errorf("unknown field %q", f)
	})
	require.NoError(t, err)
	// the empty leading segment leaves a single leading slash
	assert.Equal(t, "/file-42", out)
}

func TestPathTemplate_String(t *testing.T) {
	pt, err := ParsePath("/tmp/{instrument}/data/{visit}")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/{instrument}/data/{visit}", pt.String())
}
