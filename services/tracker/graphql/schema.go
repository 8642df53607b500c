// Copyright (C) 2025 Scanpath Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package graphql

import (
	graphqlgo "github.com/graph-gophers/graphql-go"
)

// SchemaSDL is the schema served at /graphql and printed by the schema
// subcommand.
const SchemaSDL = `
schema {
  query: Query
  mutation: Mutation
}

"""
A detector name. Non-alphanumeric characters are replaced with '_' on
input; responses carry the normalised name.
"""
scalar Detector

"""
A directory below the session directory where data should be written.
May be nested (eg foo/bar) but cannot reference parent directories.
"""
scalar Subdirectory

"""
An absolute path template locating a session's data directory,
eg "/data/{instrument}/data/{year}/{visit}".
"""
scalar DirectoryTemplate

"""
A relative path template locating the root scan file. Must include the
{scan_number} placeholder.
"""
scalar ScanTemplate

"""
A relative path template locating a detector's data file. Must include
the {scan_number} and {detector} placeholders.
"""
scalar DetectorTemplate

type Query {
  "Get the session directory information for an instrument and session. Not scan specific."
  paths(instrument: String!, visit: String!): VisitPath!

  "Get the stored configuration for one instrument."
  configuration(instrument: String!): CurrentConfiguration!

  """
  Get the stored configurations. A null filter returns every instrument;
  a list filters to the named instruments.
  """
  configurations(instrumentFilters: [String!]): [CurrentConfiguration!]!
}

type Mutation {
  "Allocate the next scan number and generate file locations for the scan."
  scan(instrument: String!, visit: String!, subdirectory: Subdirectory): ScanPaths!

  "Add or modify the stored configuration for an instrument."
  configure(instrument: String!, config: ConfigurationUpdates!): CurrentConfiguration!
}

"The path to a session directory and the components used to build it."
type VisitPath {
  "The instrument for which this is the session directory."
  instrument: String!

  "The session for which this is the directory."
  visit: String!

  "The absolute path to the session directory."
  directory: String!
}

"Paths and values related to one scan on one instrument."
type ScanPaths {
  "The allocated scan number, unique for the instrument."
  scanNumber: Int!

  """
  The root scan file for this scan, relative to the session directory.
  The path has no extension so the format can be chosen by the client.
  """
  scanFile: String!

  "The session this scan was allocated for."
  visit: VisitPath!

  """
  The file paths, relative to the session directory, where the named
  detectors should write their data. Duplicate names after normalisation
  produce duplicate paths.
  """
  detectors(names: [Detector!]!): [DetectorPath!]!
}

"One detector's name and the file path it should write to."
type DetectorPath {
  name: String!
  path: String!
}

"The stored configuration for one instrument."
type CurrentConfiguration {
  "The name of the instrument."
  instrument: String!

  "The template used to build the session directory path."
  directoryTemplate: String!

  "The template used to build the root scan file path, relative to the session directory."
  scanTemplate: String!

  "The template used to build detector file paths, relative to the session directory."
  detectorTemplate: String!

  """
  The latest scan number recorded in the database. May lag the tracker
  directory when external software has claimed numbers directly.
  """
  dbScanNumber: Int!

  """
  The highest numbered tracker file for this instrument. Null when no
  tracker directory is configured or it holds no matching files.
  """
  fileScanNumber: Int

  "The directory holding the instrument's tracker files, if configured."
  trackerDirectory: String

  "The extension of tracker files, eg 'ext' for files 1.ext, 2.ext."
  trackerFileExtension: String
}

"Changes to apply to an instrument's configuration."
input ConfigurationUpdates {
  directory: DirectoryTemplate
  scan: ScanTemplate
  detector: DetectorTemplate
  scanNumber: Int
  trackerDirectory: String
  trackerFileExtension: String
}
`

// NewSchema parses the schema against the resolver. Panics on any
// mismatch between the SDL and the resolver's method set, which is a
// programming error caught by the tests.
func NewSchema(r *Resolver) *graphqlgo.Schema {
	return graphqlgo.MustParseSchema(SchemaSDL, r)
}
