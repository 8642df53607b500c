// Copyright (C) 2025 Scanpath Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scanpath/numtracker/services/tracker/graphql"
)

// runSchema prints the schema so deployments can generate typed clients
// without a running service.
func runSchema(cmd *cobra.Command, args []string) {
	fmt.Print(graphql.SchemaSDL)
}
