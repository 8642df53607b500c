// Copyright (C) 2025 Scanpath Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

// Command numtracker runs the scan number tracking service and provides
// client subcommands for managing instrument configurations.
//
// Usage:
//
//	numtracker serve
//	numtracker serve --db /var/lib/numtracker/numtracker.db
//	numtracker schema
//	numtracker client configuration -i i22
//	numtracker client configure i22 --directory '/data/{instrument}/data/{year}/{visit}'
//	numtracker client visit-directory i22 cm12345-6
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
