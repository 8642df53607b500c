// Copyright (C) 2025 Scanpath Developers
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.

package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/scanpath/numtracker/services/tracker/client"
)

func newClient() *client.Client {
	c := client.New(clientHost)
	if clientToken != "" {
		c = c.WithToken(clientToken)
	}
	return c
}

func runConfiguration(cmd *cobra.Command, args []string) error {
	var filters []string
	if cmd.Flags().Changed("instrument") {
		filters = instrumentFilter
		if filters == nil {
			filters = []string{}
		}
	}

	configs, err := newClient().Configurations(cmd.Context(), filters)
	if err != nil {
		return err
	}
	if len(configs) == 0 {
		fmt.Println("No matching configurations")
		return nil
	}
	printConfigurations(configs)
	return nil
}

func runConfigure(cmd *cobra.Command, args []string) error {
	req := client.ConfigureRequest{}
	flags := cmd.Flags()
	if flags.Changed("directory") {
		req.Directory = &directoryTemplate
	}
	if flags.Changed("scan") {
		req.Scan = &scanTemplate
	}
	if flags.Changed("detector") {
		req.Detector = &detectorTemplate
	}
	if flags.Changed("scan-number") {
		req.ScanNumber = &scanNumber
	}
	if flags.Changed("tracker-directory") {
		req.TrackerDirectory = &trackerDirectory
	}
	if flags.Changed("tracker-file-extension") {
		req.TrackerFileExtension = &trackerExtension
	}

	cfg, err := newClient().Configure(cmd.Context(), args[0], req)
	if err != nil {
		return err
	}
	printConfigurations([]client.Configuration{cfg})
	return nil
}

func runVisitDirectory(cmd *cobra.Command, args []string) error {
	dir, err := newClient().VisitDirectory(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	fmt.Println(dir)
	return nil
}

func printConfigurations(configs []client.Configuration) {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INSTRUMENT\tSCAN NUMBER\tFILE NUMBER\tTRACKER DIR\tDIRECTORY TEMPLATE")
	for _, c := range configs {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
			c.Instrument,
			c.DBScanNumber,
			formatOptionalInt(c.FileScanNumber),
			formatOptional(c.TrackerDirectory),
			c.DirectoryTemplate,
		)
	}
	w.Flush()
}

func formatOptional(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func formatOptionalInt(n *int64) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *n)
}
