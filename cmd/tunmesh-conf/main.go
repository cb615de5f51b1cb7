/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2026 tunmesh contributors. All Rights Reserved.
 */

// Command tunmesh-conf parses and lints a tunmesh configuration file,
// printing the parsed result as JSON.
package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/caetun/tunmesh/internal/config"
)

func main() {
	var confPath string
	var pretty bool

	cmd := &cobra.Command{
		Use:           "tunmesh-conf",
		Short:         "Parse and print a tunmesh configuration file as JSON",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(confPath)
			if err != nil {
				return fmt.Errorf("reading %s: %w", confPath, err)
			}

			conf, err := config.Parse(raw)
			if err != nil {
				return err
			}

			var out []byte
			if pretty {
				out, err = json.MarshalIndent(conf, "", "  ")
			} else {
				out, err = json.Marshal(conf)
			}
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVarP(&confPath, "conf", "c", "", "path to the configuration file")
	cmd.Flags().BoolVarP(&pretty, "pretty", "p", false, "pretty-print the JSON output")
	cmd.MarkFlagRequired("conf")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "tunmesh-conf:", err)
		os.Exit(1)
	}
}
