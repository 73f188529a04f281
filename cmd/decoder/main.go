// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	root := &cobra.Command{
		Use:   "aleutian-decode",
		Short: "Pruned dense-graph intersection for speech decoding",
		Long: `aleutian-decode composes decoding graphs with dense per-frame
emission matrices, producing beam-pruned lattices with index maps back
into both inputs.`,
		SilenceUsage: true,
	}

	root.AddCommand(newDecodeCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the decoder version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
