// Copyright 2026 The PosKernel Authors
// SPDX-License-Identifier: Apache-2.0

// poskernel is the operator CLI for the transaction kernel service.
package main

import (
	"fmt"
	"os"

	"github.com/pos-kernel/poskernel/cmd/poskernel/commands"
)

func main() {
	if err := commands.Root().Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
