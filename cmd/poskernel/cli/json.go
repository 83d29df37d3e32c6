// Copyright 2026 The PosKernel Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"os"
)

// WriteJSON marshals value as indented JSON and writes it to stdout.
// All poskernel commands print results this way so output composes
// with jq and scripts.
func WriteJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(value); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}
