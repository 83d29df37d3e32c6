// Copyright 2026 The PosKernel Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"

	"github.com/spf13/pflag"

	"github.com/pos-kernel/poskernel/cmd/poskernel/cli"
	"github.com/pos-kernel/poskernel/lib/client"
	"github.com/pos-kernel/poskernel/lib/protocol"
	"github.com/pos-kernel/poskernel/lib/version"
)

func metricsCommand() *cli.Command {
	var conn connection

	return &cli.Command{
		Name:    "metrics",
		Summary: "show the service's per-method counters",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("metrics", pflag.ContinueOnError)
			conn.register(flags)
			return flags
		},
		Run: func(args []string) error {
			return conn.call(func(ctx context.Context, kc *client.Client) error {
				result, err := kc.Metrics(ctx)
				if err != nil {
					return err
				}
				return cli.WriteJSON(result)
			})
		},
	}
}

func healthCommand() *cli.Command {
	var conn connection

	return &cli.Command{
		Name:    "health",
		Summary: "show the service's health report",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("health", pflag.ContinueOnError)
			conn.register(flags)
			return flags
		},
		Run: func(args []string) error {
			return conn.call(func(ctx context.Context, kc *client.Client) error {
				result, err := kc.Health(ctx)
				if err != nil {
					return err
				}
				return cli.WriteJSON(result)
			})
		},
	}
}

func versionCommand() *cli.Command {
	var conn connection

	return &cli.Command{
		Name:    "version",
		Summary: "show client and service versions",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("version", pflag.ContinueOnError)
			conn.register(flags)
			return flags
		},
		Run: func(args []string) error {
			output := struct {
				Client string                  `json:"client"`
				Server *protocol.VersionResult `json:"server,omitempty"`
				Error  string                  `json:"server_error,omitempty"`
			}{Client: version.Full()}

			// The service being down shouldn't make version fail;
			// report the dial error alongside the client version.
			err := conn.call(func(ctx context.Context, kc *client.Client) error {
				result, err := kc.Version(ctx)
				if err != nil {
					return err
				}
				output.Server = &result
				return nil
			})
			if err != nil {
				output.Error = err.Error()
			}
			return cli.WriteJSON(output)
		},
	}
}
