// Copyright 2026 The PosKernel Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"

	"github.com/spf13/pflag"

	"github.com/pos-kernel/poskernel/cmd/poskernel/cli"
	"github.com/pos-kernel/poskernel/lib/client"
)

func sessionCommand() *cli.Command {
	return &cli.Command{
		Name:    "session",
		Summary: "manage terminal sessions",
		Subcommands: []*cli.Command{
			sessionCreateCommand(),
			sessionCloseCommand(),
			sessionListCommand(),
		},
	}
}

func sessionCreateCommand() *cli.Command {
	var conn connection
	var terminalID, operatorID string

	return &cli.Command{
		Name:    "create",
		Summary: "open a new session",
		Usage:   "poskernel session create --terminal <id> [--operator <id>] [flags]",
		Examples: []cli.Example{
			{Description: "open a session for terminal 3", Command: "poskernel session create --terminal TERM-3 --operator alice"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("create", pflag.ContinueOnError)
			conn.register(flags)
			flags.StringVar(&terminalID, "terminal", "", "terminal identifier (required)")
			flags.StringVar(&operatorID, "operator", "", "operator identifier")
			return flags
		},
		Run: func(args []string) error {
			if terminalID == "" {
				return fmt.Errorf("--terminal is required")
			}
			return conn.call(func(ctx context.Context, kc *client.Client) error {
				result, err := kc.CreateSession(ctx, terminalID, operatorID)
				if err != nil {
					return err
				}
				return cli.WriteJSON(result)
			})
		},
	}
}

func sessionCloseCommand() *cli.Command {
	var conn connection

	return &cli.Command{
		Name:    "close",
		Summary: "close a session and release its transactions",
		Usage:   "poskernel session close <session-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("close", pflag.ContinueOnError)
			conn.register(flags)
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("expected exactly one session id argument")
			}
			return conn.call(func(ctx context.Context, kc *client.Client) error {
				if err := kc.CloseSession(ctx, args[0]); err != nil {
					return err
				}
				return cli.WriteJSON(map[string]string{"closed": args[0]})
			})
		},
	}
}

func sessionListCommand() *cli.Command {
	var conn connection

	return &cli.Command{
		Name:    "list",
		Summary: "list live sessions",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("list", pflag.ContinueOnError)
			conn.register(flags)
			return flags
		},
		Run: func(args []string) error {
			return conn.call(func(ctx context.Context, kc *client.Client) error {
				result, err := kc.ListSessions(ctx)
				if err != nil {
					return err
				}
				return cli.WriteJSON(result)
			})
		},
	}
}
