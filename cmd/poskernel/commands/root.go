// Copyright 2026 The PosKernel Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the poskernel CLI command tree. Every
// command speaks the kernel's socket protocol through lib/client and
// prints results as JSON, so the CLI doubles as a smoke-test tool for
// the service.
package commands

import (
	"context"
	"time"

	"github.com/spf13/pflag"

	"github.com/pos-kernel/poskernel/cmd/poskernel/cli"
	"github.com/pos-kernel/poskernel/lib/client"
)

// DefaultSocket is where the service listens unless overridden.
const DefaultSocket = "/run/poskernel/kernel.sock"

// connection carries the flags shared by every command that talks to
// the service.
type connection struct {
	socket  string
	timeout time.Duration
}

func (c *connection) register(flags *pflag.FlagSet) {
	flags.StringVar(&c.socket, "socket", DefaultSocket, "kernel service socket path")
	flags.DurationVar(&c.timeout, "timeout", 5*time.Second, "request timeout")
}

// call dials the service, runs fn within the timeout, and closes the
// connection.
func (c *connection) call(fn func(ctx context.Context, kc *client.Client) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	kc, err := client.Dial(ctx, c.socket)
	if err != nil {
		return err
	}
	defer kc.Close()
	return fn(ctx, kc)
}

// Root returns the top-level poskernel command.
func Root() *cli.Command {
	return &cli.Command{
		Name:    "poskernel",
		Summary: "terminal client for the transaction kernel service",
		Description: "poskernel drives the transaction kernel service over its Unix\n" +
			"socket: sessions, transactions, payments, and service\n" +
			"observability. All output is JSON.",
		Subcommands: []*cli.Command{
			sessionCommand(),
			startCommand(),
			addCommand(),
			addChildCommand(),
			voidCommand(),
			modifyCommand(),
			payCommand(),
			showCommand(),
			journalCommand(),
			metricsCommand(),
			healthCommand(),
			versionCommand(),
		},
	}
}
