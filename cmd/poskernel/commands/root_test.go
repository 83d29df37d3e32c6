// Copyright 2026 The PosKernel Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"testing"

	"github.com/pos-kernel/poskernel/cmd/poskernel/cli"
	"github.com/pos-kernel/poskernel/lib/protocol"
)

// methodCommands maps each wire method to the command path that
// invokes it.
var methodCommands = map[string][]string{
	protocol.MethodCreateSession:    {"session", "create"},
	protocol.MethodStartTransaction: {"start"},
	protocol.MethodAddLineItem:      {"add"},
	protocol.MethodAddChildLineItem: {"add-child"},
	protocol.MethodVoidLineItem:     {"void"},
	protocol.MethodModifyLineItem:   {"modify"},
	protocol.MethodProcessPayment:   {"pay"},
	protocol.MethodGetTransaction:   {"show"},
	protocol.MethodCloseSession:     {"session", "close"},
	protocol.MethodListSessions:     {"session", "list"},
	protocol.MethodMetrics:          {"metrics"},
	protocol.MethodHealth:           {"health"},
	protocol.MethodVersion:          {"version"},
}

func findCommand(root *cli.Command, path []string) *cli.Command {
	current := root
	for _, name := range path {
		var next *cli.Command
		for _, sub := range current.Subcommands {
			if sub.Name == name {
				next = sub
				break
			}
		}
		if next == nil {
			return nil
		}
		current = next
	}
	return current
}

func TestCommandTreeCoversEveryMethod(t *testing.T) {
	root := Root()
	for _, method := range protocol.Methods() {
		path, ok := methodCommands[method]
		if !ok {
			t.Errorf("no command path recorded for method %q", method)
			continue
		}
		command := findCommand(root, path)
		if command == nil {
			t.Errorf("command path %v for method %q not found in tree", path, method)
			continue
		}
		if command.Run == nil {
			t.Errorf("command %v has no Run function", path)
		}
	}
}

func TestLeafCommandsHaveSummaries(t *testing.T) {
	var walk func(command *cli.Command, path string)
	walk = func(command *cli.Command, path string) {
		if command.Summary == "" {
			t.Errorf("command %q has no summary", path)
		}
		for _, sub := range command.Subcommands {
			walk(sub, path+" "+sub.Name)
		}
	}
	walk(Root(), "poskernel")
}
