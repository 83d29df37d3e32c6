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

// transactionTarget carries the flags addressing one transaction.
type transactionTarget struct {
	sessionID     string
	transactionID string
}

func (t *transactionTarget) register(flags *pflag.FlagSet) {
	flags.StringVar(&t.sessionID, "session", "", "session id (required)")
	flags.StringVar(&t.transactionID, "txn", "", "transaction id (required)")
}

func (t *transactionTarget) validate() error {
	if t.sessionID == "" {
		return fmt.Errorf("--session is required")
	}
	if t.transactionID == "" {
		return fmt.Errorf("--txn is required")
	}
	return nil
}

func startCommand() *cli.Command {
	var conn connection
	var sessionID, currency, store string

	return &cli.Command{
		Name:    "start",
		Summary: "start a transaction in a session",
		Usage:   "poskernel start --session <id> --currency <code> [--store <id>] [flags]",
		Examples: []cli.Example{
			{Description: "start a Singapore dollar sale", Command: "poskernel start --session sess_ABC --currency SGD --store S1"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("start", pflag.ContinueOnError)
			conn.register(flags)
			flags.StringVar(&sessionID, "session", "", "session id (required)")
			flags.StringVar(&currency, "currency", "", "transaction currency code (required)")
			flags.StringVar(&store, "store", "", "store identifier")
			return flags
		},
		Run: func(args []string) error {
			if sessionID == "" {
				return fmt.Errorf("--session is required")
			}
			if currency == "" {
				return fmt.Errorf("--currency is required")
			}
			return conn.call(func(ctx context.Context, kc *client.Client) error {
				result, err := kc.StartTransaction(ctx, sessionID, currency, store)
				if err != nil {
					return err
				}
				return cli.WriteJSON(result)
			})
		},
	}
}

func addCommand() *cli.Command {
	var conn connection
	var target transactionTarget
	var productID, unitPrice string
	var quantity int

	return &cli.Command{
		Name:    "add",
		Summary: "add a line item",
		Usage:   "poskernel add --session <id> --txn <id> --product <id> --qty <n> --price <amount> [flags]",
		Examples: []cli.Example{
			{Description: "two coffees at 1.80 each", Command: "poskernel add --session sess_ABC --txn txn_123 --product KOPI --qty 2 --price 1.80"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("add", pflag.ContinueOnError)
			conn.register(flags)
			target.register(flags)
			flags.StringVar(&productID, "product", "", "product identifier (required)")
			flags.IntVar(&quantity, "qty", 1, "quantity")
			flags.StringVar(&unitPrice, "price", "", "unit price in major units, e.g. 1.80 (required)")
			return flags
		},
		Run: func(args []string) error {
			if err := target.validate(); err != nil {
				return err
			}
			if productID == "" {
				return fmt.Errorf("--product is required")
			}
			if unitPrice == "" {
				return fmt.Errorf("--price is required")
			}
			return conn.call(func(ctx context.Context, kc *client.Client) error {
				result, err := kc.AddLineItem(ctx, target.sessionID, target.transactionID, productID, quantity, unitPrice)
				if err != nil {
					return err
				}
				return cli.WriteJSON(result)
			})
		},
	}
}

func addChildCommand() *cli.Command {
	var conn connection
	var target transactionTarget
	var productID, unitPrice string
	var quantity, parentLine int

	return &cli.Command{
		Name:    "add-child",
		Summary: "add a line item linked under a parent line",
		Usage:   "poskernel add-child --session <id> --txn <id> --product <id> --qty <n> --price <amount> --parent <line> [flags]",
		Examples: []cli.Example{
			{Description: "an extra shot on line 1", Command: "poskernel add-child --session sess_ABC --txn txn_123 --product EXTRA_SHOT --qty 1 --price 0.50 --parent 1"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("add-child", pflag.ContinueOnError)
			conn.register(flags)
			target.register(flags)
			flags.StringVar(&productID, "product", "", "product identifier (required)")
			flags.IntVar(&quantity, "qty", 1, "quantity")
			flags.StringVar(&unitPrice, "price", "", "unit price in major units (required)")
			flags.IntVar(&parentLine, "parent", 0, "parent line number (required)")
			return flags
		},
		Run: func(args []string) error {
			if err := target.validate(); err != nil {
				return err
			}
			if productID == "" {
				return fmt.Errorf("--product is required")
			}
			if unitPrice == "" {
				return fmt.Errorf("--price is required")
			}
			if parentLine <= 0 {
				return fmt.Errorf("--parent is required and must be positive")
			}
			return conn.call(func(ctx context.Context, kc *client.Client) error {
				result, err := kc.AddChildLineItem(ctx, target.sessionID, target.transactionID, productID, quantity, unitPrice, parentLine)
				if err != nil {
					return err
				}
				return cli.WriteJSON(result)
			})
		},
	}
}

func voidCommand() *cli.Command {
	var conn connection
	var target transactionTarget
	var lineItemID string

	return &cli.Command{
		Name:    "void",
		Summary: "void a line item",
		Usage:   "poskernel void --session <id> --txn <id> --line <line-item-id> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("void", pflag.ContinueOnError)
			conn.register(flags)
			target.register(flags)
			flags.StringVar(&lineItemID, "line", "", "line item id (required)")
			return flags
		},
		Run: func(args []string) error {
			if err := target.validate(); err != nil {
				return err
			}
			if lineItemID == "" {
				return fmt.Errorf("--line is required")
			}
			return conn.call(func(ctx context.Context, kc *client.Client) error {
				result, err := kc.VoidLineItem(ctx, target.sessionID, target.transactionID, lineItemID)
				if err != nil {
					return err
				}
				return cli.WriteJSON(result)
			})
		},
	}
}

func modifyCommand() *cli.Command {
	var conn connection
	var target transactionTarget
	var lineItemID string
	var quantity int

	return &cli.Command{
		Name:    "modify",
		Summary: "change a line item's quantity",
		Usage:   "poskernel modify --session <id> --txn <id> --line <line-item-id> --qty <n> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("modify", pflag.ContinueOnError)
			conn.register(flags)
			target.register(flags)
			flags.StringVar(&lineItemID, "line", "", "line item id (required)")
			flags.IntVar(&quantity, "qty", 0, "replacement quantity (required)")
			return flags
		},
		Run: func(args []string) error {
			if err := target.validate(); err != nil {
				return err
			}
			if lineItemID == "" {
				return fmt.Errorf("--line is required")
			}
			if quantity <= 0 {
				return fmt.Errorf("--qty is required and must be positive")
			}
			return conn.call(func(ctx context.Context, kc *client.Client) error {
				result, err := kc.ModifyLineItem(ctx, target.sessionID, target.transactionID, lineItemID, quantity)
				if err != nil {
					return err
				}
				return cli.WriteJSON(result)
			})
		},
	}
}

func payCommand() *cli.Command {
	var conn connection
	var target transactionTarget
	var amount, paymentType string

	return &cli.Command{
		Name:    "pay",
		Summary: "tender payment against a transaction",
		Usage:   "poskernel pay --session <id> --txn <id> --amount <amount> [--type <kind>] [flags]",
		Examples: []cli.Example{
			{Description: "pay ten dollars cash", Command: "poskernel pay --session sess_ABC --txn txn_123 --amount 10.00 --type cash"},
		},
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("pay", pflag.ContinueOnError)
			conn.register(flags)
			target.register(flags)
			flags.StringVar(&amount, "amount", "", "tender amount in major units (required)")
			flags.StringVar(&paymentType, "type", "cash", "payment type")
			return flags
		},
		Run: func(args []string) error {
			if err := target.validate(); err != nil {
				return err
			}
			if amount == "" {
				return fmt.Errorf("--amount is required")
			}
			return conn.call(func(ctx context.Context, kc *client.Client) error {
				result, err := kc.ProcessPayment(ctx, target.sessionID, target.transactionID, amount, paymentType)
				if err != nil {
					return err
				}
				return cli.WriteJSON(result)
			})
		},
	}
}

func showCommand() *cli.Command {
	var conn connection
	var target transactionTarget

	return &cli.Command{
		Name:    "show",
		Summary: "show a transaction's full state",
		Usage:   "poskernel show --session <id> --txn <id> [flags]",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("show", pflag.ContinueOnError)
			conn.register(flags)
			target.register(flags)
			return flags
		},
		Run: func(args []string) error {
			if err := target.validate(); err != nil {
				return err
			}
			return conn.call(func(ctx context.Context, kc *client.Client) error {
				result, err := kc.GetTransaction(ctx, target.sessionID, target.transactionID)
				if err != nil {
					return err
				}
				return cli.WriteJSON(result)
			})
		},
	}
}
