package main

import (
	"flag"
	"fmt"
	"strings"
)

func (c *cli) runTokenCommand(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(c.stderr, tokenUsage())
		return 1
	}
	switch args[0] {
	case "metadata":
		return c.runTokenMetadata(args[1:])
	case "decimals":
		return c.runTokenDecimals(args[1:])
	case "balance":
		return c.runTokenBalance(args[1:])
	case "allowance":
		return c.runTokenAllowance(args[1:])
	case "mint":
		return c.runTokenMint(args[1:])
	case "transfer":
		return c.runTokenTransfer(args[1:])
	case "approve":
		return c.runTokenApprove(args[1:])
	case "transfer-from":
		return c.runTokenTransferFrom(args[1:])
	default:
		fmt.Fprintf(c.stderr, "Unknown token subcommand: %s\n", args[0])
		fmt.Fprintln(c.stderr, tokenUsage())
		return 1
	}
}

func (c *cli) newFlagSet(name string, usage func() string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	fs.Usage = func() { fmt.Fprintln(c.stderr, usage()) }
	return fs
}

// parseFlags parses args and reports a missing required flag by name.
func (c *cli) parseFlags(fs *flag.FlagSet, args []string, required ...string) bool {
	if err := fs.Parse(args); err != nil {
		return false
	}
	if fs.NArg() > 0 {
		c.fail("unexpected positional arguments")
		return false
	}
	for _, name := range required {
		if f := fs.Lookup(name); f == nil || strings.TrimSpace(f.Value.String()) == "" {
			c.fail(fmt.Sprintf("--%s is required", name))
			return false
		}
	}
	return true
}

func (c *cli) runTokenMetadata(args []string) int {
	fs := c.newFlagSet("token metadata", tokenUsage)
	if !c.parseFlags(fs, args) {
		return 1
	}
	rpcClient, err := c.client()
	if err != nil {
		return c.fail(err.Error())
	}
	ctx, cancel := c.context()
	defer cancel()
	meta, err := rpcClient.TokenMetadata(ctx)
	if err != nil {
		return c.failRPC(err)
	}
	return c.printJSON(meta)
}

func (c *cli) runTokenDecimals(args []string) int {
	fs := c.newFlagSet("token decimals", tokenUsage)
	if !c.parseFlags(fs, args) {
		return 1
	}
	rpcClient, err := c.client()
	if err != nil {
		return c.fail(err.Error())
	}
	ctx, cancel := c.context()
	defer cancel()
	decimals, err := rpcClient.Decimals(ctx)
	if err != nil {
		return c.failRPC(err)
	}
	fmt.Fprintln(c.stdout, decimals)
	return 0
}

func (c *cli) runTokenBalance(args []string) int {
	fs := c.newFlagSet("token balance", tokenUsage)
	var owner string
	fs.StringVar(&owner, "address", "", "account (bech32 or 0x hex)")
	if !c.parseFlags(fs, args, "address") {
		return 1
	}
	rpcClient, err := c.client()
	if err != nil {
		return c.fail(err.Error())
	}
	ctx, cancel := c.context()
	defer cancel()
	balance, err := rpcClient.BalanceOf(ctx, owner)
	if err != nil {
		return c.failRPC(err)
	}
	fmt.Fprintln(c.stdout, balance.String())
	return 0
}

func (c *cli) runTokenAllowance(args []string) int {
	fs := c.newFlagSet("token allowance", tokenUsage)
	var owner, spender string
	fs.StringVar(&owner, "owner", "", "owner account")
	fs.StringVar(&spender, "spender", "", "spender account")
	if !c.parseFlags(fs, args, "owner", "spender") {
		return 1
	}
	rpcClient, err := c.client()
	if err != nil {
		return c.fail(err.Error())
	}
	ctx, cancel := c.context()
	defer cancel()
	allowance, err := rpcClient.Allowance(ctx, owner, spender)
	if err != nil {
		return c.failRPC(err)
	}
	fmt.Fprintln(c.stdout, allowance.String())
	return 0
}

func (c *cli) runTokenMint(args []string) int {
	fs := c.newFlagSet("token mint", tokenUsage)
	var caller, amountStr string
	fs.StringVar(&caller, "caller", "", "account credited with the minted amount")
	fs.StringVar(&amountStr, "amount", "", "amount in base units (supports 100e18 shorthand)")
	if !c.parseFlags(fs, args, "caller", "amount") {
		return 1
	}
	amount, err := parseAmount(amountStr)
	if err != nil {
		return c.fail(err.Error())
	}
	rpcClient, err := c.client()
	if err != nil {
		return c.fail(err.Error())
	}
	ctx, cancel := c.context()
	defer cancel()
	balance, err := rpcClient.Mint(ctx, caller, amount)
	if err != nil {
		return c.failRPC(err)
	}
	fmt.Fprintln(c.stdout, balance.String())
	return 0
}

func (c *cli) runTokenTransfer(args []string) int {
	fs := c.newFlagSet("token transfer", tokenUsage)
	var caller, to, amountStr string
	fs.StringVar(&caller, "caller", "", "sending account")
	fs.StringVar(&to, "to", "", "receiving account")
	fs.StringVar(&amountStr, "amount", "", "amount in base units")
	if !c.parseFlags(fs, args, "caller", "to", "amount") {
		return 1
	}
	amount, err := parseAmount(amountStr)
	if err != nil {
		return c.fail(err.Error())
	}
	rpcClient, err := c.client()
	if err != nil {
		return c.fail(err.Error())
	}
	ctx, cancel := c.context()
	defer cancel()
	balance, err := rpcClient.Transfer(ctx, caller, to, amount)
	if err != nil {
		return c.failRPC(err)
	}
	fmt.Fprintln(c.stdout, balance.String())
	return 0
}

func (c *cli) runTokenApprove(args []string) int {
	fs := c.newFlagSet("token approve", tokenUsage)
	var caller, spender, amountStr string
	fs.StringVar(&caller, "caller", "", "owner granting the allowance")
	fs.StringVar(&spender, "spender", "", "account allowed to spend")
	fs.StringVar(&amountStr, "amount", "", "allowance in base units")
	if !c.parseFlags(fs, args, "caller", "spender", "amount") {
		return 1
	}
	amount, err := parseAmount(amountStr)
	if err != nil {
		return c.fail(err.Error())
	}
	rpcClient, err := c.client()
	if err != nil {
		return c.fail(err.Error())
	}
	ctx, cancel := c.context()
	defer cancel()
	if err := rpcClient.Approve(ctx, caller, spender, amount); err != nil {
		return c.failRPC(err)
	}
	fmt.Fprintln(c.stdout, "ok")
	return 0
}

func (c *cli) runTokenTransferFrom(args []string) int {
	fs := c.newFlagSet("token transfer-from", tokenUsage)
	var caller, owner, to, amountStr string
	fs.StringVar(&caller, "caller", "", "spender executing the transfer")
	fs.StringVar(&owner, "owner", "", "account debited")
	fs.StringVar(&to, "to", "", "receiving account")
	fs.StringVar(&amountStr, "amount", "", "amount in base units")
	if !c.parseFlags(fs, args, "caller", "owner", "to", "amount") {
		return 1
	}
	amount, err := parseAmount(amountStr)
	if err != nil {
		return c.fail(err.Error())
	}
	rpcClient, err := c.client()
	if err != nil {
		return c.fail(err.Error())
	}
	ctx, cancel := c.context()
	defer cancel()
	balance, err := rpcClient.TransferFrom(ctx, caller, owner, to, amount)
	if err != nil {
		return c.failRPC(err)
	}
	fmt.Fprintln(c.stdout, balance.String())
	return 0
}

func tokenUsage() string {
	return strings.TrimSpace(`Usage:
  market-cli token <command> [flags]

Commands:
  metadata       Show the registered token
  decimals       Show the token decimals
  balance        --address ACCOUNT
  allowance      --owner ACCOUNT --spender ACCOUNT
  mint           --caller ACCOUNT --amount N
  transfer       --caller ACCOUNT --to ACCOUNT --amount N
  approve        --caller ACCOUNT --spender ACCOUNT --amount N
  transfer-from  --caller ACCOUNT --owner ACCOUNT --to ACCOUNT --amount N
`)
}
