package main

import (
	"fmt"
	"strings"

	"github.com/ka1ii/developer-challenge/crypto"
)

func (c *cli) runEscrowCommand(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(c.stderr, escrowUsage())
		return 1
	}
	switch args[0] {
	case "vault":
		return c.runEscrowVault(args[1:])
	case "create":
		return c.runEscrowCreate(args[1:])
	case "fund":
		return c.runEscrowFund(args[1:])
	case "approve":
		return c.runEscrowApprove(args[1:])
	case "release":
		return c.runEscrowRelease(args[1:])
	case "get":
		return c.runEscrowGet(args[1:])
	case "list":
		return c.runEscrowList(args[1:])
	case "custody":
		return c.runEscrowCustody(args[1:])
	default:
		fmt.Fprintf(c.stderr, "Unknown escrow subcommand: %s\n", args[0])
		fmt.Fprintln(c.stderr, escrowUsage())
		return 1
	}
}

func (c *cli) runEscrowVault(args []string) int {
	fs := c.newFlagSet("escrow vault", escrowUsage)
	if !c.parseFlags(fs, args) {
		return 1
	}
	rpcClient, err := c.client()
	if err != nil {
		return c.fail(err.Error())
	}
	ctx, cancel := c.context()
	defer cancel()
	vault, err := rpcClient.Vault(ctx)
	if err != nil {
		return c.failRPC(err)
	}
	fmt.Fprintln(c.stdout, vault)
	return 0
}

func (c *cli) runEscrowCreate(args []string) int {
	fs := c.newFlagSet("escrow create", escrowUsage)
	var id, title, body, scheme, caller, freelancer, amountStr string
	fs.StringVar(&id, "id", "", "0x-prefixed agreement id; derived from --title/--body when omitted")
	fs.StringVar(&title, "title", "", "contract title used to derive the id")
	fs.StringVar(&body, "body", "", "contract body used to derive the id")
	fs.StringVar(&scheme, "scheme", string(crypto.SchemeKeccak256), "content hash scheme (keccak256, sha256, blake3)")
	fs.StringVar(&caller, "caller", "", "client account")
	fs.StringVar(&freelancer, "freelancer", "", "freelancer account")
	fs.StringVar(&amountStr, "amount", "", "initial escrow amount in base units")
	if !c.parseFlags(fs, args, "caller", "freelancer", "amount") {
		return 1
	}
	if strings.TrimSpace(id) == "" {
		if strings.TrimSpace(body) == "" {
			return c.fail("--id or --body is required")
		}
		derived, err := contentID(scheme, title, body)
		if err != nil {
			return c.fail(err.Error())
		}
		id = derived
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
	agreement, err := rpcClient.CreateAgreement(ctx, id, caller, freelancer, amount)
	if err != nil {
		return c.failRPC(err)
	}
	return c.printJSON(agreement)
}

func (c *cli) runEscrowFund(args []string) int {
	fs := c.newFlagSet("escrow fund", escrowUsage)
	var id, caller, amountStr string
	fs.StringVar(&id, "id", "", "agreement id")
	fs.StringVar(&caller, "caller", "", "client account")
	fs.StringVar(&amountStr, "amount", "", "amount to add in base units")
	if !c.parseFlags(fs, args, "id", "caller", "amount") {
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
	agreement, err := rpcClient.AddFunds(ctx, id, caller, amount)
	if err != nil {
		return c.failRPC(err)
	}
	return c.printJSON(agreement)
}

func (c *cli) runEscrowApprove(args []string) int {
	fs := c.newFlagSet("escrow approve", escrowUsage)
	var id, caller string
	fs.StringVar(&id, "id", "", "agreement id")
	fs.StringVar(&caller, "caller", "", "freelancer account")
	if !c.parseFlags(fs, args, "id", "caller") {
		return 1
	}
	rpcClient, err := c.client()
	if err != nil {
		return c.fail(err.Error())
	}
	ctx, cancel := c.context()
	defer cancel()
	agreement, err := rpcClient.ApproveAgreement(ctx, id, caller)
	if err != nil {
		return c.failRPC(err)
	}
	return c.printJSON(agreement)
}

func (c *cli) runEscrowRelease(args []string) int {
	fs := c.newFlagSet("escrow release", escrowUsage)
	var id, caller, amountStr string
	fs.StringVar(&id, "id", "", "agreement id")
	fs.StringVar(&caller, "caller", "", "client account")
	fs.StringVar(&amountStr, "amount", "", "amount to pay the freelancer in base units")
	if !c.parseFlags(fs, args, "id", "caller", "amount") {
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
	agreement, err := rpcClient.ReleaseFunds(ctx, id, caller, amount)
	if err != nil {
		return c.failRPC(err)
	}
	return c.printJSON(agreement)
}

func (c *cli) runEscrowGet(args []string) int {
	fs := c.newFlagSet("escrow get", escrowUsage)
	var id string
	fs.StringVar(&id, "id", "", "agreement id")
	if !c.parseFlags(fs, args, "id") {
		return 1
	}
	rpcClient, err := c.client()
	if err != nil {
		return c.fail(err.Error())
	}
	ctx, cancel := c.context()
	defer cancel()
	agreement, err := rpcClient.GetAgreement(ctx, id)
	if err != nil {
		return c.failRPC(err)
	}
	return c.printJSON(agreement)
}

func (c *cli) runEscrowList(args []string) int {
	fs := c.newFlagSet("escrow list", escrowUsage)
	if !c.parseFlags(fs, args) {
		return 1
	}
	rpcClient, err := c.client()
	if err != nil {
		return c.fail(err.Error())
	}
	ctx, cancel := c.context()
	defer cancel()
	agreements, err := rpcClient.ListAgreements(ctx)
	if err != nil {
		return c.failRPC(err)
	}
	return c.printJSON(agreements)
}

func (c *cli) runEscrowCustody(args []string) int {
	fs := c.newFlagSet("escrow custody", escrowUsage)
	if !c.parseFlags(fs, args) {
		return 1
	}
	rpcClient, err := c.client()
	if err != nil {
		return c.fail(err.Error())
	}
	ctx, cancel := c.context()
	defer cancel()
	custody, err := rpcClient.Custody(ctx)
	if err != nil {
		return c.failRPC(err)
	}
	return c.printJSON(custody)
}

func escrowUsage() string {
	return strings.TrimSpace(`Usage:
  market-cli escrow <command> [flags]

Commands:
  vault    Show the ledger vault address holding escrowed funds
  create   --caller CLIENT --freelancer ACCOUNT --amount N (--id CID | --title T --body B [--scheme S])
  fund     --id CID --caller CLIENT --amount N
  approve  --id CID --caller FREELANCER
  release  --id CID --caller CLIENT --amount N
  get      --id CID
  list     List every agreement in creation order
  custody  Compare the vault balance with the escrowed total
`)
}
