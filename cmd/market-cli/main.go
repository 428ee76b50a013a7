package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ka1ii/developer-challenge/rpc/client"
)

const defaultEndpoint = "http://127.0.0.1:8545"

// cli carries the global options shared by every subcommand.
type cli struct {
	endpoint string
	token    string
	timeout  time.Duration
	stdout   io.Writer
	stderr   io.Writer
}

func main() {
	c := &cli{
		endpoint: defaultRPCEndpoint(os.LookupEnv),
		token:    strings.TrimSpace(os.Getenv("MARKET_RPC_TOKEN")),
		timeout:  10 * time.Second,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
	}
	os.Exit(c.run(os.Args[1:]))
}

func defaultRPCEndpoint(lookup func(string) (string, bool)) string {
	if v, ok := lookup("MARKET_RPC_URL"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return defaultEndpoint
}

func (c *cli) run(args []string) int {
	args, err := c.applyGlobalFlags(args)
	if err != nil {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
		return 1
	}
	if len(args) == 0 {
		fmt.Fprintln(c.stderr, usage())
		return 1
	}
	switch args[0] {
	case "token":
		return c.runTokenCommand(args[1:])
	case "escrow":
		return c.runEscrowCommand(args[1:])
	case "cid":
		return c.runCID(args[1:])
	case "export":
		return c.runExport(args[1:])
	case "inspect":
		return c.runInspect(args[1:])
	case "help", "-h", "--help":
		fmt.Fprintln(c.stdout, usage())
		return 0
	default:
		fmt.Fprintf(c.stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(c.stderr, usage())
		return 1
	}
}

// applyGlobalFlags strips --rpc and --token from anywhere in args.
func (c *cli) applyGlobalFlags(args []string) ([]string, error) {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--rpc" || arg == "--token":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("missing value for %s", arg)
			}
			*c.globalTarget(arg) = args[i+1]
			i++
		case strings.HasPrefix(arg, "--rpc="):
			c.endpoint = strings.TrimPrefix(arg, "--rpc=")
		case strings.HasPrefix(arg, "--token="):
			c.token = strings.TrimPrefix(arg, "--token=")
		default:
			out = append(out, arg)
		}
	}
	return out, nil
}

func (c *cli) globalTarget(flagName string) *string {
	if flagName == "--rpc" {
		return &c.endpoint
	}
	return &c.token
}

func (c *cli) client() (*client.Client, error) {
	return client.New(client.Options{Endpoint: c.endpoint, AuthToken: c.token, Timeout: c.timeout})
}

func (c *cli) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

func (c *cli) fail(msg string) int {
	fmt.Fprintf(c.stderr, "Error: %s\n", msg)
	return 1
}

func (c *cli) failRPC(err error) int {
	fmt.Fprintf(c.stderr, "RPC call failed: %v\n", err)
	return 1
}

func (c *cli) printJSON(v interface{}) int {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return c.fail(err.Error())
	}
	return 0
}

// parseAmount accepts base-unit integers with optional "_" separators and
// the 100e18 shorthand.
func parseAmount(value string) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(value), "_", "")
	if trimmed == "" {
		return nil, fmt.Errorf("--amount is required")
	}
	var exponent int
	base := trimmed
	if idx := strings.IndexAny(trimmed, "eE"); idx != -1 {
		base = trimmed[:idx]
		expValue, err := strconv.ParseInt(strings.TrimSpace(trimmed[idx+1:]), 10, 32)
		if err != nil || expValue < 0 {
			return nil, fmt.Errorf("invalid scientific notation in --amount")
		}
		exponent = int(expValue)
	}
	base = strings.TrimPrefix(base, "+")
	if strings.HasPrefix(base, "-") {
		return nil, fmt.Errorf("--amount must not be negative")
	}
	parts := strings.Split(base, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid amount format")
	}
	fractional := ""
	if len(parts) == 2 {
		fractional = strings.TrimRight(parts[1], "0")
	}
	digits := parts[0] + fractional
	if digits == "" || !isDigits(digits) {
		return nil, fmt.Errorf("invalid amount format")
	}
	if len(fractional) > exponent {
		return nil, fmt.Errorf("--amount must be an integer number of base units")
	}
	amount, ok := new(big.Int).SetString(digits+strings.Repeat("0", exponent-len(fractional)), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount format")
	}
	return amount, nil
}

func isDigits(value string) bool {
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func usage() string {
	return strings.TrimSpace(`Usage:
  market-cli [--rpc URL] [--token TOKEN] <command> [flags]

Commands:
  token    Token queries and transfers (metadata, decimals, balance, allowance,
           mint, transfer, approve, transfer-from)
  escrow   Agreement lifecycle (vault, create, fund, approve, release, get,
           list, custody)
  cid      Compute the content id of a contract title and body
  export   Write every agreement to a parquet snapshot
  inspect  Print the agreements stored in a parquet snapshot

The node endpoint defaults to MARKET_RPC_URL and the bearer token to
MARKET_RPC_TOKEN.
`)
}
