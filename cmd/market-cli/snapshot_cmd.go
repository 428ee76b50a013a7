package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ka1ii/developer-challenge/crypto"
	"github.com/ka1ii/developer-challenge/rpc"
	"github.com/ka1ii/developer-challenge/snapshot"
)

func contentID(scheme, title, body string) (string, error) {
	parsed, err := crypto.ParseHashScheme(scheme)
	if err != nil {
		return "", err
	}
	id, err := crypto.ContentID(parsed, title, body)
	if err != nil {
		return "", err
	}
	return crypto.FormatID(id), nil
}

func (c *cli) runCID(args []string) int {
	fs := c.newFlagSet("cid", cidUsage)
	var title, body, bodyFile, scheme string
	fs.StringVar(&title, "title", "", "contract title")
	fs.StringVar(&body, "body", "", "contract body")
	fs.StringVar(&bodyFile, "body-file", "", "read the contract body from a file")
	fs.StringVar(&scheme, "scheme", string(crypto.SchemeKeccak256), "content hash scheme (keccak256, sha256, blake3)")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if bodyFile != "" {
		if body != "" {
			return c.fail("--body and --body-file are mutually exclusive")
		}
		data, err := os.ReadFile(bodyFile)
		if err != nil {
			return c.fail(err.Error())
		}
		body = string(data)
	}
	if strings.TrimSpace(body) == "" {
		return c.fail("--body or --body-file is required")
	}
	id, err := contentID(scheme, title, body)
	if err != nil {
		return c.fail(err.Error())
	}
	fmt.Fprintln(c.stdout, id)
	return 0
}

func (c *cli) runExport(args []string) int {
	fs := c.newFlagSet("export", cidUsage)
	var out string
	fs.StringVar(&out, "out", "", "output parquet file (default agreements-<timestamp>.parquet)")
	if !c.parseFlags(fs, args) {
		return 1
	}
	if strings.TrimSpace(out) == "" {
		out = fmt.Sprintf("agreements-%s.parquet", time.Now().UTC().Format("20060102T150405Z"))
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
	records := make([]snapshot.Record, len(agreements))
	for i, agreement := range agreements {
		records[i] = recordFromResult(agreement)
	}
	if dir := filepath.Dir(out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return c.fail(err.Error())
		}
	}
	if err := snapshot.WriteFile(out, records); err != nil {
		return c.fail(err.Error())
	}
	fmt.Fprintf(c.stdout, "wrote %d agreements to %s\n", len(records), out)
	return 0
}

func recordFromResult(a rpc.AgreementResult) snapshot.Record {
	return snapshot.Record{
		ID:         a.ID,
		Client:     a.Client,
		Freelancer: a.Freelancer,
		Amount:     a.Amount,
		Handshake:  a.Handshake,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

func (c *cli) runInspect(args []string) int {
	if len(args) != 1 || strings.HasPrefix(args[0], "-") {
		fmt.Fprintln(c.stderr, cidUsage())
		return 1
	}
	records, err := snapshot.ReadFile(args[0])
	if err != nil {
		return c.fail(err.Error())
	}
	if records == nil {
		records = []snapshot.Record{}
	}
	return c.printJSON(records)
}

func cidUsage() string {
	return strings.TrimSpace(`Usage:
  market-cli cid --body TEXT [--title TEXT] [--scheme keccak256|sha256|blake3]
  market-cli cid --body-file PATH [--title TEXT]
  market-cli export [--out FILE]
  market-cli inspect FILE
`)
}
