// protectctl is the operator CLI: offline quote rating and canonical hashing
// of JSON payloads, for debugging ledger mismatches without a running
// service.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/terryholliday/proveniq-protect/pkg/canonical"
	"github.com/terryholliday/proveniq-protect/pkg/pricing"
)

const usage = "usage: protectctl quote rate --context <path> | protectctl hash --file <path> [--strip-sig]"

func main() {
	if len(os.Args) < 2 {
		fail(usage)
		os.Exit(2)
	}
	switch os.Args[1] {
	case "quote":
		runQuote(os.Args[2:])
	case "hash":
		runHash(os.Args[2:])
	default:
		fail("unknown command " + os.Args[1])
		os.Exit(2)
	}
}

func runQuote(args []string) {
	if len(args) < 1 || args[0] != "rate" {
		fail(usage)
		os.Exit(2)
	}
	fs := flag.NewFlagSet("quote rate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	contextPath := fs.String("context", "", "path to pricing context json")
	if err := fs.Parse(args[1:]); err != nil {
		fail(err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*contextPath) == "" {
		fail("--context is required")
		os.Exit(2)
	}

	raw, err := os.ReadFile(*contextPath)
	if err != nil {
		fail("read context failed: " + err.Error())
		os.Exit(1)
	}
	var pctx pricing.Context
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&pctx); err != nil {
		fail("parse context failed: " + err.Error())
		os.Exit(1)
	}

	result, err := pricing.CalculatePremium(pctx)
	if err != nil {
		fail(err.Error())
		os.Exit(1)
	}
	printJSON(result)
}

func runHash(args []string) {
	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	filePath := fs.String("file", "", "path to json payload")
	stripSig := fs.Bool("strip-sig", false, "remove signature fields before hashing")
	if err := fs.Parse(args); err != nil {
		fail(err.Error())
		os.Exit(2)
	}
	if strings.TrimSpace(*filePath) == "" {
		fail("--file is required")
		os.Exit(2)
	}

	raw, err := os.ReadFile(*filePath)
	if err != nil {
		fail("read file failed: " + err.Error())
		os.Exit(1)
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		fail("parse json failed: " + err.Error())
		os.Exit(1)
	}
	if *stripSig {
		stripped, err := canonical.StripSig(payload)
		if err != nil {
			fail(err.Error())
			os.Exit(1)
		}
		payload = stripped
	}

	canon, err := canonical.Canonicalize(payload)
	if err != nil {
		fail(err.Error())
		os.Exit(1)
	}
	printJSON(map[string]any{
		"canonical_hash_hex": canonical.Hash256Hex(canon),
		"canonical_bytes":    len(canon),
		"sig_stripped":       *stripSig,
	})
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, "protectctl: "+msg)
}
