// Command docseal signs and verifies PDF documents from the command line
// using the same configuration as the service daemon.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/docseal/docseal/config"
	"github.com/docseal/docseal/internal/logging"
	"github.com/docseal/docseal/signer"
)

func usage() {
	fmt.Printf("Usage: %s <command> [options] <args>\n\n", os.Args[0])
	fmt.Println("Commands:")
	fmt.Println("  sign      Sign a PDF file:   sign <input.pdf> <output.pdf>")
	fmt.Println("  verify    Verify a PDF file: verify <input.pdf>")
	fmt.Println("  sign-data Sign raw bytes:    sign-data <input>")
	fmt.Println("")
	fmt.Printf("Configuration is read from the environment, see .env.example\n")
	os.Exit(1)
}

func main() {
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		fail(err)
	}
	log := logging.New(cfg.AppEnv, "info")
	defer func() { _ = log.Sync() }()

	svc, err := signer.NewFromConfig(cfg, log)
	if err != nil {
		fail(err)
	}

	switch args[0] {
	case "sign":
		if len(args) != 3 {
			usage()
		}
		if err := runSign(svc, args[1], args[2]); err != nil {
			fail(err)
		}
	case "verify":
		if len(args) != 2 {
			usage()
		}
		if err := runVerify(svc, args[1]); err != nil {
			fail(err)
		}
	case "sign-data":
		if len(args) != 2 {
			usage()
		}
		if err := runSignData(svc, args[1]); err != nil {
			fail(err)
		}
	default:
		usage()
	}
}

func runSign(svc *signer.Service, inputPath, outputPath string) error {
	input, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}

	signed, meta, err := svc.SignPDF(context.Background(), input)
	if err != nil {
		return err
	}

	if err := os.WriteFile(outputPath, signed, 0o644); err != nil {
		return err
	}

	return printJSON(meta)
}

func runVerify(svc *signer.Service, inputPath string) error {
	input, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}

	result, err := svc.Verify(input)
	if err != nil {
		return err
	}

	if err := printJSON(result); err != nil {
		return err
	}
	if !result.Valid {
		os.Exit(2)
	}
	return nil
}

func runSignData(svc *signer.Service, inputPath string) error {
	input, err := os.ReadFile(inputPath)
	if err != nil {
		return err
	}

	meta, err := svc.SignDocument(input)
	if err != nil {
		return err
	}
	return printJSON(meta)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
