package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/trezcool/elimu/core/subscription"
)

var errHelp = errors.New("help provided")

type expiryScanner interface {
	Scan(ctx context.Context, now time.Time) (subscription.ScanResult, error)
}

type commandLine struct {
	db      *sql.DB
	scanner expiryScanner
	out     io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose migration command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  scan-expiring [-at RFC3339] - warn users whose subscription is about to expire")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	scanCmd := flag.NewFlagSet("scan-expiring", flag.ContinueOnError)
	scanCmd.SetOutput(cli.out)
	scanAt := scanCmd.String("at", "", "Reference time of the sweep (RFC3339). Defaults to now.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	case "scan-expiring":
		if err := scanCmd.Parse(args[2:]); err != nil {
			return err
		}
		now := time.Now()
		if *scanAt != "" {
			at, err := time.Parse(time.RFC3339, *scanAt)
			if err != nil {
				scanCmd.Usage()
				return errHelp
			}
			now = at
		}
		return cli.scanExpiring(now)
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) scanExpiring(now time.Time) error {
	res, err := cli.scanner.Scan(context.Background(), now)
	if err != nil {
		return err
	}
	return json.NewEncoder(cli.out).Encode(res)
}
