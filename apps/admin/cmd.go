package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/cleanup"
	"github.com/trezcool/masomo-live/core/device"
)

var (
	isTerminalFunc  = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) } // mockable
	readConfirmFunc = readConfirm                                               // mockable

	errHelp    = errors.New("help provided")
	errAborted = errors.New("aborted")
)

// cliAdminID identifies the operator of the CLI in logs and device removals.
const cliAdminID = "admin-cli"

type (
	// Sweeper runs the inactive device cleanup.
	Sweeper interface {
		RunOnce(ctx context.Context) (cleanup.Report, error)
		RunSchool(ctx context.Context, schoolID string) (int, error)
	}

	commandLine struct {
		db      *sql.DB
		devices device.ServiceInterface
		sweeper Sweeper
		out     io.Writer
	}
)

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose migration command (up, down, status, ...)")
	fmt.Fprintln(cli.out, "  cleanup [-school SCHOOL_ID] [-yes] - deactivate the devices unused for the schools' cleanup window")
	fmt.Fprintln(cli.out, "  logoutdevice -school SCHOOL_ID -id DEVICE_ID - deactivate a device")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	cleanupCmd := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	cleanupCmd.SetOutput(cli.out)
	cleanupSchool := cleanupCmd.String("school", "", "Only sweep this school. All schools are swept when empty.")
	cleanupYes := cleanupCmd.Bool("yes", false, "Do not ask for confirmation.")

	logoutCmd := flag.NewFlagSet("logoutdevice", flag.ContinueOnError)
	logoutCmd.SetOutput(cli.out)
	logoutSchool := logoutCmd.String("school", "", "The school of the device.")
	logoutID := logoutCmd.String("id", "", "The device ID.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "cleanup":
		if err := cleanupCmd.Parse(args[2:]); err != nil {
			return err
		}
		school := core.CleanString(*cleanupSchool)
		if !*cleanupYes {
			target := "ALL schools"
			if school != "" {
				target = "school " + school
			}
			if err := cli.confirm(fmt.Sprintf("Deactivate the inactive devices of %s?", target)); err != nil {
				return err
			}
		}
		return cli.cleanup(school)

	case "logoutdevice":
		if err := logoutCmd.Parse(args[2:]); err != nil {
			return err
		}
		school, id := core.CleanString(*logoutSchool), core.CleanString(*logoutID)
		if school == "" || id == "" {
			logoutCmd.Usage()
			return errHelp
		}
		return cli.logoutDevice(school, id)

	default:
		cli.printUsage()
		return errHelp
	}
}

// confirm asks the operator to confirm a destructive command. Non-interactive runs must pass -yes.
func (cli *commandLine) confirm(question string) error {
	if !isTerminalFunc() {
		return errors.New("not a terminal: use -yes to confirm")
	}
	fmt.Fprintf(cli.out, "%s [y/N]: ", question)
	answer, err := readConfirmFunc()
	fmt.Fprintln(cli.out)
	if err != nil {
		return err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return nil
	default:
		return errAborted
	}
}

func readConfirm() (string, error) {
	return bufio.NewReader(os.Stdin).ReadString('\n')
}
