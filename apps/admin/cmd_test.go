package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strconv"
	"testing"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core/cleanup"
	"github.com/trezcool/masomo-live/core/device"
	"github.com/trezcool/masomo-live/core/tenant"
	inmemdb "github.com/trezcool/masomo-live/storage/database/inmem"
	"github.com/trezcool/masomo-live/testutil"
)

var devRepo device.Repository

func setup(t *testing.T) *commandLine {
	conf := testutil.NewConfig()
	logger := testutil.NewLogger()

	// set up DB & repos
	db := inmemdb.Open()
	devRepo = inmemdb.NewDeviceRepository(db)
	tenants := tenant.NewService(inmemdb.NewTenantRepository(db), nil, logger)
	devices := device.NewService(devRepo, tenants, nil, logger, conf)

	// start CLI
	return &commandLine{
		devices: devices,
		sweeper: cleanup.NewScheduler(devices, tenants, logger, conf),
		out:     new(bytes.Buffer),
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func checkErr(t *testing.T, tt cliTest, err error) {
	t.Helper()
	switch {
	case err == nil:
		if tt.wantErr != nil || tt.wantErrStr != "" {
			t.Errorf("cli.run() error = nil, wantErr %v%s", tt.wantErr, tt.wantErrStr)
		}
	case tt.wantErr != nil:
		if pkgerrors.Cause(err) != tt.wantErr {
			t.Errorf("cli.run() error = %v, wantErr %v", err, tt.wantErr)
		}
	case tt.wantErrStr != "":
		if err.Error() != tt.wantErrStr {
			t.Errorf("cli.run() error.Error() = %s, wantErrStr %s", err.Error(), tt.wantErrStr)
		}
	default:
		t.Errorf("cli.run() unexpected error = %v", err)
	}
}

func Test_commandLine_run(t *testing.T) {
	cli := setup(t)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
		{name: "migrate: no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "logoutdevice: no args", args: []string{"logoutdevice"}, wantErr: errHelp},
		{name: "logoutdevice: no school", args: []string{"logoutdevice", "-id", "dev-1"}, wantErr: errHelp},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, tt, cli.run(args))
		})
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	gooseRunFunc = func(command string, db *sql.DB, fsys fs.FS, dir string, args ...string) error {
		if dir != "migrations" {
			return fmt.Errorf("unexpected migrations dir %q", dir)
		}
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to", "down-to":
			if len(args) == 0 {
				return fmt.Errorf("%s must be of form: goose [OPTIONS] DRIVER DBSTRING %s VERSION", command, command)
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "create", args: []string{"migrate", "create", "polls", "sql"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, tt, cli.run(args))
		})
	}
}

func Test_commandLine_cleanup(t *testing.T) {
	type extra struct {
		terminal bool
		answer   string
	}
	tests := []cliTest{
		{name: "not a terminal", args: []string{"cleanup"}, wantErrStr: "not a terminal: use -yes to confirm"},
		{name: "declined", args: []string{"cleanup"}, extra: extra{terminal: true, answer: "n\n"}, wantErr: errAborted},
		{name: "empty answer", args: []string{"cleanup", "-school", "school-1"}, extra: extra{terminal: true, answer: "\n"}, wantErr: errAborted},
		{name: "confirmed", args: []string{"cleanup", "-school", "school-1"}, extra: extra{terminal: true, answer: "yes\n"}},
		{name: "all schools with -yes", args: []string{"cleanup", "-yes"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			cli := setup(t)
			now := time.Now()
			stale := testutil.CreateDevice(t, devRepo, testutil.Student("s1", "school-1"), "fp-aaaaaaaa", true, now.AddDate(0, 0, -31))
			fresh := testutil.CreateDevice(t, devRepo, testutil.Student("s2", "school-1"), "fp-aaaaaaaa", true, now.AddDate(0, 0, -1))

			ext, _ := tt.extra.(extra)
			isTerminalFunc = func() bool { return ext.terminal }
			readConfirmFunc = func() (string, error) { return ext.answer, nil }

			err := cli.run(args)
			checkErr(t, tt, err)

			wantStaleActive := err != nil
			if dev := getDevice(t, stale.ID); dev.Active() != wantStaleActive {
				t.Errorf("stale device active = %v, want %v", dev.Active(), wantStaleActive)
			}
			if dev := getDevice(t, fresh.ID); !dev.Active() {
				t.Error("fresh device was deactivated")
			}
		})
	}
}

func Test_commandLine_logoutDevice(t *testing.T) {
	cli := setup(t)
	dev := testutil.CreateDevice(t, devRepo, testutil.Student("s1", "school-1"), "fp-aaaaaaaa", true, time.Now())

	tests := []cliTest{
		{name: "unknown device", args: []string{"logoutdevice", "-school", "school-1", "-id", "nope"}, wantErr: device.ErrNotFound},
		{name: "wrong school", args: []string{"logoutdevice", "-school", "school-2", "-id", dev.ID}, wantErr: device.ErrNotFound},
		{name: "logout", args: []string{"logoutdevice", "-school", "school-1", "-id", dev.ID}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)

		t.Run(tt.name, func(t *testing.T) {
			checkErr(t, tt, cli.run(args))
		})
	}

	got := getDevice(t, dev.ID)
	if got.Active() {
		t.Error("device still active")
	}
	if got.RemovedReason != device.RemovedAdminRemoved {
		t.Errorf("RemovedReason = %q, want %q", got.RemovedReason, device.RemovedAdminRemoved)
	}
}

func getDevice(t *testing.T, id string) device.Device {
	t.Helper()
	dev, err := devRepo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetByID() failed, %v", err)
	}
	return dev
}
