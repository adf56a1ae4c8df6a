package main

import (
	"context"
	"fmt"

	"github.com/trezcool/masomo-live/core"
)

func (cli *commandLine) cleanup(schoolID string) error {
	ctx := context.Background()
	if schoolID != "" {
		n, err := cli.sweeper.RunSchool(ctx, schoolID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "school %s: %d devices deactivated\n", schoolID, n)
		return nil
	}

	report, err := cli.sweeper.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%d devices deactivated in %d schools\n", report.Deactivated, report.Schools)
	for _, f := range report.Failures {
		fmt.Fprintf(cli.out, "  school %s failed: %s\n", f.SchoolID, f.Error)
	}
	return nil
}

// logoutDevice deactivates a device as a school admin would.
func (cli *commandLine) logoutDevice(schoolID, deviceID string) error {
	p := core.Principal{UserID: cliAdminID, SchoolID: schoolID, Role: core.RoleAdmin}
	dev, err := cli.devices.Logout(context.Background(), p, deviceID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "device %s of user %s deactivated (%s)\n", dev.ID, dev.UserID, dev.RemovedReason)
	return nil
}
