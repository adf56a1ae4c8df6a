package main

import (
	"fmt"
	"log"
	"os"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/cleanup"
	"github.com/trezcool/masomo-live/core/device"
	"github.com/trezcool/masomo-live/core/tenant"
	logsvc "github.com/trezcool/masomo-live/services/logger"
	"github.com/trezcool/masomo-live/storage/database"
	sqlxrepos "github.com/trezcool/masomo-live/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}

	// set up services; notifications are not sent from the CLI
	tenants := tenant.NewService(sqlxrepos.NewTenantRepository(db), nil, logger)
	devices := device.NewService(sqlxrepos.NewDeviceRepository(db), tenants, nil, logger, conf)

	// start CLI
	cli := commandLine{
		db:      db.DB,
		devices: devices,
		sweeper: cleanup.NewScheduler(devices, tenants, logger, conf),
		out:     os.Stdout,
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("admin: %v", err), err)
		}
		os.Exit(1)
	}
}
