package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	echoapi "github.com/trezcool/masomo-live/apps/api/echo"
	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/cleanup"
	"github.com/trezcool/masomo-live/core/device"
	"github.com/trezcool/masomo-live/core/media"
	"github.com/trezcool/masomo-live/core/session"
	"github.com/trezcool/masomo-live/core/tenant"
	emailsvc "github.com/trezcool/masomo-live/services/email"
	logsvc "github.com/trezcool/masomo-live/services/logger"
	"github.com/trezcool/masomo-live/services/media/pionsfu"
	"github.com/trezcool/masomo-live/services/notify"
	rediscache "github.com/trezcool/masomo-live/storage/cache/redis"
	"github.com/trezcool/masomo-live/storage/database"
	inmemdb "github.com/trezcool/masomo-live/storage/database/inmem"
	sqlxrepos "github.com/trezcool/masomo-live/storage/database/sqlx"
)

type repositories struct {
	devices  device.Repository
	sessions session.Repository
	tenants  tenant.Repository
	close    func() error
}

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := newLogger("API : ", conf)
	dbLogger := newLogger("DB : ", conf)
	mediaLogger := newLogger("MEDIA : ", conf)
	cleanupLogger := newLogger("CLEANUP : ", conf)

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	// set up DB
	repos, err := setUpRepositories(conf)
	if err != nil {
		dbLogger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err := repos.close(); err != nil {
			dbLogger.Error(fmt.Sprintf("closing database: %v", err), err)
		}
	}()

	// set up tenant config cache
	var tenantCache tenant.Cache
	if conf.Redis.Addr != "" {
		client, err := rediscache.Connect(conf)
		if err != nil {
			logger.Fatal(fmt.Sprintf("connecting to redis: %v", err), err)
		}
		defer func() { _ = client.Close() }()
		tenantCache = rediscache.NewTenantCache(client, conf.Redis.TenantConfigTTL)
	}

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger, log.New(os.Stdout, "EMAIL : ", log.LstdFlags))
	} else {
		mailSvc = emailsvc.NewSendgridService(conf, logger)
	}
	tenants := tenant.NewService(repos.tenants, tenantCache, logger)
	notifier := notify.NewEmailNotifier(tenants, mailSvc, logger)
	defer notifier.Wait()
	devices := device.NewService(repos.devices, tenants, notifier, logger, conf)

	orch := media.NewOrchestrator(pionsfu.NewWorkerFactory(conf, mediaLogger), conf.Media.Workers, mediaLogger, nil)
	sessions := session.NewService(repos.sessions, devices, orch, notifier, logger)
	sweeper := cleanup.NewScheduler(devices, tenants, cleanupLogger, conf)

	// =========================================================================
	// Initialize App

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	device.InitValidators(validate, translator)
	session.InitValidators(validate, translator)
	media.InitValidators(validate, translator)

	core.ParseEmailTemplates(logger, !conf.Debug)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err = orch.Initialize(ctx); err != nil {
		mediaLogger.Fatal(fmt.Sprintf("initializing media orchestrator: %v", err), err)
	}
	defer func() {
		if err := orch.Close(); err != nil {
			mediaLogger.Error(fmt.Sprintf("closing media orchestrator: %v", err), err)
		}
	}()

	sweeper.Start(ctx)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.NewInt("media_workers").Set(int64(conf.Media.Workers))

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:       conf,
			Logger:     logger,
			Devices:    devices,
			Sessions:   sessions,
			Media:      orch,
			Cleanup:    sweeper,
			Validate:   validate,
			Translator: translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancelShutdown()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(shutdownCtx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func newLogger(prefix string, conf *core.Config) *logsvc.RollbarLogger {
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, prefix, log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)
	return logger
}

func setUpRepositories(conf *core.Config) (repositories, error) {
	if conf.Database.InMemory {
		db := inmemdb.Open()
		return repositories{
			devices:  inmemdb.NewDeviceRepository(db),
			sessions: inmemdb.NewSessionRepository(db),
			tenants:  inmemdb.NewTenantRepository(db),
			close:    func() error { return nil },
		}, nil
	}

	if err := database.CreateIfNotExist(conf); err != nil {
		return repositories{}, err
	}
	db, err := database.Open(conf)
	if err != nil {
		return repositories{}, err
	}
	if err = database.Migrate(db.DB); err != nil {
		_ = db.Close()
		return repositories{}, err
	}
	return repositories{
		devices:  sqlxrepos.NewDeviceRepository(db),
		sessions: sqlxrepos.NewSessionRepository(db),
		tenants:  sqlxrepos.NewTenantRepository(db),
		close:    db.Close,
	}, nil
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
