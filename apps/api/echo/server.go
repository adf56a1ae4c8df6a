package echoapi

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/device"
	"github.com/trezcool/masomo-live/core/media"
	"github.com/trezcool/masomo-live/core/session"
)

type (
	// MediaRooms is the part of the media orchestrator exposed over HTTP.
	MediaRooms interface {
		RtpCapabilities(roomID string) (media.RtpCapabilities, error)
		CreateWebRtcTransport(ctx context.Context, roomID string, direction media.Direction) (media.TransportParams, error)
		ConnectTransport(ctx context.Context, roomID, transportID string, dtls media.DtlsParameters) error
		Produce(ctx context.Context, roomID, transportID string, kind media.Kind) (media.ProducerInfo, error)
		Consume(ctx context.Context, roomID, transportID, producerID string) (media.ConsumerInfo, error)
	}

	// SchoolSweeper runs the inactive devices cleanup of one school on demand.
	SchoolSweeper interface {
		RunSchool(ctx context.Context, schoolID string) (int, error)
	}

	ServerDeps struct {
		Conf           *core.Config
		Logger         core.Logger
		Devices        device.ServiceInterface
		Sessions       session.ServiceInterface
		Media          MediaRooms
		Cleanup        SchoolSweeper
		Validate       *validator.Validate
		Translator     ut.Translator
		DisableReqLogs bool
	}

	Server interface {
		http.Handler
		Start()
		Shutdown(ctx context.Context) error
		Close() error
		Errors() <-chan error
		ShutdownSignal() <-chan os.Signal
	}

	server struct {
		deps     ServerDeps
		app      *echo.Echo
		errors   chan error
		shutdown chan os.Signal
	}
)

var _ Server = (*server)(nil)

func NewServer(deps ServerDeps) Server {
	s := &server{
		deps:     deps,
		app:      echo.New(),
		errors:   make(chan error, 1),
		shutdown: make(chan os.Signal, 1),
	}
	signal.Notify(s.shutdown, os.Interrupt, syscall.SIGTERM)
	s.setup()
	return s
}

func (s *server) setup() {
	conf := s.deps.Conf

	s.app.HideBanner = true
	s.app.Pre(middleware.RemoveTrailingSlash())
	if !s.deps.DisableReqLogs {
		s.app.Use(middleware.Logger())
	}
	// do not recover in DEV|TEST mode
	if !(conf.Debug || conf.TestMode) {
		s.app.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{LogLevel: log.ERROR}))
	}

	s.app.HTTPErrorHandler = newAppHTTPErrorHandler(s.deps.Logger, s.deps.Translator, s.signalShutdown)
	s.app.Debug = conf.Debug

	s.app.GET("/", home)
	s.app.GET("/health", health)
	s.app.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.app.Group("/v1")
	jwt := middleware.JWTWithConfig(newJWTConfig(conf))

	registerDeviceAPI(v1, jwt, s.deps.Devices, s.deps.Cleanup, s.deps.Validate)
	registerSessionAPI(v1, jwt, s.deps.Sessions, s.deps.Validate)
	registerMediaAPI(v1, jwt, s.deps.Sessions, s.deps.Media, s.deps.Validate)
}

func (s *server) Start() {
	if err := s.app.Start(s.deps.Conf.Server.Host); err != nil && err != http.ErrServerClosed {
		s.errors <- errors.Wrap(err, "starting server")
	}
}

func (s *server) Shutdown(ctx context.Context) error {
	return s.app.Shutdown(ctx)
}

func (s *server) Close() error {
	return s.app.Close()
}

func (s *server) Errors() <-chan error {
	return s.errors
}

func (s *server) ShutdownSignal() <-chan os.Signal {
	return s.shutdown
}

func (s *server) signalShutdown() {
	select {
	case s.shutdown <- syscall.SIGTERM:
	default: // a shutdown is already pending
	}
}

func (s *server) ServeHTTP(w http.ResponseWriter, r *http.Request) { // for tests
	s.app.ServeHTTP(w, r)
}

func home(ctx echo.Context) error {
	return ctx.String(http.StatusOK, "Welcome to Masomo Live API!")
}

func health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, echo.Map{"status": "ok"})
}
