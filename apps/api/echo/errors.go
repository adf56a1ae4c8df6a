package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/cleanup"
	"github.com/trezcool/masomo-live/core/device"
	"github.com/trezcool/masomo-live/core/media"
	"github.com/trezcool/masomo-live/core/session"
)

var (
	errUnauthorized  = echo.NewHTTPError(http.StatusUnauthorized, "user not authenticated")
	errHttpForbidden = echo.NewHTTPError(http.StatusForbidden, "permission denied")
)

// errStatuses maps the domain errors callers are told about to their HTTP status.
var errStatuses = map[error]int{
	core.ErrForbidden:               http.StatusForbidden,
	device.ErrNotFound:              http.StatusNotFound,
	session.ErrNotFound:             http.StatusNotFound,
	session.ErrNotFoundOrWrongState: http.StatusNotFound,
	session.ErrNotActive:            http.StatusConflict,
	session.ErrClosed:               http.StatusConflict,
	session.ErrFull:                 http.StatusConflict,
	session.ErrNotJoined:            http.StatusForbidden,
	media.ErrRoomNotFound:           http.StatusNotFound,
	media.ErrTransportNotFound:      http.StatusNotFound,
	media.ErrProducerNotFound:       http.StatusNotFound,
	media.ErrWrongDirection:         http.StatusBadRequest,
	media.ErrNotInitialized:         http.StatusServiceUnavailable,
	media.ErrNoWorkers:              http.StatusServiceUnavailable,
	cleanup.ErrRunning:              http.StatusConflict,
}

// newAppHTTPErrorHandler returns a custom echo.HTTPErrorHandler that knows how to handle our errors.
// signalShutdown is called in order to gracefully shutdown the Server whenever a core.shutdown error is caught.
func newAppHTTPErrorHandler(logger core.Logger, translator ut.Translator, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, ctx echo.Context) {
		var code int
		var message interface{}

		cause := errors.Cause(err)
		if status, ok := errStatuses[cause]; ok {
			code = status
			message = cause.Error()
		} else {
			switch origErr := cause.(type) {
			case *echo.HTTPError:
				if origErr == middleware.ErrJWTMissing {
					code = http.StatusUnauthorized
					message = origErr.Message
					break
				}
				if origErr.Internal != nil {
					if herr, ok := origErr.Internal.(*echo.HTTPError); ok {
						origErr = herr
					}
				}
				code = origErr.Code
				message = origErr.Message
			case *session.DeviceLimitError:
				code = http.StatusForbidden
				message = echo.Map{
					"error":   origErr.Error(),
					"reason":  origErr.Decision.Reason,
					"limit":   origErr.Decision.Limit,
					"current": origErr.Decision.Current,
				}
			case validator.ValidationErrors:
				fldErrs := make(map[string]string, len(origErr))
				for _, vErr := range origErr {
					fldErrs[vErr.Field()] = vErr.Translate(translator)
				}
				code = http.StatusBadRequest
				message = fldErrs
			case *core.ValidationError:
				if origErr.Fields != nil {
					fldErrs := make(map[string]string, len(origErr.Fields))
					for _, fErr := range origErr.Fields {
						fldErrs[fErr.Field] = fErr.Error
					}
					message = fldErrs
				} else {
					message = origErr.Error()
				}
				code = http.StatusBadRequest
			default: // any other error is a server error
				code = http.StatusInternalServerError
				msg := http.StatusText(http.StatusInternalServerError)
				message = msg

				p, _ := getContextPrincipal(ctx)
				logger.Error(msg, errors.Wrap(err, msg), p)

				// shutting down...
				if core.IsShutdown(err) {
					signalShutdown()
				}
			}
		}

		if ctx.Echo().Debug && code == http.StatusInternalServerError {
			message = err.Error()
		}
		if m, ok := message.(string); ok {
			message = echo.Map{"error": m}
		}

		// Send response
		if !ctx.Response().Committed {
			if ctx.Request().Method == http.MethodHead { // Issue #608
				err = ctx.NoContent(code)
			} else {
				err = ctx.JSON(code, message)
			}
			if err != nil {
				ctx.Echo().Logger.Error(err)
			}
		}
	}
}
