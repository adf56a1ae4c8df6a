package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core/media"
	"github.com/trezcool/masomo-live/core/session"
)

type mediaApi struct {
	sessions session.ServiceInterface
	rooms    MediaRooms
	validate *validator.Validate
}

func registerMediaAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	sessions session.ServiceInterface,
	rooms MediaRooms,
	validate *validator.Validate,
) {
	api := mediaApi{
		sessions: sessions,
		rooms:    rooms,
		validate: validate,
	}

	// shares its prefix with the sessions API: a group middleware would shadow the session routes
	mg := g.Group("/sessions/:id")
	mg.GET("/rtp-capabilities", api.rtpCapabilities, jwt)
	mg.POST("/transport", api.createTransport, jwt)
	mg.POST("/transport/:transportId/connect", api.connectTransport, jwt)
	mg.POST("/transport/:transportId/produce", api.produce, jwt)
	mg.POST("/transport/:transportId/consume", api.consume, jwt)
}

// roomID resolves the routing room of the session in the path. Only participants currently joined get it.
func (api *mediaApi) roomID(ctx echo.Context) (string, error) {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return "", errors.Wrap(err, "getting context principal")
	}
	s, err := api.sessions.RequireJoined(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return "", errors.Wrap(err, "checking session participant")
	}
	return s.RoomID, nil
}

// Handlers

func (api *mediaApi) rtpCapabilities(ctx echo.Context) error {
	roomID, err := api.roomID(ctx)
	if err != nil {
		return err
	}

	caps, err := api.rooms.RtpCapabilities(roomID)
	if err != nil {
		return errors.Wrap(err, "reading RTP capabilities")
	}
	return ctx.JSON(http.StatusOK, caps)
}

func (api *mediaApi) createTransport(ctx echo.Context) error {
	roomID, err := api.roomID(ctx)
	if err != nil {
		return err
	}

	var data media.NewTransport
	if err := bindBody(ctx, &data, "NewTransport"); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	params, err := api.rooms.CreateWebRtcTransport(ctx.Request().Context(), roomID, data.Direction)
	if err != nil {
		return errors.Wrap(err, "creating transport")
	}
	return ctx.JSON(http.StatusCreated, params)
}

func (api *mediaApi) connectTransport(ctx echo.Context) error {
	roomID, err := api.roomID(ctx)
	if err != nil {
		return err
	}

	var data media.ConnectTransport
	if err := bindBody(ctx, &data, "ConnectTransport"); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	err = api.rooms.ConnectTransport(ctx.Request().Context(), roomID, ctx.Param("transportId"), data.DtlsParameters)
	if err != nil {
		return errors.Wrap(err, "connecting transport")
	}
	return ctx.NoContent(http.StatusNoContent)
}

func (api *mediaApi) produce(ctx echo.Context) error {
	roomID, err := api.roomID(ctx)
	if err != nil {
		return err
	}

	var data media.NewProducer
	if err := bindBody(ctx, &data, "NewProducer"); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	prod, err := api.rooms.Produce(ctx.Request().Context(), roomID, ctx.Param("transportId"), data.Kind)
	if err != nil {
		return errors.Wrap(err, "producing")
	}
	return ctx.JSON(http.StatusCreated, prod)
}

func (api *mediaApi) consume(ctx echo.Context) error {
	roomID, err := api.roomID(ctx)
	if err != nil {
		return err
	}

	var data media.NewConsumer
	if err := bindBody(ctx, &data, "NewConsumer"); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	cons, err := api.rooms.Consume(ctx.Request().Context(), roomID, ctx.Param("transportId"), data.ProducerID)
	if err != nil {
		return errors.Wrap(err, "consuming")
	}
	return ctx.JSON(http.StatusCreated, cons)
}
