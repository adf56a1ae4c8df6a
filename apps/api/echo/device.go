package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core/device"
)

type deviceApi struct {
	svc      device.ServiceInterface
	cleanup  SchoolSweeper
	validate *validator.Validate
}

func registerDeviceAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	svc device.ServiceInterface,
	cleanup SchoolSweeper,
	validate *validator.Validate,
) {
	api := deviceApi{
		svc:      svc,
		cleanup:  cleanup,
		validate: validate,
	}

	dg := g.Group("/devices", jwt)
	dg.POST("/validate", api.validateDevice)
	dg.GET("", api.activeDevices)
	dg.GET("/stats", api.stats)
	dg.POST("/:id/logout", api.logout)

	g.GET("/schools/devices", api.schoolDevices, jwt, adminMiddleware())
	g.POST("/admin/devices/cleanup", api.runCleanup, jwt, adminMiddleware())
}

// Handlers

func (api *deviceApi) validateDevice(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	var data device.ValidateRequest
	if err := bindBody(ctx, &data, "ValidateRequest"); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	// the decision is always produced, even when admission could not be checked
	decision := api.svc.ValidateForSession(ctx.Request().Context(), p, data)
	return ctx.JSON(http.StatusOK, decision)
}

func (api *deviceApi) activeDevices(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	devs, err := api.svc.ActiveDevices(ctx.Request().Context(), p)
	if err != nil {
		return errors.Wrap(err, "listing active devices")
	}
	if devs == nil {
		devs = []device.Device{}
	}
	return ctx.JSON(http.StatusOK, devs)
}

func (api *deviceApi) stats(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	stats, err := api.svc.Stats(ctx.Request().Context(), p)
	if err != nil {
		return errors.Wrap(err, "computing device stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (api *deviceApi) logout(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	dev, err := api.svc.Logout(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "logging out device")
	}
	return ctx.JSON(http.StatusOK, dev)
}

func (api *deviceApi) schoolDevices(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	var filter device.QueryFilter
	if filter.IsActive, err = queryBool(ctx, "is_active"); err != nil {
		return err
	}
	filter.UserID = ctx.QueryParam("user_id")
	page, err := bindPagination(ctx)
	if err != nil {
		return err
	}
	ordering := new(Ordering)
	ordering.Bind(ctx)

	res, err := api.svc.SchoolDevices(ctx.Request().Context(), p.SchoolID, filter, ordering.Orderings, page)
	if err != nil {
		return errors.Wrap(err, "querying school devices")
	}
	return ctx.JSON(http.StatusOK, res)
}

func (api *deviceApi) runCleanup(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	n, err := api.cleanup.RunSchool(ctx.Request().Context(), p.SchoolID)
	if err != nil {
		return errors.Wrap(err, "cleaning up inactive devices")
	}
	return ctx.JSON(http.StatusOK, CleanupResponse{SchoolID: p.SchoolID, Deactivated: n})
}

type CleanupResponse struct {
	SchoolID    string `json:"schoolId"`
	Deactivated int    `json:"deactivated"`
}
