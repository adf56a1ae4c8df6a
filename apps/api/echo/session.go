package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
	"github.com/trezcool/masomo-live/core/session"
)

type sessionApi struct {
	svc      session.ServiceInterface
	validate *validator.Validate
}

func registerSessionAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc session.ServiceInterface, validate *validator.Validate) {
	api := sessionApi{
		svc:      svc,
		validate: validate,
	}

	sg := g.Group("/sessions", jwt)
	sg.POST("", api.create, teacherMiddleware())

	dg := sg.Group("/:id")
	dg.GET("", api.retrieve)
	dg.POST("/start", api.start)
	dg.POST("/end", api.end)
	dg.POST("/cancel", api.cancel)
	dg.POST("/join", api.join)
	dg.POST("/leave", api.leave)
	dg.POST("/mute", api.toggleMute)
	dg.POST("/hand/raise", api.raiseHand)
	dg.POST("/hand/lower", api.lowerHand)
	dg.GET("/participants", api.participants)
	dg.POST("/chat", api.addChatMessage)
	dg.GET("/chat", api.chatHistory)
}

// Handlers

func (api *sessionApi) create(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	var data session.NewSession
	if err := bindBody(ctx, &data, "NewSession"); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	s, err := api.svc.Create(ctx.Request().Context(), p, data)
	if err != nil {
		return errors.Wrap(err, "creating session")
	}
	return ctx.JSON(http.StatusCreated, s)
}

func (api *sessionApi) retrieve(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	s, err := api.svc.Get(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "getting session")
	}
	return ctx.JSON(http.StatusOK, s)
}

// transition runs one of the owner only state changes.
func (api *sessionApi) transition(
	ctx echo.Context,
	name string,
	fn func(p core.Principal) (session.Session, error),
) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	s, err := fn(p)
	if err != nil {
		return errors.Wrapf(err, "%s session", name)
	}
	return ctx.JSON(http.StatusOK, s)
}

func (api *sessionApi) start(ctx echo.Context) error {
	return api.transition(ctx, "starting", func(p core.Principal) (session.Session, error) {
		return api.svc.Start(ctx.Request().Context(), p, ctx.Param("id"))
	})
}

func (api *sessionApi) end(ctx echo.Context) error {
	var data session.EndSession
	if err := bindBody(ctx, &data, "EndSession"); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	return api.transition(ctx, "ending", func(p core.Principal) (session.Session, error) {
		return api.svc.End(ctx.Request().Context(), p, ctx.Param("id"), data)
	})
}

func (api *sessionApi) cancel(ctx echo.Context) error {
	return api.transition(ctx, "cancelling", func(p core.Principal) (session.Session, error) {
		return api.svc.Cancel(ctx.Request().Context(), p, ctx.Param("id"))
	})
}

func (api *sessionApi) join(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	var data session.JoinSession
	if err := bindBody(ctx, &data, "JoinSession"); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	part, err := api.svc.Join(ctx.Request().Context(), p, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "joining session")
	}
	return ctx.JSON(http.StatusOK, part)
}

func (api *sessionApi) leave(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	if err := api.svc.Leave(ctx.Request().Context(), p, ctx.Param("id")); err != nil {
		return errors.Wrap(err, "leaving session")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// participantResponse answers a roster toggle; nothing is changed when the user is not joined.
func participantResponse(ctx echo.Context, part *session.Participant) error {
	if part == nil {
		return ctx.NoContent(http.StatusNoContent)
	}
	return ctx.JSON(http.StatusOK, part)
}

func (api *sessionApi) toggleMute(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	var data session.MuteParticipant
	if err := bindBody(ctx, &data, "MuteParticipant"); err != nil {
		return err
	}

	part, err := api.svc.ToggleMute(ctx.Request().Context(), p, ctx.Param("id"), core.CleanString(data.UserID))
	if err != nil {
		return errors.Wrap(err, "toggling mute")
	}
	return participantResponse(ctx, part)
}

func (api *sessionApi) raiseHand(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	part, err := api.svc.RaiseHand(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "raising hand")
	}
	return participantResponse(ctx, part)
}

func (api *sessionApi) lowerHand(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	part, err := api.svc.LowerHand(ctx.Request().Context(), p, ctx.Param("id"))
	if err != nil {
		return errors.Wrap(err, "lowering hand")
	}
	return participantResponse(ctx, part)
}

func (api *sessionApi) participants(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}
	current, err := queryBool(ctx, "current")
	if err != nil {
		return err
	}

	parts, err := api.svc.Participants(ctx.Request().Context(), p, ctx.Param("id"), current != nil && *current)
	if err != nil {
		return errors.Wrap(err, "listing participants")
	}
	return ctx.JSON(http.StatusOK, parts)
}

func (api *sessionApi) addChatMessage(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}

	var data session.NewChatMessage
	if err := bindBody(ctx, &data, "NewChatMessage"); err != nil {
		return err
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	msg, err := api.svc.AddChatMessage(ctx.Request().Context(), p, ctx.Param("id"), data)
	if err != nil {
		return errors.Wrap(err, "adding chat message")
	}
	return ctx.JSON(http.StatusCreated, msg)
}

func (api *sessionApi) chatHistory(ctx echo.Context) error {
	p, err := getContextPrincipal(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context principal")
	}
	limit, err := queryInt(ctx, "limit")
	if err != nil {
		return err
	}

	msgs, err := api.svc.ChatHistory(ctx.Request().Context(), p, ctx.Param("id"), limit)
	if err != nil {
		return errors.Wrap(err, "reading chat history")
	}
	return ctx.JSON(http.StatusOK, msgs)
}
