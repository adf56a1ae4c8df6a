package echoapi

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/masomo-live/core"
)

var orderingParam = "ordering"

type Ordering struct {
	Orderings []core.DBOrdering
}

func (ord *Ordering) Bind(ctx echo.Context) {
	val := ctx.QueryParam(orderingParam)
	if val == "" {
		return
	}

	for _, field := range strings.Split(val, ",") {
		field = strings.TrimSpace(field)
		descending := strings.HasPrefix(field, "-")
		if descending {
			field = field[1:] // drop "-"
		}
		if field != "" {
			ord.Orderings = append(ord.Orderings, core.DBOrdering{Field: field, Ascending: !descending})
		}
	}
}

func newFieldError(field, msg string) error {
	return core.NewValidationError(nil, core.FieldError{Field: field, Error: msg})
}

// queryInt reads an optional integer query param.
func queryInt(ctx echo.Context, name string) (int, error) {
	val := ctx.QueryParam(name)
	if val == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, newFieldError(name, name+" must be an integer")
	}
	return n, nil
}

// queryBool reads an optional boolean query param.
func queryBool(ctx echo.Context, name string) (*bool, error) {
	val := ctx.QueryParam(name)
	if val == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return nil, newFieldError(name, name+" must be a boolean")
	}
	return &b, nil
}

func bindPagination(ctx echo.Context) (core.Pagination, error) {
	var page core.Pagination
	var err error
	if page.Page, err = queryInt(ctx, "page"); err != nil {
		return page, err
	}
	if page.Limit, err = queryInt(ctx, "limit"); err != nil {
		return page, err
	}
	return page.Clean(), nil
}

// bindBody binds the JSON body; an empty body leaves data untouched.
func bindBody(ctx echo.Context, data interface{}, name string) error {
	if ctx.Request().ContentLength == 0 {
		return nil
	}
	return errors.Wrapf(ctx.Bind(data), "binding to %s", name)
}
