// Package pagination reads limit/offset query parameters and shapes list
// responses.
package pagination

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

type Window struct {
	Limit  int
	Offset int
}

// Parse reads ?limit= and ?offset=. Missing values take the defaults and a
// limit above MaxLimit is clamped; anything non-numeric or negative is a 400.
func Parse(c echo.Context) (Window, error) {
	w := Window{Limit: DefaultLimit}

	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Window{}, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("limit must be a positive integer, got %q", raw))
		}
		w.Limit = min(n, MaxLimit)
	}
	if raw := c.QueryParam("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Window{}, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("offset must be a non-negative integer, got %q", raw))
		}
		w.Offset = n
	}
	return w, nil
}

// Page is one slice of a list endpoint. NextOffset is omitted on the last page.
type Page[T any] struct {
	Items      []T  `json:"items"`
	Total      int  `json:"total"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"has_more"`
	NextOffset *int `json:"next_offset,omitempty"`
}

func NewPage[T any](items []T, total int, w Window) Page[T] {
	if items == nil {
		items = []T{}
	}
	p := Page[T]{
		Items:  items,
		Total:  total,
		Limit:  w.Limit,
		Offset: w.Offset,
	}
	if next := w.Offset + len(items); len(items) > 0 && next < total {
		p.HasMore = true
		p.NextOffset = &next
	}
	return p
}
