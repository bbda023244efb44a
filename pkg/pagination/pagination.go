// Package pagination parses limit/offset query parameters.
package pagination

import (
	"errors"
	"strconv"

	"github.com/labstack/echo/v4"
)

var (
	ErrInvalidLimit  = errors.New("limit must be a non-negative integer")
	ErrInvalidOffset = errors.New("offset must be a non-negative integer")
)

// Params holds pagination parameters extracted from a request.
type Params struct {
	Limit  int
	Offset int
}

// Parse reads ?limit= and ?offset=. A missing or zero limit becomes
// defaultLimit; a limit above maxLimit is clamped. Malformed or negative
// values are rejected rather than silently replaced.
func Parse(c echo.Context, defaultLimit, maxLimit int) (Params, error) {
	p := Params{Limit: defaultLimit}

	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, ErrInvalidLimit
		}
		if n > 0 {
			p.Limit = n
		}
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}

	if v := c.QueryParam("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, ErrInvalidOffset
		}
		p.Offset = n
	}

	return p, nil
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// NextOffset returns the offset for the next page.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}
