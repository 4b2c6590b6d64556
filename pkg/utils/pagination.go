package utils

import (
	"math"
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// Keeps (page-1)*pageSize from overflowing.
	maxPage = math.MaxInt32 / maxPageSize
)

// PaginationParams represents pagination parameters
type PaginationParams struct {
	Page     int
	PageSize int
	Offset   int
}

// GetPaginationParams extracts ?page and ?limit from the request. ok is
// false when the request asks for neither, in which case callers return
// everything.
func GetPaginationParams(c echo.Context) (params PaginationParams, ok bool) {
	rawPage, rawLimit := c.QueryParam("page"), c.QueryParam("limit")

	page, _ := strconv.Atoi(rawPage)
	pageSize, _ := strconv.Atoi(rawLimit)

	if page <= 0 {
		page = 1
	}
	if page > maxPage {
		page = maxPage
	}

	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}

	return PaginationParams{
		Page:     page,
		PageSize: pageSize,
		Offset:   (page - 1) * pageSize,
	}, rawPage != "" || rawLimit != ""
}

// Window returns the [start, end) bounds of the page within n items.
func (p PaginationParams) Window(n int) (start, end int) {
	start = p.Offset
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	end = start + p.PageSize
	if end > n {
		end = n
	}
	return start, end
}
