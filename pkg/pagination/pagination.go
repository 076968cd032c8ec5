package pagination

import (
	"fmt"
	"strconv"

	"pulsechat-backend/pkg/constants"
)

// Params represents limit/offset query parameters
type Params struct {
	Limit  int
	Offset int
}

// Page is a page of results with the parameters that produced it
type Page struct {
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
	Count  int         `json:"count"`
	Items  interface{} `json:"items"`
}

// Parse reads limit and offset. An empty or non-positive limit falls back to
// constants.DefaultPageSize and a limit above constants.MaxPageSize is capped.
func Parse(limitStr, offsetStr string) (Params, error) {
	params := Params{Limit: constants.DefaultPageSize}

	if limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil {
			return Params{}, fmt.Errorf("invalid limit parameter: %w", err)
		}
		switch {
		case l < 1:
			params.Limit = constants.DefaultPageSize
		case l > constants.MaxPageSize:
			params.Limit = constants.MaxPageSize
		default:
			params.Limit = l
		}
	}

	if offsetStr != "" {
		o, err := strconv.Atoi(offsetStr)
		if err != nil {
			return Params{}, fmt.Errorf("invalid offset parameter: %w", err)
		}
		if o > 0 {
			params.Offset = o
		}
	}

	return params, nil
}

// NewPage wraps items returned for params
func NewPage(params Params, items interface{}, count int) Page {
	return Page{
		Limit:  params.Limit,
		Offset: params.Offset,
		Count:  count,
		Items:  items,
	}
}
