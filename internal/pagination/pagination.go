// Package pagination holds the page/limit contract shared by every listing
// operation: query parameters in, {data,total,page,limit,totalPages} out.
package pagination

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 50
)

// Request is the normalized form of the page, limit and search query values.
type Request struct {
	Page    int               `json:"page"`
	Limit   int               `json:"limit"`
	Search  string            `json:"search,omitempty"`
	Filters map[string]string `json:"filters,omitempty"`
}

// Offset is the number of rows to skip for this page.
func (r Request) Offset() int {
	if r.Page < 1 {
		return 0
	}
	return (r.Page - 1) * r.Limit
}

// Clamp applies the same defaults and ceiling as Normalize to a Request
// that arrived already decoded, e.g. as an RPC payload.
func (r Request) Clamp(maxLimit int) Request {
	if maxLimit < 1 {
		maxLimit = MaxLimit
	}
	if r.Page < 1 {
		r.Page = DefaultPage
	}
	if r.Limit < 1 {
		r.Limit = DefaultLimit
	}
	if r.Limit > maxLimit {
		r.Limit = maxLimit
	}
	return r
}

// Response is the page envelope returned by listing operations.
type Response[T any] struct {
	Data       []T `json:"data"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

// Normalize turns raw query values into a Request. Missing or unparsable
// page/limit fall back to 1/10, limit is clamped to maxLimit (MaxLimit when
// maxLimit < 1). search and every other key pass through untouched.
func Normalize(values url.Values, maxLimit int) Request {
	if maxLimit < 1 {
		maxLimit = MaxLimit
	}

	req := Request{
		Page:  positiveInt(values.Get("page"), DefaultPage),
		Limit: limitValue(values.Get("limit"), maxLimit),
	}
	if req.Limit > maxLimit {
		req.Limit = maxLimit
	}
	req.Search = values.Get("search")

	for key, vals := range values {
		switch key {
		case "page", "limit", "search":
			continue
		}
		if len(vals) == 0 {
			continue
		}
		if req.Filters == nil {
			req.Filters = make(map[string]string)
		}
		req.Filters[key] = vals[0]
	}
	return req
}

// Wrap builds a Response. total is raised to len(items) when a caller
// under-reports it, items beyond limit are dropped, and totalPages is
// always derived here.
func Wrap[T any](items []T, total, page, limit int) Response[T] {
	if page < 1 {
		page = DefaultPage
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	if items == nil {
		items = []T{}
	}
	if len(items) > limit {
		items = items[:limit]
	}
	if total < len(items) {
		total = len(items)
	}

	return Response[T]{
		Data:       items,
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: TotalPages(total, limit),
	}
}

// TotalPages is ceil(total/limit), 0 when total is 0.
func TotalPages(total, limit int) int {
	if total <= 0 || limit < 1 {
		return 0
	}
	return (total + limit - 1) / limit
}

// limitValue is positiveInt for limit, except that a positive number too
// large for int counts as above the ceiling rather than unparsable.
func limitValue(raw string, maxLimit int) int {
	raw = strings.TrimSpace(raw)
	if _, err := strconv.Atoi(raw); errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(raw, "-") {
		return maxLimit
	}
	return positiveInt(raw, DefaultLimit)
}

func positiveInt(raw string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
