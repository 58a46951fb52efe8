package types

import (
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultListLimit = 50
	MinListLimit     = 1
	MaxListLimit     = 200
)

// ListParams are the bounded query parameters accepted by tenant-scoped list
// endpoints. Since is nil when no filter was supplied.
type ListParams struct {
	Limit int
	Since *time.Time
}

// ParseListParams reads "limit" and "since" from a query string. It never
// fails: a limit that is missing, non-numeric, or below the minimum becomes
// DefaultListLimit; a limit above the maximum is clamped to MaxListLimit; an
// unparseable "since" is ignored.
func ParseListParams(q url.Values) ListParams {
	p := ListParams{Limit: DefaultListLimit}

	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			switch {
			case n < MinListLimit:
				p.Limit = DefaultListLimit
			case n > MaxListLimit:
				p.Limit = MaxListLimit
			default:
				p.Limit = n
			}
		}
	}

	if raw := strings.TrimSpace(q.Get("since")); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			t = t.UTC()
			p.Since = &t
		}
	}

	return p
}

// PageInfo contains pagination metadata for list responses.
type PageInfo struct {
	HasMore bool `json:"has_more"`
	Limit   int  `json:"limit"`
}

// ListResponse is a generic paginated response wrapper.
type ListResponse[T any] struct {
	Data     []T      `json:"data"`
	PageInfo PageInfo `json:"pagination"`
}

// NewListResponse trims a result set fetched with limit+1 rows down to limit
// and records whether more rows exist.
func NewListResponse[T any](items []T, limit int) ListResponse[T] {
	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{
		Data:     items,
		PageInfo: PageInfo{HasMore: hasMore, Limit: limit},
	}
}

// ResponseMeta contains non-blocking metadata returned with API responses.
type ResponseMeta struct {
	Warnings []string `json:"warnings,omitempty"`
}
