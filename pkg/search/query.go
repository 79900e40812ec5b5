package search

import (
	"fmt"
	"math"
	"strings"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

// Sort keys accepted for each entity.
var (
	VideoSortKeys   = []string{"datetime", "createdAt", "updatedAt", "title"}
	PersonSortKeys  = []string{"name", "createdAt", "updatedAt"}
	ChannelSortKeys = []string{"name", "createdAt", "updatedAt"}
)

// Default orders used when the client sends no sort.
var (
	DefaultVideoSort   = []SortField{{Key: "datetime", Desc: true}, {Key: "createdAt", Desc: true}}
	DefaultPersonSort  = []SortField{{Key: "createdAt", Desc: true}}
	DefaultChannelSort = []SortField{{Key: "createdAt", Desc: true}}
)

// SortField orders results by one public field name.
type SortField struct {
	Key  string
	Desc bool
}

// ParseSort reads a comma separated field list where a leading "-" means
// descending. Unknown fields yield ErrInvalidSort. An empty input returns
// fallback unchanged; a non-empty one replaces it outright.
func ParseSort(raw string, allowed []string, fallback []SortField) ([]SortField, error) {
	keys := SplitList(raw)
	if len(keys) == 0 {
		return fallback, nil
	}
	out := make([]SortField, 0, len(keys))
	for _, key := range keys {
		field := SortField{Key: key}
		if strings.HasPrefix(key, "-") {
			field = SortField{Key: strings.TrimPrefix(key, "-"), Desc: true}
		} else if strings.HasPrefix(key, "+") {
			field.Key = strings.TrimPrefix(key, "+")
		}
		if !contains(allowed, field.Key) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSort, field.Key)
		}
		out = append(out, field)
	}
	return out, nil
}

// Page is a one-based page window.
type Page struct {
	Number int
	Limit  int
}

// NewPage normalizes page inputs: non-positive values fall back to defaults,
// the limit is capped at max and the number is capped so Offset cannot overflow.
func NewPage(number, limit, defaultLimit, max int) Page {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	if max <= 0 {
		max = MaxLimit
	}
	if number <= 0 {
		number = DefaultPage
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > max {
		limit = max
	}
	if number > math.MaxInt/limit {
		number = math.MaxInt / limit
	}
	return Page{Number: number, Limit: limit}
}

// Offset is the number of records skipped before this page.
func (p Page) Offset() int {
	if p.Number <= 1 {
		return 0
	}
	return (p.Number - 1) * p.Limit
}

// TotalPages returns ceil(total/limit).
func TotalPages(total int64, limit int) int {
	if limit <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}

// Query is a filter plus its ordering and page window.
type Query struct {
	Filter Filter
	Sort   []SortField
	Page   Page
}

// Limits bounds page sizes when building a query.
type Limits struct {
	DefaultLimit int
	MaxLimit     int
}

// Build turns raw video search params into an executable query.
func Build(p Params, limits Limits) (Query, error) {
	filter, err := BuildFilter(p)
	if err != nil {
		return Query{}, err
	}
	order, err := ParseSort(p.Sort, VideoSortKeys, DefaultVideoSort)
	if err != nil {
		return Query{}, err
	}
	return Query{
		Filter: filter,
		Sort:   order,
		Page:   NewPage(p.Page, p.Limit, limits.DefaultLimit, limits.MaxLimit),
	}, nil
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
