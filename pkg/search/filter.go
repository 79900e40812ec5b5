// Package search builds catalogue queries, resolves video references and
// aggregates result statistics. Nothing in this package touches storage.
package search

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"vidarchive/pkg/domain"
)

var (
	ErrInvalidDate  = errors.New("invalid date")
	ErrInvalidSort  = errors.New("invalid sort field")
	ErrInvalidScope = errors.New("invalid analytics scope")
)

// Params is the raw, optional set of search inputs as received from a client.
// Empty fields are ignored.
type Params struct {
	Query     string
	StartDate string
	EndDate   string
	People    string // comma separated person IDs
	Channels  string // comma separated channel IDs
	Keywords  string // comma separated keywords
	Page      int
	Limit     int
	Sort      string
}

// Pattern is a literal, case-insensitive substring matcher. Expr is the
// escaped regular expression so stores with regex support can evaluate the
// same predicate.
type Pattern struct {
	literal string
	expr    string
	re      *regexp.Regexp
}

// NewPattern escapes all regex metacharacters in literal.
func NewPattern(literal string) Pattern {
	expr := regexp.QuoteMeta(literal)
	return Pattern{
		literal: literal,
		expr:    expr,
		re:      regexp.MustCompile("(?i)" + expr),
	}
}

// IsZero reports whether the pattern is unset.
func (p Pattern) IsZero() bool { return p.re == nil }

// Literal returns the unescaped input.
func (p Pattern) Literal() string { return p.literal }

// Expr returns the escaped expression without flags.
func (p Pattern) Expr() string { return p.expr }

// MatchString reports whether s contains the literal, ignoring case.
func (p Pattern) MatchString(s string) bool {
	if p.re == nil {
		return false
	}
	return p.re.MatchString(s)
}

func (p Pattern) matchAny(values []string) bool {
	for _, v := range values {
		if p.MatchString(v) {
			return true
		}
	}
	return false
}

// Filter is the composite predicate over videos. All set clauses must hold;
// Text holds when any of the text fields contains it.
type Filter struct {
	Text       Pattern
	From       *time.Time
	To         *time.Time
	PersonIDs  []string
	ChannelIDs []string
	Keywords   []Pattern
}

// IsEmpty reports whether no clause is active.
func (f Filter) IsEmpty() bool {
	return f.Text.IsZero() && f.From == nil && f.To == nil &&
		len(f.PersonIDs) == 0 && len(f.ChannelIDs) == 0 && len(f.Keywords) == 0
}

// BuildFilter translates params into a Filter. Absent params are omitted.
// A malformed date yields ErrInvalidDate.
func BuildFilter(p Params) (Filter, error) {
	f := Filter{}
	if q := strings.TrimSpace(p.Query); q != "" {
		f.Text = NewPattern(q)
	}
	if raw := strings.TrimSpace(p.StartDate); raw != "" {
		from, err := parseDate(raw)
		if err != nil {
			return Filter{}, fmt.Errorf("startDate %q: %w", raw, err)
		}
		f.From = &from
	}
	if raw := strings.TrimSpace(p.EndDate); raw != "" {
		to, err := parseDate(raw)
		if err != nil {
			return Filter{}, fmt.Errorf("endDate %q: %w", raw, err)
		}
		f.To = &to
	}
	f.PersonIDs = SplitList(p.People)
	f.ChannelIDs = SplitList(p.Channels)
	for _, kw := range SplitList(p.Keywords) {
		f.Keywords = append(f.Keywords, NewPattern(kw))
	}
	return f, nil
}

// Matches evaluates the filter against a video using its stored name snapshots.
func (f Filter) Matches(v domain.Video) bool {
	if !f.Text.IsZero() && !f.matchesText(v) {
		return false
	}
	if f.From != nil && v.EventAt.Before(*f.From) {
		return false
	}
	if f.To != nil && v.EventAt.After(*f.To) {
		return false
	}
	if len(f.PersonIDs) > 0 && !intersects(f.PersonIDs, v.PersonIDs()) {
		return false
	}
	if len(f.ChannelIDs) > 0 && !intersects(f.ChannelIDs, v.ChannelIDs()) {
		return false
	}
	if len(f.Keywords) > 0 {
		found := false
		for _, kw := range f.Keywords {
			if kw.matchAny(v.Keywords) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (f Filter) matchesText(v domain.Video) bool {
	if f.Text.MatchString(v.Title) || f.Text.MatchString(v.Description) || f.Text.matchAny(v.Keywords) {
		return true
	}
	for _, ref := range v.RelatedPeople {
		if f.Text.MatchString(ref.Name) {
			return true
		}
	}
	for _, ref := range v.Channels {
		if f.Text.MatchString(ref.Name) {
			return true
		}
	}
	return false
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	time.DateOnly,
}

// parseDate accepts RFC 3339 timestamps and bare calendar dates. A bare date
// is midnight UTC, for the end bound as well as the start bound.
func parseDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, ErrInvalidDate
}

// SplitList splits a comma separated value, trimming blanks.
func SplitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func intersects(want, have []string) bool {
	if len(have) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(want))
	for _, id := range want {
		set[id] = struct{}{}
	}
	for _, id := range have {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}
