package search

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// TopN is how many people and channels the frequency tables keep.
const TopN = 5

// Scope selects which results feed the aggregation.
type Scope string

const (
	// ScopePage aggregates only the requested page.
	ScopePage Scope = "page"
	// ScopeAll aggregates every video matching the filter, up to a cap.
	ScopeAll Scope = "all"
)

// ParseScope defaults to ScopePage on empty input.
func ParseScope(raw string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(ScopePage):
		return ScopePage, nil
	case string(ScopeAll):
		return ScopeAll, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidScope, raw)
	}
}

// Count is one row of a frequency table.
type Count struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// MonthBucket counts videos whose event fell in one calendar month.
type MonthBucket struct {
	Date   string `json:"date"`
	Videos int    `json:"videos"`
}

// Summary totals. Keywords sums list lengths; duplicates across videos count.
type Summary struct {
	Videos   int `json:"videos"`
	People   int `json:"people"`
	Periods  int `json:"periods"`
	Keywords int `json:"keywords"`
}

// Analytics is the aggregate over a set of resolved videos.
type Analytics struct {
	Scope     Scope         `json:"scope"`
	Truncated bool          `json:"truncated"`
	People    []Count       `json:"people"`
	Channels  []Count       `json:"channels"`
	Months    []MonthBucket `json:"months"`
	Summary   Summary       `json:"summary"`
}

// Aggregate computes statistics over videos without any further lookups.
// Months are bucketed in loc; nil means UTC.
func Aggregate(videos []ResolvedVideo, loc *time.Location) Analytics {
	if loc == nil {
		loc = time.UTC
	}
	people := newTally()
	channels := newTally()
	type monthKey struct {
		year  int
		month time.Month
	}
	months := make(map[monthKey]int)
	keywords := 0

	for _, v := range videos {
		for _, link := range v.RelatedPeople {
			people.add(link.DisplayName())
		}
		for _, link := range v.Channels {
			channels.add(link.DisplayName())
		}
		local := v.EventAt.In(loc)
		months[monthKey{local.Year(), local.Month()}]++
		keywords += len(v.Keywords)
	}

	keys := make([]monthKey, 0, len(months))
	for k := range months {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].year != keys[j].year {
			return keys[i].year < keys[j].year
		}
		return keys[i].month < keys[j].month
	})
	buckets := make([]MonthBucket, 0, len(keys))
	for _, k := range keys {
		label := time.Date(k.year, k.month, 1, 0, 0, 0, 0, loc).Format("Jan 2006")
		buckets = append(buckets, MonthBucket{Date: label, Videos: months[k]})
	}

	return Analytics{
		People:   people.top(TopN),
		Channels: channels.top(TopN),
		Months:   buckets,
		Summary: Summary{
			Videos:   len(videos),
			People:   people.distinct(),
			Periods:  len(buckets),
			Keywords: keywords,
		},
	}
}

// tally counts names and remembers first-seen order for stable ties.
type tally struct {
	order  []string
	counts map[string]int
}

func newTally() *tally {
	return &tally{counts: make(map[string]int)}
}

func (t *tally) add(name string) {
	if name == "" {
		return
	}
	if _, ok := t.counts[name]; !ok {
		t.order = append(t.order, name)
	}
	t.counts[name]++
}

func (t *tally) distinct() int { return len(t.order) }

func (t *tally) top(n int) []Count {
	out := make([]Count, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, Count{Name: name, Value: t.counts[name]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	if len(out) > n {
		out = out[:n]
	}
	return out
}
