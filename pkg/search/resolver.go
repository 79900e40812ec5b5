package search

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"vidarchive/pkg/domain"
)

// Lookup batch-loads referenced entities. Missing IDs are simply absent
// from the returned maps.
type Lookup interface {
	PersonsByIDs(ctx context.Context, ids []string) (map[string]domain.Person, error)
	ChannelsByIDs(ctx context.Context, ids []string) (map[string]domain.Channel, error)
}

// PersonSummary is the display subset of a person.
type PersonSummary struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Occupation []string `json:"occupation"`
	Image      string   `json:"image"`
}

// ChannelSummary is the display subset of a channel.
type ChannelSummary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

// PersonLink keeps the stored reference alongside the resolved person.
// Person is nil when the reference dangles.
type PersonLink struct {
	PersonID string         `json:"id"`
	Name     string         `json:"name"`
	Person   *PersonSummary `json:"person"`
}

// DisplayName prefers the live name over the stored snapshot.
func (l PersonLink) DisplayName() string {
	if l.Person != nil && l.Person.Name != "" {
		return l.Person.Name
	}
	return l.Name
}

type ChannelLink struct {
	ChannelID string          `json:"id"`
	Name      string          `json:"name"`
	Channel   *ChannelSummary `json:"channel"`
}

func (l ChannelLink) DisplayName() string {
	if l.Channel != nil && l.Channel.Name != "" {
		return l.Channel.Name
	}
	return l.Name
}

// ResolvedVideo is a video with its references expanded. The embedded
// video's raw references stay untouched.
type ResolvedVideo struct {
	domain.Video
	RelatedPeople []PersonLink  `json:"relatedPeople"`
	Channels      []ChannelLink `json:"channels"`
}

// Resolver expands person and channel references for a page of videos.
type Resolver struct {
	lookup Lookup
}

func NewResolver(lookup Lookup) *Resolver {
	return &Resolver{lookup: lookup}
}

// Resolve loads every referenced person and channel once and attaches
// their display fields. Dangling references resolve to nil.
func (r *Resolver) Resolve(ctx context.Context, videos []domain.Video) ([]ResolvedVideo, error) {
	personIDs, channelIDs := collectRefs(videos)

	var (
		persons  map[string]domain.Person
		channels map[string]domain.Channel
	)
	g, gctx := errgroup.WithContext(ctx)
	if len(personIDs) > 0 {
		g.Go(func() error {
			var err error
			persons, err = r.lookup.PersonsByIDs(gctx, personIDs)
			if err != nil {
				return fmt.Errorf("load persons: %w", err)
			}
			return nil
		})
	}
	if len(channelIDs) > 0 {
		g.Go(func() error {
			var err error
			channels, err = r.lookup.ChannelsByIDs(gctx, channelIDs)
			if err != nil {
				return fmt.Errorf("load channels: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]ResolvedVideo, 0, len(videos))
	for _, v := range videos {
		out = append(out, attach(v, persons, channels))
	}
	return out, nil
}

func attach(v domain.Video, persons map[string]domain.Person, channels map[string]domain.Channel) ResolvedVideo {
	rv := ResolvedVideo{
		Video:         v,
		RelatedPeople: make([]PersonLink, 0, len(v.RelatedPeople)),
		Channels:      make([]ChannelLink, 0, len(v.Channels)),
	}
	for _, ref := range v.RelatedPeople {
		link := PersonLink{PersonID: ref.PersonID, Name: ref.Name}
		if p, ok := persons[ref.PersonID]; ok {
			link.Person = &PersonSummary{ID: p.ID, Name: p.Name, Occupation: p.Occupation, Image: p.Image}
		}
		rv.RelatedPeople = append(rv.RelatedPeople, link)
	}
	for _, ref := range v.Channels {
		link := ChannelLink{ChannelID: ref.ChannelID, Name: ref.Name}
		if c, ok := channels[ref.ChannelID]; ok {
			link.Channel = &ChannelSummary{ID: c.ID, Name: c.Name, Image: c.Image}
		}
		rv.Channels = append(rv.Channels, link)
	}
	return rv
}

func collectRefs(videos []domain.Video) (personIDs, channelIDs []string) {
	seenPersons := make(map[string]struct{})
	seenChannels := make(map[string]struct{})
	for _, v := range videos {
		for _, ref := range v.RelatedPeople {
			if _, ok := seenPersons[ref.PersonID]; ok || ref.PersonID == "" {
				continue
			}
			seenPersons[ref.PersonID] = struct{}{}
			personIDs = append(personIDs, ref.PersonID)
		}
		for _, ref := range v.Channels {
			if _, ok := seenChannels[ref.ChannelID]; ok || ref.ChannelID == "" {
				continue
			}
			seenChannels[ref.ChannelID] = struct{}{}
			channelIDs = append(channelIDs, ref.ChannelID)
		}
	}
	return personIDs, channelIDs
}
