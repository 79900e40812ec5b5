package app

import (
	"context"
	"fmt"
	"strings"

	"vidarchive/internal/util"
	"vidarchive/internal/validation"
	"vidarchive/pkg/domain"
	"vidarchive/pkg/search"
)

type ChannelInput struct {
	Name  string `json:"name" validate:"required,max=200"`
	Image string `json:"image" validate:"omitempty,max=2048"`
}

type ChannelPatch struct {
	Name  *string `json:"name"`
	Image *string `json:"image"`
}

func (a *App) CreateChannel(ctx context.Context, in ChannelInput) (domain.Channel, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Image = strings.TrimSpace(in.Image)
	if err := validation.Struct(in); err != nil {
		return domain.Channel{}, err
	}
	now := a.now()
	c := domain.Channel{ID: util.NewID(), Name: in.Name, Image: in.Image, CreatedAt: now, UpdatedAt: now}
	if err := a.store.SaveChannel(ctx, c); err != nil {
		return domain.Channel{}, fmt.Errorf("save channel: %w", err)
	}
	return c, nil
}

func (a *App) GetChannel(ctx context.Context, id string) (domain.Channel, error) {
	if !util.IsID(id) {
		return domain.Channel{}, ErrChannelNotFound
	}
	c, ok, err := a.store.GetChannel(ctx, id)
	if err != nil {
		return domain.Channel{}, fmt.Errorf("get channel %s: %w", id, err)
	}
	if !ok {
		return domain.Channel{}, ErrChannelNotFound
	}
	return c, nil
}

func (a *App) ListChannels(ctx context.Context, p ListParams) (PageResult[domain.Channel], error) {
	order, err := search.ParseSort(p.Sort, search.ChannelSortKeys, search.DefaultChannelSort)
	if err != nil {
		return PageResult[domain.Channel]{}, err
	}
	page := a.page(p)
	items, total, err := a.store.ListChannels(ctx, order, page)
	if err != nil {
		return PageResult[domain.Channel]{}, fmt.Errorf("list channels: %w", err)
	}
	return PageResult[domain.Channel]{Items: items, Total: total, Page: page}, nil
}

// SearchChannels matches query literally against channel names, newest first.
func (a *App) SearchChannels(ctx context.Context, query string) ([]domain.Channel, error) {
	out, err := a.store.SearchChannels(ctx, search.NewPattern(strings.TrimSpace(query)), a.limits.MaxLimit)
	if err != nil {
		return nil, fmt.Errorf("search channels: %w", err)
	}
	return out, nil
}

func (a *App) UpdateChannel(ctx context.Context, id string, patch ChannelPatch) (domain.Channel, error) {
	current, err := a.GetChannel(ctx, id)
	if err != nil {
		return domain.Channel{}, err
	}
	in := ChannelInput{Name: current.Name, Image: current.Image}
	if patch.Name != nil {
		in.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Image != nil {
		in.Image = strings.TrimSpace(*patch.Image)
	}
	if err := validation.Struct(in); err != nil {
		return domain.Channel{}, err
	}
	updated := current
	updated.Name = in.Name
	updated.Image = in.Image
	updated.UpdatedAt = a.now()
	renamed := updated.Name != current.Name
	if renamed {
		if err := a.store.RenameChannelRefs(ctx, id, updated.Name); err != nil {
			return domain.Channel{}, fmt.Errorf("rename channel refs: %w", err)
		}
	}
	if err := a.store.SaveChannel(ctx, updated); err != nil {
		if renamed {
			if rerr := a.store.RenameChannelRefs(ctx, id, current.Name); rerr != nil {
				util.LoggerFromContext(ctx).Error("restore channel refs failed", "channel_id", id, "err", rerr)
			}
		}
		return domain.Channel{}, fmt.Errorf("save channel: %w", err)
	}
	return updated, nil
}

// DeleteChannel is not blocked by referencing videos; their references
// resolve to null afterwards.
func (a *App) DeleteChannel(ctx context.Context, id string) error {
	deleted, err := a.store.DeleteChannel(ctx, id)
	if err != nil {
		return fmt.Errorf("delete channel %s: %w", id, err)
	}
	if !deleted {
		return ErrChannelNotFound
	}
	return nil
}
