package app

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"vidarchive/internal/util"
	"vidarchive/internal/validation"
	"vidarchive/pkg/domain"
	"vidarchive/pkg/search"
)

// PersonInput is the writable part of a person.
type PersonInput struct {
	Name        string   `json:"name" validate:"required,max=200"`
	Occupation  []string `json:"occupation" validate:"max=20,dive,max=100"`
	Description string   `json:"description" validate:"max=5000"`
	Aliases     []string `json:"aliases" validate:"max=50,dive,max=200"`
	Image       string   `json:"image" validate:"omitempty,max=2048"`
}

// PersonPatch carries the fields present in a PATCH body.
type PersonPatch struct {
	Name        *string   `json:"name"`
	Occupation  *[]string `json:"occupation"`
	Description *string   `json:"description"`
	Aliases     *[]string `json:"aliases"`
	Image       *string   `json:"image"`
}

func (in *PersonInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	in.Image = strings.TrimSpace(in.Image)
	in.Occupation = trimAll(in.Occupation)
	in.Aliases = trimAll(in.Aliases)
}

// CreatePerson validates and stores a new person.
func (a *App) CreatePerson(ctx context.Context, in PersonInput) (domain.Person, error) {
	in.normalize()
	if err := validation.Struct(in); err != nil {
		return domain.Person{}, err
	}
	now := a.now()
	p := domain.Person{
		ID:          util.NewID(),
		Name:        in.Name,
		Occupation:  in.Occupation,
		Description: in.Description,
		Aliases:     in.Aliases,
		Image:       in.Image,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.SavePerson(ctx, p); err != nil {
		return domain.Person{}, fmt.Errorf("save person: %w", err)
	}
	return p, nil
}

func (a *App) GetPerson(ctx context.Context, id string) (domain.Person, error) {
	if !util.IsID(id) {
		return domain.Person{}, ErrPersonNotFound
	}
	p, ok, err := a.store.GetPerson(ctx, id)
	if err != nil {
		return domain.Person{}, fmt.Errorf("get person %s: %w", id, err)
	}
	if !ok {
		return domain.Person{}, ErrPersonNotFound
	}
	return p, nil
}

// ListPersons returns one page of persons, newest first unless sorted otherwise.
func (a *App) ListPersons(ctx context.Context, p ListParams) (PageResult[domain.Person], error) {
	order, err := search.ParseSort(p.Sort, search.PersonSortKeys, search.DefaultPersonSort)
	if err != nil {
		return PageResult[domain.Person]{}, err
	}
	page := a.page(p)
	items, total, err := a.store.ListPersons(ctx, order, page)
	if err != nil {
		return PageResult[domain.Person]{}, fmt.Errorf("list persons: %w", err)
	}
	return PageResult[domain.Person]{Items: items, Total: total, Page: page}, nil
}

// SearchPersons matches query literally against name, aliases, occupation
// and description, best matching field first. An empty query lists the
// newest persons.
func (a *App) SearchPersons(ctx context.Context, query string) ([]domain.Person, error) {
	out, err := a.store.SearchPersons(ctx, search.NewPattern(strings.TrimSpace(query)), a.limits.MaxLimit)
	if err != nil {
		return nil, fmt.Errorf("search persons: %w", err)
	}
	return out, nil
}

// UpdatePerson applies patch and rewrites the name snapshot held by
// referencing videos when the name changes. Snapshots are rewritten before the
// person is saved and restored if the save fails.
func (a *App) UpdatePerson(ctx context.Context, id string, patch PersonPatch) (domain.Person, error) {
	current, err := a.GetPerson(ctx, id)
	if err != nil {
		return domain.Person{}, err
	}
	in := PersonInput{
		Name:        current.Name,
		Occupation:  current.Occupation,
		Description: current.Description,
		Aliases:     current.Aliases,
		Image:       current.Image,
	}
	if patch.Name != nil {
		in.Name = *patch.Name
	}
	if patch.Occupation != nil {
		in.Occupation = *patch.Occupation
	}
	if patch.Description != nil {
		in.Description = *patch.Description
	}
	if patch.Aliases != nil {
		in.Aliases = *patch.Aliases
	}
	if patch.Image != nil {
		in.Image = *patch.Image
	}
	in.normalize()
	if err := validation.Struct(in); err != nil {
		return domain.Person{}, err
	}
	renamed := in.Name != current.Name
	updated := current
	updated.Name = in.Name
	updated.Occupation = slices.Clone(in.Occupation)
	updated.Description = in.Description
	updated.Aliases = slices.Clone(in.Aliases)
	updated.Image = in.Image
	updated.UpdatedAt = a.now()
	if renamed {
		if err := a.store.RenamePersonRefs(ctx, id, updated.Name); err != nil {
			return domain.Person{}, fmt.Errorf("rename person refs: %w", err)
		}
	}
	if err := a.store.SavePerson(ctx, updated); err != nil {
		if renamed {
			if rerr := a.store.RenamePersonRefs(ctx, id, current.Name); rerr != nil {
				util.LoggerFromContext(ctx).Error("restore person refs failed", "person_id", id, "err", rerr)
			}
		}
		return domain.Person{}, fmt.Errorf("save person: %w", err)
	}
	return updated, nil
}

// DeletePerson refuses while any video still references the person.
func (a *App) DeletePerson(ctx context.Context, id string) error {
	if _, err := a.GetPerson(ctx, id); err != nil {
		return err
	}
	refs, err := a.store.CountVideosByPerson(ctx, id)
	if err != nil {
		return fmt.Errorf("count person refs: %w", err)
	}
	if refs > 0 {
		return ErrPersonReferenced
	}
	deleted, err := a.store.DeletePerson(ctx, id)
	if err != nil {
		return fmt.Errorf("delete person %s: %w", id, err)
	}
	if !deleted {
		return ErrPersonNotFound
	}
	return nil
}
