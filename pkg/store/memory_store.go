package store

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"vidarchive/pkg/domain"
	"vidarchive/pkg/search"
)

// MemoryStore keeps the catalogue in-process. It backs tests and the
// "memory" store driver; data is lost on restart.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[string]domain.User // key: user ID
	email    map[string]string      // email -> user ID
	persons  map[string]domain.Person
	channels map[string]domain.Channel
	videos   map[string]domain.Video
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]domain.User),
		email:    make(map[string]string),
		persons:  make(map[string]domain.Person),
		channels: make(map[string]domain.Channel),
		videos:   make(map[string]domain.Video),
	}
}

// users

func (m *MemoryStore) SaveUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.users[u.ID]; ok {
		delete(m.email, prev.Email)
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

func (m *MemoryStore) HasUserEmail(_ context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

func (m *MemoryStore) HasUsername(_ context.Context, username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.email[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByID(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) ListUsers(_ context.Context) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b domain.User) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), strings.Compare(a.ID, b.ID))
	})
	return out, nil
}

func (m *MemoryStore) UserCount(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.users)), nil
}

// persons

func (m *MemoryStore) SavePerson(_ context.Context, p domain.Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.persons[p.ID] = clonePerson(p)
	return nil
}

func (m *MemoryStore) GetPerson(_ context.Context, id string) (domain.Person, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.persons[id]
	return clonePerson(p), ok, nil
}

func (m *MemoryStore) ListPersons(_ context.Context, order []search.SortField, page search.Page) ([]domain.Person, int64, error) {
	m.mu.RLock()
	all := make([]domain.Person, 0, len(m.persons))
	for _, p := range m.persons {
		all = append(all, clonePerson(p))
	}
	m.mu.RUnlock()
	slices.SortFunc(all, func(a, b domain.Person) int {
		return compareBy(order, func(key string) int {
			return compareEntity(key, a.Name, b.Name, a.CreatedAt, b.CreatedAt, a.UpdatedAt, b.UpdatedAt)
		}, a.ID, b.ID)
	})
	return paginate(all, page), int64(len(all)), nil
}

func (m *MemoryStore) SearchPersons(_ context.Context, text search.Pattern, limit int) ([]domain.Person, error) {
	m.mu.RLock()
	type ranked struct {
		person domain.Person
		rank   int
	}
	matches := make([]ranked, 0)
	for _, p := range m.persons {
		if rank := search.RankPerson(p, text); rank > 0 {
			matches = append(matches, ranked{person: clonePerson(p), rank: rank})
		}
	}
	m.mu.RUnlock()
	slices.SortFunc(matches, func(a, b ranked) int {
		return cmp.Or(
			cmp.Compare(b.rank, a.rank),
			b.person.CreatedAt.Compare(a.person.CreatedAt),
			strings.Compare(a.person.ID, b.person.ID),
		)
	})
	out := make([]domain.Person, 0, len(matches))
	for _, r := range matches {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, r.person)
	}
	return out, nil
}

func (m *MemoryStore) PersonsByIDs(_ context.Context, ids []string) (map[string]domain.Person, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.Person, len(ids))
	for _, id := range ids {
		if p, ok := m.persons[id]; ok {
			out[id] = clonePerson(p)
		}
	}
	return out, nil
}

func (m *MemoryStore) DeletePerson(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.persons[id]; !ok {
		return false, nil
	}
	delete(m.persons, id)
	return true, nil
}

// channels

func (m *MemoryStore) SaveChannel(_ context.Context, c domain.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[c.ID] = c
	return nil
}

func (m *MemoryStore) GetChannel(_ context.Context, id string) (domain.Channel, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.channels[id]
	return c, ok, nil
}

func (m *MemoryStore) ListChannels(_ context.Context, order []search.SortField, page search.Page) ([]domain.Channel, int64, error) {
	m.mu.RLock()
	all := make([]domain.Channel, 0, len(m.channels))
	for _, c := range m.channels {
		all = append(all, c)
	}
	m.mu.RUnlock()
	slices.SortFunc(all, func(a, b domain.Channel) int {
		return compareBy(order, func(key string) int {
			return compareEntity(key, a.Name, b.Name, a.CreatedAt, b.CreatedAt, a.UpdatedAt, b.UpdatedAt)
		}, a.ID, b.ID)
	})
	return paginate(all, page), int64(len(all)), nil
}

func (m *MemoryStore) SearchChannels(_ context.Context, text search.Pattern, limit int) ([]domain.Channel, error) {
	m.mu.RLock()
	out := make([]domain.Channel, 0)
	for _, c := range m.channels {
		if text.MatchString(c.Name) {
			out = append(out, c)
		}
	}
	m.mu.RUnlock()
	slices.SortFunc(out, func(a, b domain.Channel) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), strings.Compare(a.ID, b.ID))
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ChannelsByIDs(_ context.Context, ids []string) (map[string]domain.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]domain.Channel, len(ids))
	for _, id := range ids {
		if c, ok := m.channels[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (m *MemoryStore) DeleteChannel(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[id]; !ok {
		return false, nil
	}
	delete(m.channels, id)
	return true, nil
}

// videos

func (m *MemoryStore) SaveVideo(_ context.Context, v domain.Video) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videos[v.ID] = cloneVideo(v)
	return nil
}

func (m *MemoryStore) GetVideo(_ context.Context, id string) (domain.Video, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.videos[id]
	return cloneVideo(v), ok, nil
}

func (m *MemoryStore) DeleteVideo(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.videos[id]; !ok {
		return false, nil
	}
	delete(m.videos, id)
	return true, nil
}

func (m *MemoryStore) SearchVideos(_ context.Context, q search.Query) ([]domain.Video, int64, error) {
	m.mu.RLock()
	matched := make([]domain.Video, 0)
	for _, v := range m.videos {
		if q.Filter.Matches(v) {
			matched = append(matched, cloneVideo(v))
		}
	}
	m.mu.RUnlock()
	slices.SortFunc(matched, func(a, b domain.Video) int {
		return compareBy(q.Sort, func(key string) int {
			switch key {
			case "datetime":
				return a.EventAt.Compare(b.EventAt)
			case "title":
				return strings.Compare(a.Title, b.Title)
			default:
				return compareEntity(key, "", "", a.CreatedAt, b.CreatedAt, a.UpdatedAt, b.UpdatedAt)
			}
		}, a.ID, b.ID)
	})
	return paginate(matched, q.Page), int64(len(matched)), nil
}

func (m *MemoryStore) CountVideosByPerson(_ context.Context, personID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var count int64
	for _, v := range m.videos {
		if slices.Contains(v.PersonIDs(), personID) {
			count++
		}
	}
	return count, nil
}

func (m *MemoryStore) RenamePersonRefs(_ context.Context, personID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, v := range m.videos {
		changed := false
		for i := range v.RelatedPeople {
			if v.RelatedPeople[i].PersonID == personID {
				v.RelatedPeople[i].Name = name
				changed = true
			}
		}
		if changed {
			m.videos[id] = v
		}
	}
	return nil
}

func (m *MemoryStore) RenameChannelRefs(_ context.Context, channelID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, v := range m.videos {
		changed := false
		for i := range v.Channels {
			if v.Channels[i].ChannelID == channelID {
				v.Channels[i].Name = name
				changed = true
			}
		}
		if changed {
			m.videos[id] = v
		}
	}
	return nil
}

// compareBy applies the sort fields in order and falls back to id.
func compareBy(order []search.SortField, byKey func(key string) int, idA, idB string) int {
	for _, field := range order {
		c := byKey(field.Key)
		if field.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return strings.Compare(idA, idB)
}

func compareEntity(key, nameA, nameB string, createdA, createdB, updatedA, updatedB time.Time) int {
	switch key {
	case "name":
		return strings.Compare(nameA, nameB)
	case "createdAt":
		return createdA.Compare(createdB)
	case "updatedAt":
		return updatedA.Compare(updatedB)
	default:
		return 0
	}
}

func paginate[T any](items []T, page search.Page) []T {
	start := page.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := len(items)
	if page.Limit > 0 && start+page.Limit < end {
		end = start + page.Limit
	}
	return items[start:end]
}

func clonePerson(p domain.Person) domain.Person {
	p.Occupation = slices.Clone(p.Occupation)
	p.Aliases = slices.Clone(p.Aliases)
	return p
}

func cloneVideo(v domain.Video) domain.Video {
	v.Keywords = slices.Clone(v.Keywords)
	v.RelatedPeople = slices.Clone(v.RelatedPeople)
	v.Channels = slices.Clone(v.Channels)
	return v
}
