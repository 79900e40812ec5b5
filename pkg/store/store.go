package store

import (
	"context"

	"vidarchive/pkg/domain"
	"vidarchive/pkg/search"
)

// Store defines persistence operations for users, persons, channels and videos.
// Lookups return found=false with a nil error when the record does not exist.
type Store interface {
	// users
	SaveUser(ctx context.Context, u domain.User) error
	HasUserEmail(ctx context.Context, email string) (bool, error)
	HasUsername(ctx context.Context, username string) (bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	UserCount(ctx context.Context) (int64, error)

	// persons
	SavePerson(ctx context.Context, p domain.Person) error
	GetPerson(ctx context.Context, id string) (domain.Person, bool, error)
	ListPersons(ctx context.Context, order []search.SortField, page search.Page) ([]domain.Person, int64, error)
	SearchPersons(ctx context.Context, text search.Pattern, limit int) ([]domain.Person, error)
	PersonsByIDs(ctx context.Context, ids []string) (map[string]domain.Person, error)
	DeletePerson(ctx context.Context, id string) (bool, error)

	// channels
	SaveChannel(ctx context.Context, c domain.Channel) error
	GetChannel(ctx context.Context, id string) (domain.Channel, bool, error)
	ListChannels(ctx context.Context, order []search.SortField, page search.Page) ([]domain.Channel, int64, error)
	SearchChannels(ctx context.Context, text search.Pattern, limit int) ([]domain.Channel, error)
	ChannelsByIDs(ctx context.Context, ids []string) (map[string]domain.Channel, error)
	DeleteChannel(ctx context.Context, id string) (bool, error)

	// videos
	SaveVideo(ctx context.Context, v domain.Video) error
	GetVideo(ctx context.Context, id string) (domain.Video, bool, error)
	DeleteVideo(ctx context.Context, id string) (bool, error)
	SearchVideos(ctx context.Context, q search.Query) ([]domain.Video, int64, error)
	CountVideosByPerson(ctx context.Context, personID string) (int64, error)

	// RenamePersonRefs and RenameChannelRefs refresh the name snapshots
	// stored on every video referencing the entity.
	RenamePersonRefs(ctx context.Context, personID, name string) error
	RenameChannelRefs(ctx context.Context, channelID, name string) error
}

// SessionStore issues and validates bearer tokens.
type SessionStore interface {
	NewSession(ctx context.Context, userID string) (string, error)
	GetUserIDByToken(ctx context.Context, token string) (string, bool, error)
	DeleteSession(ctx context.Context, token string) error
}
