package domain

import "time"

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         UserRole  `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Person is someone who can appear in videos.
type Person struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Occupation  []string  `json:"occupation"`
	Description string    `json:"description"`
	Aliases     []string  `json:"aliases"`
	Image       string    `json:"image"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type Channel struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Image     string    `json:"image"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PersonRef links a video to a person. Name is a snapshot of the
// person's name taken when the reference was written or last renamed.
type PersonRef struct {
	PersonID string `json:"person"`
	Name     string `json:"name"`
}

// ChannelRef links a video to a channel with a snapshot of its name.
type ChannelRef struct {
	ChannelID string `json:"channel"`
	Name      string `json:"name"`
}

// Video is a catalogued media file. EventAt is when the depicted event
// happened and is distinct from CreatedAt.
type Video struct {
	ID            string       `json:"id"`
	Title         string       `json:"title"`
	Description   string       `json:"description"`
	VideoLink     string       `json:"videoLink"`
	StorageKey    string       `json:"-"`
	ContentType   string       `json:"contentType,omitempty"`
	SizeBytes     int64        `json:"sizeBytes"`
	Keywords      []string     `json:"keywords"`
	RelatedPeople []PersonRef  `json:"relatedPeople"`
	Channels      []ChannelRef `json:"channels"`
	EventAt       time.Time    `json:"datetime"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// PersonIDs returns the referenced person IDs in order.
func (v Video) PersonIDs() []string {
	ids := make([]string, 0, len(v.RelatedPeople))
	for _, ref := range v.RelatedPeople {
		ids = append(ids, ref.PersonID)
	}
	return ids
}

// ChannelIDs returns the referenced channel IDs in order.
func (v Video) ChannelIDs() []string {
	ids := make([]string, 0, len(v.Channels))
	for _, ref := range v.Channels {
		ids = append(ids, ref.ChannelID)
	}
	return ids
}
