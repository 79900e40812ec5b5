package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence. List-valued fields are stored as jsonb
// arrays so the search query can inspect elements in SQL.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Username     string    `gorm:"uniqueIndex;not null"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Role         string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time
}

type PersonModel struct {
	ID          string         `gorm:"primaryKey"`
	Name        string         `gorm:"not null;index"`
	Occupation  datatypes.JSON `gorm:"type:jsonb"`
	Description string         `gorm:"type:text"`
	Aliases     datatypes.JSON `gorm:"type:jsonb"`
	Image       string
	CreatedAt   time.Time `gorm:"not null;index"`
	UpdatedAt   time.Time `gorm:"not null"`
}

type ChannelModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"not null;index"`
	Image     string
	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`
}

type VideoModel struct {
	ID            string `gorm:"primaryKey"`
	Title         string `gorm:"not null"`
	Description   string `gorm:"type:text"`
	VideoLink     string
	StorageKey    string
	ContentType   string
	SizeBytes     int64
	Keywords      datatypes.JSON `gorm:"type:jsonb"`
	RelatedPeople datatypes.JSON `gorm:"type:jsonb"`
	Channels      datatypes.JSON `gorm:"type:jsonb"`
	EventAt       time.Time      `gorm:"not null;index"`
	CreatedAt     time.Time      `gorm:"not null;index"`
	UpdatedAt     time.Time      `gorm:"not null"`
}
