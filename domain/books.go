package domain

import (
	"time"

	"github.com/google/uuid"
)

type BookType string

const (
	BookEdition BookType = "Edition"
	BookWork    BookType = "Work"
)

// Book is an Edition or a Work. Sync marks copies whose origin may overwrite
// them through Update activities.
type Book struct {
	Id          uuid.UUID
	URI         string
	Type        BookType
	Title       string
	Subtitle    string
	Description string
	Isbn13      string
	Sync        bool
	UpdatedAt   time.Time
	CreatedAt   time.Time
}

type Shelf struct {
	Id         uuid.UUID
	URI        string
	ActorId    uuid.UUID
	Name       string
	Identifier string
	CreatedAt  time.Time
}

type Tag struct {
	Id        uuid.UUID
	Name      string
	CreatedAt time.Time
}
