package domain

import (
	"time"

	"github.com/google/uuid"
)

type Privacy string

const (
	PrivacyPublic    Privacy = "public"
	PrivacyUnlisted  Privacy = "unlisted"
	PrivacyFollowers Privacy = "followers"
	PrivacyDirect    Privacy = "direct"
)

// Valid reports whether p is one of the known privacy levels.
func (p Privacy) Valid() bool {
	switch p {
	case PrivacyPublic, PrivacyUnlisted, PrivacyFollowers, PrivacyDirect:
		return true
	}
	return false
}

type StatusType string

const (
	StatusNote          StatusType = "Note"
	StatusGeneratedNote StatusType = "GeneratedNote"
	StatusComment       StatusType = "Comment"
	StatusQuotation     StatusType = "Quotation"
	StatusReview        StatusType = "Review"
)

// Status is a post. Deleted statuses are kept as tombstones.
type Status struct {
	Id            uuid.UUID
	URI           string
	ActorId       uuid.UUID
	Type          StatusType
	Name          string
	Content       string
	Quote         string
	Rating        float64
	ReplyParentId uuid.UUID // zero if not a reply
	BookId        uuid.UUID // zero if not about a book
	Privacy       Privacy
	Local         bool
	Published     time.Time
	Deleted       bool
	DeletedAt     *time.Time
	CreatedAt     time.Time
}

func (s *Status) IsReply() bool {
	return s.ReplyParentId != uuid.Nil
}
