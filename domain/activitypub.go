package domain

import (
	"time"

	"github.com/google/uuid"
)

// FollowRequest is a follow awaiting approval. URI is the id of the Follow activity.
type FollowRequest struct {
	Id        uuid.UUID
	URI       string
	SubjectId uuid.UUID // the follower
	ObjectId  uuid.UUID // the actor being followed
	CreatedAt time.Time
}

// Follow is an established follow relationship.
type Follow struct {
	Id        uuid.UUID
	URI       string
	SubjectId uuid.UUID
	ObjectId  uuid.UUID
	CreatedAt time.Time
}

// Block stops all federation between two actors, in both directions.
type Block struct {
	Id        uuid.UUID
	URI       string
	SubjectId uuid.UUID
	ObjectId  uuid.UUID
	CreatedAt time.Time
}

// Favorite represents a Like on a status
type Favorite struct {
	Id        uuid.UUID
	URI       string
	ActorId   uuid.UUID
	StatusId  uuid.UUID
	CreatedAt time.Time
}

// Boost represents an Announce of a status
type Boost struct {
	Id        uuid.UUID
	URI       string
	ActorId   uuid.UUID
	StatusId  uuid.UUID
	CreatedAt time.Time
}

type NotificationKind string

const (
	NotifyFollow        NotificationKind = "FOLLOW"
	NotifyFollowRequest NotificationKind = "FOLLOW_REQUEST"
	NotifyFavorite      NotificationKind = "FAVORITE"
	NotifyBoost         NotificationKind = "BOOST"
	NotifyReply         NotificationKind = "REPLY"
	NotifyMention       NotificationKind = "MENTION"
)

// Notification is shown to a local user. The zero uuid means "no related record".
type Notification struct {
	Id              uuid.UUID
	UserId          uuid.UUID
	Kind            NotificationKind
	RelatedActorId  uuid.UUID
	RelatedStatusId uuid.UUID
	Read            bool
	CreatedAt       time.Time
}
