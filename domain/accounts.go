package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Actor is a local or remote user. ActorURI is the canonical ActivityPub id
// and never changes once stored.
type Actor struct {
	Id                        uuid.UUID
	Username                  string
	Domain                    string // server name, back-reference to FederatedServer
	ActorURI                  string
	DisplayName               string
	Summary                   string
	InboxURI                  string
	OutboxURI                 string
	SharedInboxURI            string
	PublicKeyPem              string
	PrivateKeyPem             string // local actors only
	Local                     bool
	ManuallyApprovesFollowers bool
	BookwyrmUser              bool
	Active                    bool
	LastFetchedAt             time.Time
	CreatedAt                 time.Time
}

// KeyId returns the id of the actor's main signing key.
func (a *Actor) KeyId() string {
	return a.ActorURI + "#main-key"
}

// DeliveryInbox returns the physical inbox activities should be posted to,
// preferring the server-wide shared inbox.
func (a *Actor) DeliveryInbox() string {
	if a.SharedInboxURI != "" {
		return a.SharedInboxURI
	}
	return a.InboxURI
}

func (a *Actor) ToString() string {
	return fmt.Sprintf("\n\tId: %s \n\tUsername: %s \n\tDomain: %s \n\tActorURI: %s \n\tLocal: %t)", a.Id, a.Username, a.Domain, a.ActorURI, a.Local)
}

// ServerStatus is the moderation state of a remote server.
type ServerStatus string

const (
	ServerFederated ServerStatus = "federated"
	ServerBlocked   ServerStatus = "blocked"
)

// FederatedServer is a remote instance, discovered lazily through nodeinfo.
type FederatedServer struct {
	Id                 uuid.UUID
	ServerName         string
	Status             ServerStatus
	ApplicationType    string
	ApplicationVersion string
	CreatedAt          time.Time
}

func (s *FederatedServer) Blocked() bool {
	return s != nil && s.Status == ServerBlocked
}
