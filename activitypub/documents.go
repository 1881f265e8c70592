package activitypub

import (
	"strings"

	"github.com/deemkeen/bookfed/domain"
)

// NewLocalActor builds a local actor rooted at baseURL ("https://books.example").
// The caller stores it.
func NewLocalActor(baseURL, username, displayName, publicKeyPem, privateKeyPem string) *domain.Actor {
	baseURL = strings.TrimRight(baseURL, "/")
	uri := baseURL + "/user/" + username
	return &domain.Actor{
		Username:       username,
		Domain:         strings.TrimPrefix(strings.TrimPrefix(baseURL, "https://"), "http://"),
		ActorURI:       uri,
		DisplayName:    displayName,
		InboxURI:       uri + "/inbox",
		OutboxURI:      uri + "/outbox",
		SharedInboxURI: baseURL + "/inbox",
		PublicKeyPem:   publicKeyPem,
		PrivateKeyPem:  privateKeyPem,
		BookwyrmUser:   true,
	}
}

// ActorDocument renders a local actor as the Person served at its URI.
func ActorDocument(a *domain.Actor) *Person {
	name := a.DisplayName
	if name == "" {
		name = a.Username
	}
	doc := &Person{
		Context:                   []string{ContextActivityStreams, ContextSecurity},
		ID:                        a.ActorURI,
		Type:                      "Person",
		PreferredUsername:         a.Username,
		Name:                      name,
		Summary:                   a.Summary,
		Inbox:                     a.InboxURI,
		Outbox:                    a.OutboxURI,
		Followers:                 a.ActorURI + "/followers",
		PublicKey:                 PublicKey{ID: a.KeyId(), Owner: a.ActorURI, PublicKeyPem: a.PublicKeyPem},
		ManuallyApprovesFollowers: a.ManuallyApprovesFollowers,
		BookwyrmUser:              a.BookwyrmUser,
		Discoverable:              true,
	}
	if a.SharedInboxURI != "" {
		doc.Endpoints = &Endpoints{SharedInbox: a.SharedInboxURI}
	}
	return doc
}

// WebfingerDocument is the JRD answering acct:{username}@{domain}.
func WebfingerDocument(a *domain.Actor) *WebfingerResponse {
	return &WebfingerResponse{
		Subject: "acct:" + a.Username + "@" + a.Domain,
		Aliases: []string{a.ActorURI},
		Links: []WebfingerLink{
			{Rel: "self", Type: ContentTypeActivityJSON, Href: a.ActorURI},
		},
	}
}

// NodeInfoDocument describes this instance for nodeinfo 2.0.
func NodeInfoDocument(name, version string, users int) *NodeInfo {
	return &NodeInfo{
		Version:   "2.0",
		Software:  NodeInfoSoftware{Name: name, Version: version},
		Protocols: []string{"activitypub"},
		Usage:     NodeInfoUsage{Users: NodeInfoUsers{Total: users}},
		Metadata:  map[string]any{},
	}
}
