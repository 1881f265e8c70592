package activitypub

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/deemkeen/bookfed/domain"
)

type WebfingerLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type,omitempty"`
	Href string `json:"href,omitempty"`
}

// WebfingerResponse is the JRD document served at /.well-known/webfinger.
type WebfingerResponse struct {
	Subject string          `json:"subject"`
	Aliases []string        `json:"aliases,omitempty"`
	Links   []WebfingerLink `json:"links"`
}

// SelfLink returns the ActivityPub actor URI advertised by the document.
func (w *WebfingerResponse) SelfLink() string {
	for _, link := range w.Links {
		if link.Rel != "self" {
			continue
		}
		if link.Type == ContentTypeActivityJSON || strings.HasPrefix(link.Type, "application/ld+json") {
			return link.Href
		}
	}
	return ""
}

// Webfinger looks up "user@domain" and returns the actor URI.
func (r *Resolver) Webfinger(ctx context.Context, handle string) (string, error) {
	handle = strings.TrimPrefix(handle, "@")
	username, host, ok := strings.Cut(handle, "@")
	if !ok || username == "" || host == "" {
		return "", fmt.Errorf("invalid handle: %q", handle)
	}

	resource := url.QueryEscape("acct:" + username + "@" + host)
	endpoint := fmt.Sprintf("%s://%s/.well-known/webfinger?resource=%s", r.scheme, host, resource)

	var doc WebfingerResponse
	if err := r.getJSON(ctx, endpoint, "application/jrd+json", &doc); err != nil {
		return "", fmt.Errorf("%w: %w", ErrActorUnreachable, err)
	}
	actorURI := doc.SelfLink()
	if actorURI == "" {
		return "", fmt.Errorf("%w: no ActivityPub link for %s", ErrActorUnreachable, handle)
	}
	return actorURI, nil
}

// ResolveHandle resolves "user@domain" to an actor.
func (r *Resolver) ResolveHandle(ctx context.Context, handle string) (*domain.Actor, error) {
	actorURI, err := r.Webfinger(ctx, handle)
	if err != nil {
		return nil, err
	}
	return r.Resolve(ctx, actorURI)
}
