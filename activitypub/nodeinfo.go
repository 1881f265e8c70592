package activitypub

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/deemkeen/bookfed/domain"
	"github.com/rs/zerolog/log"
)

const NodeInfoSchema20 = "http://nodeinfo.diaspora.software/ns/schema/2.0"

type NodeInfoLink struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

// NodeInfoLinks is the /.well-known/nodeinfo discovery document.
type NodeInfoLinks struct {
	Links []NodeInfoLink `json:"links"`
}

type NodeInfoSoftware struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type NodeInfoUsers struct {
	Total int `json:"total"`
}

type NodeInfoUsage struct {
	Users      NodeInfoUsers `json:"users"`
	LocalPosts int           `json:"localPosts,omitempty"`
}

// NodeInfo is the nodeinfo 2.0 document.
type NodeInfo struct {
	Version           string           `json:"version"`
	Software          NodeInfoSoftware `json:"software"`
	Protocols         []string         `json:"protocols"`
	Usage             NodeInfoUsage    `json:"usage"`
	OpenRegistrations bool             `json:"openRegistrations"`
	Metadata          map[string]any   `json:"metadata"`
}

// ResolveServer returns the FederatedServer hosting uri, discovering its
// software through nodeinfo on first contact. Discovery failures still create
// the server, with empty application fields.
func (r *Resolver) ResolveServer(ctx context.Context, uri string) (*domain.FederatedServer, error) {
	parsed, err := url.Parse(uri)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("invalid uri: %q", uri)
	}

	server, err := r.db.ReadServerByName(ctx, parsed.Host)
	if err == nil {
		return server, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	server = &domain.FederatedServer{ServerName: parsed.Host}
	software, err := r.discoverSoftware(ctx, parsed.Scheme+"://"+parsed.Host)
	if err != nil {
		log.Debug().Err(err).Str("server", parsed.Host).Msg("Resolver: nodeinfo discovery failed")
	} else {
		server.ApplicationType = software.Name
		server.ApplicationVersion = software.Version
	}
	return r.db.GetOrCreateServer(ctx, server)
}

func (r *Resolver) discoverSoftware(ctx context.Context, base string) (*NodeInfoSoftware, error) {
	var links NodeInfoLinks
	if err := r.getJSON(ctx, base+"/.well-known/nodeinfo", "application/json", &links); err != nil {
		return nil, err
	}
	if len(links.Links) == 0 || links.Links[0].Href == "" {
		return nil, fmt.Errorf("no nodeinfo links")
	}

	var info NodeInfo
	if err := r.getJSON(ctx, links.Links[0].Href, "application/json", &info); err != nil {
		return nil, err
	}
	return &info.Software, nil
}
