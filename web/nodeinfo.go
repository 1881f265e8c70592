package web

import (
	"context"

	"github.com/deemkeen/bookfed/activitypub"
	"github.com/deemkeen/bookfed/db"
	"github.com/deemkeen/bookfed/util"
)

func GetNodeInfoLinks(conf *util.AppConfig) *activitypub.NodeInfoLinks {
	return &activitypub.NodeInfoLinks{Links: []activitypub.NodeInfoLink{{
		Rel:  activitypub.NodeInfoSchema20,
		Href: conf.BaseURL() + "/nodeinfo/2.0",
	}}}
}

func GetNodeInfo(ctx context.Context, database *db.DB) (*activitypub.NodeInfo, error) {
	users, err := database.CountLocalActors(ctx)
	if err != nil {
		return nil, err
	}
	return activitypub.NodeInfoDocument(util.Name, util.GetVersion(), users), nil
}
