package web

import (
	"context"
	"fmt"
	"strings"

	"github.com/deemkeen/bookfed/activitypub"
	"github.com/deemkeen/bookfed/db"
	"github.com/deemkeen/bookfed/util"
)

// GetWebfinger answers a webfinger query for "acct:user@domain". Only
// resources on this instance's domain are known.
func GetWebfinger(ctx context.Context, database *db.DB, conf *util.AppConfig, resource string) (*activitypub.WebfingerResponse, error) {
	acct, ok := strings.CutPrefix(resource, "acct:")
	if !ok {
		return nil, fmt.Errorf("unsupported resource %q", resource)
	}
	username, host, ok := strings.Cut(strings.TrimPrefix(acct, "@"), "@")
	if !ok || !strings.EqualFold(host, conf.Conf.SslDomain) {
		return nil, fmt.Errorf("resource %q is not on this instance", resource)
	}

	acc, err := database.ReadLocalActorByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	if !acc.Active {
		return nil, fmt.Errorf("user %s is inactive", username)
	}
	return activitypub.WebfingerDocument(acc), nil
}

func GetWebFingerNotFound() map[string]string {
	return map[string]string{"detail": "Not Found"}
}
